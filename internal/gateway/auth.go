package gateway

import (
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/vaultlink/bridge/internal/errors"
	"github.com/vaultlink/bridge/internal/pairing"
	"github.com/vaultlink/bridge/internal/store"
)

// fingerprintHeader carries the client fingerprint on every
// authenticated request. The token was bound to this value at pairing
// time and the two must match.
const fingerprintHeader = "X-Client-Fingerprint"

// extractBearerToken pulls the token out of the Authorization header.
// Returns "" if the header is missing or not a Bearer scheme.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// authenticate validates the bearer token and fingerprint on a request.
// On failure it writes the 401 response and returns nil. Unknown,
// revoked, and fingerprint-mismatched tokens all produce the same
// response body; an expired token gets its own code so the extension
// knows to pair again.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) *store.TokenRecord {
	secret := extractBearerToken(r)
	if secret == "" {
		writeError(w, http.StatusUnauthorized, apperrors.AuthRequired())
		return nil
	}

	fp := r.Header.Get(fingerprintHeader)

	rec, err := g.pairing.Validate(secret, fp)
	if err != nil {
		if errors.Is(err, pairing.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, apperrors.AuthExpired())
			return nil
		}
		writeError(w, http.StatusUnauthorized, apperrors.AuthInvalid())
		return nil
	}
	return rec
}

// authedHandler is a credential endpoint handler that receives the
// validated token record.
type authedHandler func(w http.ResponseWriter, r *http.Request, rec *store.TokenRecord)

// requireAuth wraps a credential endpoint with POST-only and bearer token
// enforcement.
func (g *Gateway) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only POST is allowed"))
			return
		}
		rec := g.authenticate(w, r)
		if rec == nil {
			return
		}
		next(w, r, rec)
	}
}
