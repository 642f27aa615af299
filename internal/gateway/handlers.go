package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaultlink/bridge/internal/approval"
	"github.com/vaultlink/bridge/internal/audit"
	apperrors "github.com/vaultlink/bridge/internal/errors"
	"github.com/vaultlink/bridge/internal/fingerprint"
	"github.com/vaultlink/bridge/internal/pairing"
	"github.com/vaultlink/bridge/internal/store"
	"github.com/vaultlink/bridge/internal/vault"
)

// statusResponse is the body of GET /v1/status.
type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Locked        bool   `json:"locked"`
	PairingActive bool   `json:"pairing_active"`
}

// handleStatus reports liveness without requiring authentication. It
// deliberately reveals nothing beyond lock state and whether a pairing
// code is waiting.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only GET is allowed"))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		Version:       g.version,
		Locked:        g.vault.Locked(),
		PairingActive: g.pairing.HasActiveCode(),
	})
}

// pairRequest is the JSON body for POST /v1/pair.
type pairRequest struct {
	// Code is the 6-digit code displayed by `vaultlink pair`.
	Code string `json:"code"`

	// Fingerprint is the extension's stable client fingerprint. The
	// issued token is bound to it.
	Fingerprint string `json:"fingerprint"`

	// BrowserLabel is a friendly name (e.g., "Firefox on laptop").
	BrowserLabel string `json:"browser_label"`
}

// pairResponse is returned on successful pairing. Token is the raw
// secret, returned exactly once.
type pairResponse struct {
	TokenID   string    `json:"token_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handlePair exchanges a pairing code for a bearer token.
func (g *Gateway) handlePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only POST is allowed"))
		return
	}

	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("gateway: failed to parse pair request: %v", err)
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("invalid JSON body"))
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("pairing code is required"))
		return
	}

	label := req.BrowserLabel
	if label == "" {
		label = "Unknown Browser"
	}

	rec, secret, err := g.pairing.Redeem(req.Code, req.Fingerprint, label)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrFingerprintInvalid):
			writeError(w, http.StatusBadRequest, apperrors.InvalidFingerprint())
		case errors.Is(err, pairing.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, apperrors.PairRateLimited())
		case errors.Is(err, pairing.ErrCodeExpired):
			writeError(w, http.StatusUnauthorized, apperrors.ExpiredCode())
		case errors.Is(err, pairing.ErrCodeInvalid):
			writeError(w, http.StatusUnauthorized, apperrors.InvalidCode())
		default:
			log.Printf("gateway: unexpected error during pairing: %v", err)
			writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to complete pairing", err))
		}
		return
	}

	writeJSON(w, http.StatusOK, pairResponse{
		TokenID:   rec.ID,
		Token:     secret,
		ExpiresAt: rec.ExpiresAt,
	})
}

// generateCodeResponse is the body of POST /v1/pair/generate.
type generateCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handlePairGenerate issues a fresh pairing code. Loopback-only; this is
// what `vaultlink pair` calls.
func (g *Gateway) handlePairGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only POST is allowed"))
		return
	}

	// The fingerprint hint is optional and the body may be absent.
	var req struct {
		FingerprintHint string `json:"fingerprint_hint"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	code, err := g.pairing.IssueCode(req.FingerprintHint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to generate pairing code", err))
		return
	}

	writeJSON(w, http.StatusOK, generateCodeResponse{
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
	})
}

// queryRequest is the JSON body for POST /v1/credentials/query.
type queryRequest struct {
	Origin string `json:"origin"`

	// AllowAutofill is declared by the extension for its own bookkeeping.
	// The bridge accepts it but releases the same entry shape either way;
	// whether to fill a field is the extension's decision.
	AllowAutofill bool `json:"allow_autofill"`
}

// entryResponse is a released credential.
type entryResponse struct {
	EntryID  string            `json:"entry_id"`
	Origin   string            `json:"origin"`
	Title    string            `json:"title"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// normalizeOrigin lower-cases and trims an origin for matching and
// rate-limit keying.
func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSpace(origin))
}

// handleCredentialsQuery releases credentials for an origin after human
// approval. Denial, timeout, and an approved query that matched nothing
// all return the identical 403 body, so a denied response cannot be used
// to probe which sites have stored credentials.
func (g *Gateway) handleCredentialsQuery(w http.ResponseWriter, r *http.Request, rec *store.TokenRecord) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("invalid JSON body"))
		return
	}
	origin := normalizeOrigin(req.Origin)
	if origin == "" {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("origin is required"))
		return
	}

	if !g.limiter.Allow(origin) {
		writeError(w, http.StatusTooManyRequests, apperrors.RateLimited(origin))
		return
	}

	if g.vault.Locked() {
		writeError(w, http.StatusLocked, apperrors.VaultLocked())
		return
	}

	// Peek at the matches so the prompt can say what is at stake. The
	// plaintext stays inside this process until approval.
	entries, err := g.vault.EntriesFor(origin)
	if err != nil {
		g.writeVaultError(w, err)
		return
	}

	preview := ""
	if len(entries) > 0 {
		preview = entries[0].Username
	}

	resp, err := g.broker.RequestApproval(r.Context(), approval.Request{
		Action:          "credentials.query",
		Origin:          origin,
		Fingerprint:     rec.Fingerprint,
		BrowserLabel:    rec.BrowserLabel,
		EntryCount:      len(entries),
		UsernamePreview: preview,
	})
	if err != nil && resp.Decision != approval.DecisionDenied {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("approval failed", err))
		return
	}

	// One refusal shape for deny, timeout, and zero matches.
	if !resp.Approved() || len(entries) == 0 {
		writeError(w, http.StatusForbidden, apperrors.Forbidden())
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			EntryID:  e.ID,
			Origin:   e.Origin,
			Title:    e.Title,
			Username: e.Username,
			Password: e.Password,
			Metadata: e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// existsRequest is the JSON body for POST /v1/credentials/exists.
type existsRequest struct {
	Origin   string `json:"origin"`
	Username string `json:"username"`
}

// handleCredentialsExists answers a boolean existence check without an
// approval prompt. No credential material leaves the process, so the
// check is cheap for the extension to make on page load; it is still
// authenticated, rate limited, and audited.
func (g *Gateway) handleCredentialsExists(w http.ResponseWriter, r *http.Request, rec *store.TokenRecord) {
	var req existsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("invalid JSON body"))
		return
	}
	origin := normalizeOrigin(req.Origin)
	if origin == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("origin and username are required"))
		return
	}

	if !g.limiter.Allow(origin) {
		writeError(w, http.StatusTooManyRequests, apperrors.RateLimited(origin))
		return
	}

	if g.vault.Locked() {
		writeError(w, http.StatusLocked, apperrors.VaultLocked())
		return
	}

	exists, err := g.vault.HasEntry(origin, req.Username)
	if err != nil {
		g.writeVaultError(w, err)
		return
	}

	g.recordAudit(&audit.Entry{
		Action:          "credentials.exists",
		Origin:          origin,
		FingerprintHash: fingerprint.Hash(rec.Fingerprint),
		BrowserLabel:    rec.BrowserLabel,
		Outcome:         audit.OutcomeApproved,
		Detail:          "existence check, no approval required",
	})

	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// storeRequest is the JSON body for POST /v1/credentials/store.
type storeRequest struct {
	Origin   string            `json:"origin"`
	Title    string            `json:"title"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Metadata map[string]string `json:"metadata"`
}

// handleCredentialsStore saves a new credential after human approval.
func (g *Gateway) handleCredentialsStore(w http.ResponseWriter, r *http.Request, rec *store.TokenRecord) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("invalid JSON body"))
		return
	}
	origin := normalizeOrigin(req.Origin)
	if origin == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("origin, username, and password are required"))
		return
	}

	if !g.limiter.Allow(origin) {
		writeError(w, http.StatusTooManyRequests, apperrors.RateLimited(origin))
		return
	}

	if g.vault.Locked() {
		writeError(w, http.StatusLocked, apperrors.VaultLocked())
		return
	}

	resp, err := g.broker.RequestApproval(r.Context(), approval.Request{
		Action:          "credentials.store",
		Origin:          origin,
		Fingerprint:     rec.Fingerprint,
		BrowserLabel:    rec.BrowserLabel,
		EntryCount:      1,
		UsernamePreview: req.Username,
	})
	if err != nil && resp.Decision != approval.DecisionDenied {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("approval failed", err))
		return
	}
	if !resp.Approved() {
		writeError(w, http.StatusForbidden, apperrors.Forbidden())
		return
	}

	entry := vault.Entry{
		Origin:   origin,
		Title:    req.Title,
		Username: req.Username,
		Password: req.Password,
		Metadata: req.Metadata,
	}
	if err := g.vault.Add(entry); err != nil {
		if errors.Is(err, vault.ErrDuplicate) {
			writeError(w, http.StatusConflict, apperrors.DuplicateEntry(origin, req.Username))
			return
		}
		g.writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// handleClipboardClear wipes the OS clipboard on the extension's behalf,
// used after autofill copy timers fire.
func (g *Gateway) handleClipboardClear(w http.ResponseWriter, r *http.Request, rec *store.TokenRecord) {
	if g.clipboard != nil {
		if err := g.clipboard(); err != nil {
			log.Printf("gateway: clipboard clear failed: %v", err)
			writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to clear clipboard", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// tokenInfo is the operator-facing view of a token record. The bcrypt
// hash stays out of API responses.
type tokenInfo struct {
	TokenID      string    `json:"token_id"`
	BrowserLabel string    `json:"browser_label"`
	Fingerprint  string    `json:"fingerprint"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
}

func (g *Gateway) handleTokensList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only GET is allowed"))
		return
	}

	recs := g.pairing.ListTokens()
	out := make([]tokenInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, tokenInfo{
			TokenID:      rec.ID,
			BrowserLabel: rec.BrowserLabel,
			Fingerprint:  rec.Fingerprint,
			IssuedAt:     rec.IssuedAt,
			ExpiresAt:    rec.ExpiresAt,
			Revoked:      rec.Revoked,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (g *Gateway) handleTokensRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only POST is allowed"))
		return
	}

	var req struct {
		TokenID string `json:"token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TokenID == "" {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("token_id is required"))
		return
	}

	if err := g.pairing.Revoke(req.TokenID); err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to revoke token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (g *Gateway) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only GET is allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": g.approvals.List()})
}

func (g *Gateway) handleApprovalsRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only POST is allowed"))
		return
	}

	var req struct {
		Origin      string `json:"origin"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Origin == "" || req.Fingerprint == "" {
		writeError(w, http.StatusBadRequest, apperrors.InvalidInput("origin and fingerprint are required"))
		return
	}

	removed, err := g.approvals.Forget(normalizeOrigin(req.Origin), req.Fingerprint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to remove decision", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (g *Gateway) handleApprovalsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only POST is allowed"))
		return
	}

	n, err := g.approvals.Clear()
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to clear decisions", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// auditEntryResponse is the JSON view of an audit entry.
type auditEntryResponse struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Action          string    `json:"action"`
	Origin          string    `json:"origin,omitempty"`
	FingerprintHash string    `json:"fingerprint_hash,omitempty"`
	BrowserLabel    string    `json:"browser_label,omitempty"`
	Outcome         string    `json:"outcome"`
	Detail          string    `json:"detail,omitempty"`
}

func (g *Gateway) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.InvalidInput("only GET is allowed"))
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, apperrors.InvalidInput("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	var (
		entries []*audit.Entry
		err     error
	)
	if origin := r.URL.Query().Get("origin"); origin != "" {
		entries, err = g.audit.ListByOrigin(normalizeOrigin(origin), limit)
	} else {
		entries, err = g.audit.List(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.Internal("failed to read audit log", err))
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:              e.ID,
			Timestamp:       e.Timestamp,
			Action:          e.Action,
			Origin:          e.Origin,
			FingerprintHash: e.FingerprintHash,
			BrowserLabel:    e.BrowserLabel,
			Outcome:         e.Outcome,
			Detail:          e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// writeVaultError maps vault failures to responses.
func (g *Gateway) writeVaultError(w http.ResponseWriter, err error) {
	if errors.Is(err, vault.ErrLocked) {
		writeError(w, http.StatusLocked, apperrors.VaultLocked())
		return
	}
	log.Printf("gateway: vault error: %v", err)
	writeError(w, http.StatusInternalServerError, apperrors.Internal("secret store access failed", err))
}

// recordAudit writes an audit entry, logging on failure.
func (g *Gateway) recordAudit(entry *audit.Entry) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Append(entry); err != nil {
		log.Printf("gateway: failed to record audit entry: %v", err)
	}
}
