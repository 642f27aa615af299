package pairing

import (
	"log"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultlink/bridge/internal/audit"
	"github.com/vaultlink/bridge/internal/store"
)

// Validate checks a bearer token secret against the stored records and
// verifies the presented fingerprint matches the one the token was bound
// to at pairing time. On success returns the matching record.
//
// A fingerprint mismatch fails with the same ErrTokenInvalid as an
// unknown or revoked token, so a stolen token leaks nothing about why it
// was refused. A matched record past its expiry returns ErrTokenExpired
// instead: the expiry was disclosed to the client at pairing time, and
// the distinct code tells the extension to pair again.
//
// Note: This does a linear bcrypt scan of all records to find a match.
// For a handful of browser profiles on one machine this is acceptable.
func (m *Manager) Validate(secret, clientFingerprint string) (*store.TokenRecord, error) {
	now := m.config.TimeNow()

	// Expired records are purged lazily on the way through.
	expired := false

	for _, rec := range m.config.Tokens.List() {
		// bcrypt.CompareHashAndPassword handles timing-safe comparison
		if err := bcrypt.CompareHashAndPassword([]byte(rec.TokenHash), []byte(secret)); err != nil {
			if rec.Expired(now) {
				expired = true
			}
			continue
		}

		if rec.Expired(now) {
			log.Printf("pairing: validation with expired token %s", rec.ID)
			m.recordAudit("token.validate", clientFingerprint, rec.BrowserLabel, audit.OutcomeFailed, "expired token")
			m.config.Tokens.DeleteExpired(now)
			return nil, ErrTokenExpired
		}

		if rec.Revoked {
			log.Printf("pairing: validation with revoked token %s", rec.ID)
			m.recordAudit("token.validate", clientFingerprint, rec.BrowserLabel, audit.OutcomeFailed, "revoked token")
			return nil, ErrTokenInvalid
		}

		if rec.Fingerprint != clientFingerprint {
			log.Printf("pairing: fingerprint mismatch for token %s", rec.ID)
			m.recordAudit("token.validate", clientFingerprint, rec.BrowserLabel, audit.OutcomeFailed, "fingerprint mismatch")
			return nil, ErrTokenInvalid
		}

		return rec, nil
	}

	if expired {
		m.config.Tokens.DeleteExpired(now)
	}

	log.Printf("pairing: token validation failed (no matching record)")
	m.recordAudit("token.validate", clientFingerprint, "", audit.OutcomeFailed, "no matching token")
	return nil, ErrTokenInvalid
}

// Revoke marks a token revoked by its ID. Idempotent: revoking an
// already-revoked or unknown token is not an error.
func (m *Manager) Revoke(tokenID string) error {
	if err := m.config.Tokens.MarkRevoked(tokenID); err != nil {
		return err
	}
	log.Printf("pairing: revoked token %s", tokenID)
	if m.config.Audit != nil {
		entry := &audit.Entry{
			Action:  "token.revoke",
			Outcome: audit.OutcomeRevoked,
			Detail:  "token " + tokenID,
		}
		if err := m.config.Audit.Append(entry); err != nil {
			log.Printf("pairing: failed to record audit entry: %v", err)
		}
	}
	return nil
}

// ListTokens returns the persisted token records for operator listings.
func (m *Manager) ListTokens() []*store.TokenRecord {
	return m.config.Tokens.List()
}
