// Package pairing manages the trust lifecycle between browser extensions
// and the bridge: short-lived numeric pairing codes, their exchange for
// bearer tokens, and token validation and revocation.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vaultlink/bridge/internal/audit"
	"github.com/vaultlink/bridge/internal/fingerprint"
	"github.com/vaultlink/bridge/internal/store"
)

// Common errors for the pairing and token flow.
var (
	// ErrCodeInvalid is returned when the code doesn't match any pairing
	// code the manager still holds. Consumed codes are deleted on
	// redemption, so a replayed code produces this same error.
	ErrCodeInvalid = errors.New("invalid or expired pairing code")

	// ErrCodeExpired is returned when the code matches a record past its
	// window. Once the sweeper has purged the record the same code
	// produces ErrCodeInvalid.
	ErrCodeExpired = errors.New("pairing code has expired, generate a new one")

	// ErrRateLimited is returned when too many pairing attempts are made.
	ErrRateLimited = errors.New("too many pairing attempts, try again later")

	// ErrFingerprintInvalid is returned when the client fingerprint is
	// missing or malformed.
	ErrFingerprintInvalid = errors.New("client fingerprint is missing or malformed")

	// ErrTokenInvalid is returned when a bearer token doesn't match any
	// live record, is revoked, or is presented with the wrong fingerprint.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned when the matching token is past expiry.
	ErrTokenExpired = errors.New("token has expired")
)

// Config holds configuration for the pairing manager.
type Config struct {
	// CodeWindow is how long a pairing code remains redeemable.
	// Default: 2 minutes.
	CodeWindow time.Duration

	// TokenTTL is the lifetime of issued bearer tokens.
	// Default: 24 hours.
	TokenTTL time.Duration

	// MaxAttemptsPerMinute is the rate limit for redemption attempts.
	// Default: 5 attempts per minute.
	MaxAttemptsPerMinute int

	// BcryptCost is the bcrypt work factor for token hashes.
	// Default: bcrypt.DefaultCost. Tests lower it.
	BcryptCost int

	// Tokens is where issued tokens are persisted. Required.
	Tokens *store.TokenStore

	// Audit receives pairing and validation events. Optional.
	Audit *audit.Store

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Code is an active pairing code waiting to be redeemed.
type Code struct {
	Code string

	// FingerprintHint is the client fingerprint the operator expects to
	// redeem this code, if they supplied one. Informational only.
	FingerprintHint string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager handles pairing code issuance, redemption, and bearer token
// validation. It enforces rate limits and code expiry to prevent brute
// force attacks on the six-digit space.
type Manager struct {
	mu sync.Mutex

	config Config

	// codes holds unredeemed pairing codes keyed by the code string.
	// Redemption deletes the entry, which is what makes codes single-use.
	codes map[string]*Code

	// attempts tracks recent redemption attempts for rate limiting.
	// Maps timestamp (truncated to second) to count.
	attempts map[int64]int
}

// NewManager creates a pairing manager with the given config.
func NewManager(config Config) *Manager {
	// Apply defaults
	if config.CodeWindow == 0 {
		config.CodeWindow = 2 * time.Minute
	}
	if config.TokenTTL == 0 {
		config.TokenTTL = 24 * time.Hour
	}
	if config.MaxAttemptsPerMinute == 0 {
		config.MaxAttemptsPerMinute = 5
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	return &Manager{
		config:   config,
		codes:    make(map[string]*Code),
		attempts: make(map[int64]int),
	}
}

// IssueCode creates a new pairing code valid for the configured window.
// Codes are unique among unexpired codes; several may be live at once so
// two browser profiles can pair back to back. fingerprintHint is optional
// and purely informational: it records which client the operator expects
// to redeem the code, for display and audit, and never gates redemption.
func (m *Manager) IssueCode(fingerprintHint string) (*Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.config.TimeNow()
	m.purgeExpiredCodesLocked(now)

	// Retry on collision with a live code. With a few codes live out of
	// a million, one retry is already rare.
	var code string
	for i := 0; i < 10; i++ {
		c, err := fingerprint.NewCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		if _, taken := m.codes[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		return nil, errors.New("could not generate a unique pairing code")
	}

	pc := &Code{
		Code:            code,
		FingerprintHint: fingerprintHint,
		IssuedAt:        now,
		ExpiresAt:       now.Add(m.config.CodeWindow),
	}
	m.codes[code] = pc

	log.Printf("pairing: issued code (expires at %s)", pc.ExpiresAt.Format(time.RFC3339))
	return pc, nil
}

// Redeem exchanges a pairing code for a bearer token bound to the given
// client fingerprint. The code is consumed on success. Returns the stored
// record and the raw token secret; the secret is never stored and never
// returned again.
func (m *Manager) Redeem(code, clientFingerprint, browserLabel string) (*store.TokenRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.config.TimeNow()

	if !fingerprint.Valid(clientFingerprint) {
		return nil, "", ErrFingerprintInvalid
	}

	// Check rate limit
	if err := m.checkRateLimitLocked(now); err != nil {
		m.recordAudit("pair.redeem", clientFingerprint, browserLabel, audit.OutcomeFailed, "rate limited")
		return nil, "", err
	}

	// Record this attempt
	m.recordAttemptLocked(now)

	pc, ok := m.codes[code]
	if !ok {
		log.Printf("pairing: redemption attempt with unknown code")
		m.recordAudit("pair.redeem", clientFingerprint, browserLabel, audit.OutcomeFailed, "unknown code")
		return nil, "", ErrCodeInvalid
	}
	if now.After(pc.ExpiresAt) {
		delete(m.codes, code)
		log.Printf("pairing: redemption attempt with expired code")
		m.recordAudit("pair.redeem", clientFingerprint, browserLabel, audit.OutcomeFailed, "expired code")
		return nil, "", ErrCodeExpired
	}
	if pc.FingerprintHint != "" && pc.FingerprintHint != clientFingerprint {
		log.Printf("pairing: code redeemed by a client other than the hinted one")
	}

	// Code matches - consume it immediately (before creating the token)
	// so replay prevention holds even if token creation fails.
	delete(m.codes, code)

	secret := fingerprint.NewSecret()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), m.config.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash token: %w", err)
	}

	rec := &store.TokenRecord{
		ID:           uuid.New().String(),
		TokenHash:    string(hash),
		Fingerprint:  clientFingerprint,
		BrowserLabel: browserLabel,
		IssuedAt:     now,
		ExpiresAt:    now.Add(m.config.TokenTTL),
	}

	if err := m.config.Tokens.Put(rec); err != nil {
		return nil, "", fmt.Errorf("save token: %w", err)
	}

	log.Printf("pairing: paired client %s (%s)", rec.ID, browserLabel)
	m.recordAudit("pair.redeem", clientFingerprint, browserLabel, audit.OutcomeIssued, "token "+rec.ID)

	return rec, secret, nil
}

// HasActiveCode returns true if any unexpired code is waiting.
func (m *Manager) HasActiveCode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeExpiredCodesLocked(m.config.TimeNow())
	return len(m.codes) > 0
}

// Sweep removes expired pairing codes and expired token records. Returns
// the counts removed. Run periodically by the daemon.
func (m *Manager) Sweep() (codes, tokens int) {
	m.mu.Lock()
	now := m.config.TimeNow()
	before := len(m.codes)
	m.purgeExpiredCodesLocked(now)
	codes = before - len(m.codes)
	m.mu.Unlock()

	tokens = m.config.Tokens.DeleteExpired(now)
	if codes > 0 || tokens > 0 {
		log.Printf("pairing: sweep removed %d codes, %d tokens", codes, tokens)
	}
	return codes, tokens
}

// RunSweeper runs Sweep on the given interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// purgeExpiredCodesLocked drops expired codes. Must be called with m.mu held.
func (m *Manager) purgeExpiredCodesLocked(now time.Time) {
	for c, pc := range m.codes {
		if !now.Before(pc.ExpiresAt) {
			delete(m.codes, c)
		}
	}
}

// checkRateLimitLocked returns ErrRateLimited if too many attempts in the
// last minute. Must be called with m.mu held.
func (m *Manager) checkRateLimitLocked(now time.Time) error {
	// Clean up old entries (older than 1 minute)
	cutoff := now.Add(-1 * time.Minute).Unix()
	for ts := range m.attempts {
		if ts < cutoff {
			delete(m.attempts, ts)
		}
	}

	// Count attempts in the last minute
	var count int
	for _, c := range m.attempts {
		count += c
	}

	if count >= m.config.MaxAttemptsPerMinute {
		log.Printf("pairing: rate limit exceeded (%d attempts in last minute)", count)
		return ErrRateLimited
	}

	return nil
}

// recordAttemptLocked records a redemption attempt for rate limiting.
// Must be called with m.mu held.
func (m *Manager) recordAttemptLocked(now time.Time) {
	// Truncate to second for grouping
	key := now.Unix()
	m.attempts[key]++
}

// recordAudit writes an audit entry, logging on failure. The audit trail
// must never block or fail the operation itself.
func (m *Manager) recordAudit(action, clientFingerprint, browserLabel, outcome, detail string) {
	if m.config.Audit == nil {
		return
	}
	entry := &audit.Entry{
		Action:          action,
		FingerprintHash: fingerprint.Hash(clientFingerprint),
		BrowserLabel:    browserLabel,
		Outcome:         outcome,
		Detail:          detail,
	}
	if err := m.config.Audit.Append(entry); err != nil {
		log.Printf("pairing: failed to record audit entry: %v", err)
	}
}
