// Package audit persists the bridge's append-only audit log in SQLite.
// Every pairing, token validation failure, and credential access attempt
// gets an entry. Entries carry a fingerprint digest and never any secret
// material.
package audit

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	// SQLite driver - imported for side effects (registers the driver).
	// Using modernc.org/sqlite which is a pure-Go implementation that
	// doesn't require CGO, making cross-compilation and testing easier.
	"database/sql"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	apperrors "github.com/vaultlink/bridge/internal/errors"
)

// Outcome values recorded on audit entries.
const (
	OutcomeApproved   = "approved"
	OutcomeDenied     = "denied"
	OutcomeTimeout    = "timeout"
	OutcomeRemembered = "remembered"
	OutcomeIssued     = "issued"
	OutcomeRevoked    = "revoked"
	OutcomeFailed     = "failed"
)

// Entry is a single audit log record.
type Entry struct {
	// ID is the unique identifier for this entry (UUID).
	ID string

	// Timestamp is when the event happened.
	Timestamp time.Time

	// Action names the event, e.g. "pair.redeem", "token.validate",
	// "credentials.query", "credentials.store".
	Action string

	// Origin is the requesting site, empty for pairing and token events.
	Origin string

	// FingerprintHash is the digest of the client fingerprint. Raw
	// fingerprints never reach the log.
	FingerprintHash string

	// BrowserLabel is the human-readable client name, if known.
	BrowserLabel string

	// Outcome is one of the Outcome constants.
	Outcome string

	// Detail carries extra context (reason text, entry counts). Never
	// credential material.
	Detail string
}

// currentSchemaVersion is the current database schema version.
// Increment this when making schema changes and add migration logic.
const currentSchemaVersion = 1

// Store writes and reads audit entries backed by a SQLite database.
type Store struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations for thread safety.
}

// NewStore opens or creates a SQLite database at the given path.
// It initializes the schema if the tables don't exist.
// Use ":memory:" for an in-memory database (useful for testing).
func NewStore(path string) (*Store, error) {
	log.Printf("audit: opening database at %s", path)

	// Open database with a busy_timeout of 5 seconds to handle concurrent
	// access from both the CLI and the running daemon.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuditOpenFailed, "open database", err)
	}

	// Verify the connection is working.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeAuditOpenFailed, "ping database", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeAuditOpenFailed, "init schema", err)
	}

	log.Printf("audit: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates the required tables if they don't exist.
// Uses IF NOT EXISTS to make the operation idempotent.
func (s *Store) initSchema() error {
	// Schema version table tracks database migrations.
	// This allows future schema changes to be applied incrementally.
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Check current version
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	return nil
}

// migrateToV1 creates the audit_log table.
func (s *Store) migrateToV1() error {
	const auditTable = `
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			action TEXT NOT NULL,
			origin TEXT NOT NULL DEFAULT '',
			fingerprint_hash TEXT NOT NULL DEFAULT '',
			browser_label TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_origin ON audit_log(origin);
	`

	if _, err := s.db.Exec(auditTable); err != nil {
		return fmt.Errorf("create audit_log table: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// Append persists an audit entry. Missing ID and Timestamp fields are
// filled in so callers only set what they know.
func (s *Store) Append(entry *Entry) error {
	if entry == nil {
		return errors.New("audit entry cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	const query = `
		INSERT INTO audit_log
			(id, timestamp, action, origin, fingerprint_hash, browser_label, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		entry.ID,
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.Action,
		entry.Origin,
		entry.FingerprintHash,
		entry.BrowserLabel,
		entry.Outcome,
		entry.Detail,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeAuditWriteFailed, "save audit entry", err)
	}

	return nil
}

// List returns audit entries in reverse chronological order (newest first).
// The limit parameter controls the maximum number of entries returned.
// Use limit <= 0 to return all entries.
func (s *Store) List(limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	var args []interface{}

	if limit > 0 {
		query = `
			SELECT id, timestamp, action, origin, fingerprint_hash, browser_label, outcome, detail
			FROM audit_log
			ORDER BY timestamp DESC
			LIMIT ?
		`
		args = append(args, limit)
	} else {
		query = `
			SELECT id, timestamp, action, origin, fingerprint_hash, browser_label, outcome, detail
			FROM audit_log
			ORDER BY timestamp DESC
		`
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuditQueryFailed, "query audit entries", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Origin, &e.FingerprintHash, &e.BrowserLabel, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

// ListByOrigin returns entries for a single origin, newest first.
func (s *Store) ListByOrigin(origin string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, timestamp, action, origin, fingerprint_hash, browser_label, outcome, detail
		FROM audit_log
		WHERE origin = ?
		ORDER BY timestamp DESC
	`
	args := []interface{}{origin}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuditQueryFailed, "query audit entries by origin", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Origin, &e.FingerprintHash, &e.BrowserLabel, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}
