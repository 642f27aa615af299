package store

import (
	"encoding/json"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	apperrors "github.com/vaultlink/bridge/internal/errors"
)

// TokenRecord is a persisted bearer token. Only the bcrypt hash of the
// secret is stored; the raw secret is returned to the extension exactly
// once at pairing time.
type TokenRecord struct {
	ID           string    `json:"token_id"`
	TokenHash    string    `json:"token_hash"`
	Fingerprint  string    `json:"fingerprint"`
	BrowserLabel string    `json:"browser_label"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
}

// Expired reports whether the record is past its expiry at the given time.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TokenStore keeps token records in memory and mirrors them to a JSON file.
type TokenStore struct {
	mu      sync.RWMutex
	path    string
	records map[string]*TokenRecord
}

// tokenFile is the on-disk shape: a versioned wrapper so the format can
// evolve without guessing.
type tokenFile struct {
	Version int            `json:"version"`
	Tokens  []*TokenRecord `json:"tokens"`
}

// NewTokenStore opens the store at path, loading any existing records.
// An unreadable or corrupt file is treated as empty: the bridge must come
// up even if state was damaged, and a damaged file only means browsers
// have to pair again.
func NewTokenStore(path string) *TokenStore {
	s := &TokenStore{
		path:    path,
		records: make(map[string]*TokenRecord),
	}
	s.load()
	return s
}

func (s *TokenStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("store: failed to read token file %s, starting empty: %v", s.path, err)
		}
		return
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("store: token file %s is corrupt, starting empty: %v", s.path, err)
		return
	}

	for _, rec := range f.Tokens {
		if rec.ID == "" {
			continue
		}
		s.records[rec.ID] = rec
	}
}

// save writes the current records to disk. Caller must hold at least a
// read lock.
func (s *TokenStore) save() error {
	f := tokenFile{Version: 1, Tokens: make([]*TokenRecord, 0, len(s.records))}
	for _, rec := range s.records {
		f.Tokens = append(f.Tokens, rec)
	}
	// Stable ordering keeps the file diffable for operators.
	sort.Slice(f.Tokens, func(i, j int) bool {
		return f.Tokens[i].IssuedAt.Before(f.Tokens[j].IssuedAt)
	})

	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreSaveFailed, "marshal token records", err)
	}
	if err := WriteAtomic(s.path, data); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreSaveFailed, "write token file", err)
	}
	return nil
}

// Put inserts or replaces a token record and persists.
func (s *TokenStore) Put(rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[rec.ID] = &cp
	return s.save()
}

// Get returns a copy of the record with the given ID, or nil.
func (s *TokenStore) Get(id string) *TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// List returns copies of all records ordered by issue time.
func (s *TokenStore) List() []*TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TokenRecord, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// MarkRevoked sets the revoked flag on a token. Idempotent: revoking an
// already-revoked or unknown token succeeds without change.
func (s *TokenStore) MarkRevoked(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	return s.save()
}

// DeleteExpired removes records past their expiry and returns how many
// were removed. Revoked records are kept until they expire so the
// operator can still see them in listings.
func (s *TokenStore) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	if removed > 0 {
		if err := s.save(); err != nil {
			log.Printf("store: failed to persist after expiry sweep: %v", err)
		}
	}
	return removed
}
