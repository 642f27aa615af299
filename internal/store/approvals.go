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

// Decision values persisted for remembered approvals.
const (
	DecisionApproved = "approved"
	DecisionDenied   = "denied"
)

// RememberedDecision is a persisted "remember this choice" approval,
// keyed by the (origin, fingerprint) pair it covers. A remembered
// approval suppresses future prompts for that pair; a remembered denial
// is replayed the same way.
type RememberedDecision struct {
	Origin       string    `json:"origin"`
	Fingerprint  string    `json:"fingerprint"`
	Decision     string    `json:"decision"`
	RememberedAt time.Time `json:"remembered_at"`
}

// ApprovalStore keeps remembered decisions in memory and mirrors them to
// a JSON file.
type ApprovalStore struct {
	mu        sync.RWMutex
	path      string
	decisions map[string]*RememberedDecision
}

type approvalFile struct {
	Version   int                   `json:"version"`
	Decisions []*RememberedDecision `json:"decisions"`
}

func decisionKey(origin, fingerprint string) string {
	return origin + "|" + fingerprint
}

// NewApprovalStore opens the store at path, loading any existing
// decisions. Corrupt state degrades to an empty store: the only effect
// is that the operator gets prompted again.
func NewApprovalStore(path string) *ApprovalStore {
	s := &ApprovalStore{
		path:      path,
		decisions: make(map[string]*RememberedDecision),
	}
	s.load()
	return s
}

func (s *ApprovalStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("store: failed to read approval file %s, starting empty: %v", s.path, err)
		}
		return
	}

	var f approvalFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("store: approval file %s is corrupt, starting empty: %v", s.path, err)
		return
	}

	for _, d := range f.Decisions {
		if d.Origin == "" || d.Fingerprint == "" {
			continue
		}
		s.decisions[decisionKey(d.Origin, d.Fingerprint)] = d
	}
}

func (s *ApprovalStore) save() error {
	f := approvalFile{Version: 1, Decisions: make([]*RememberedDecision, 0, len(s.decisions))}
	for _, d := range s.decisions {
		f.Decisions = append(f.Decisions, d)
	}
	sort.Slice(f.Decisions, func(i, j int) bool {
		return f.Decisions[i].RememberedAt.Before(f.Decisions[j].RememberedAt)
	})

	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreSaveFailed, "marshal remembered decisions", err)
	}
	if err := WriteAtomic(s.path, data); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreSaveFailed, "write approval file", err)
	}
	return nil
}

// Remember persists a decision for an (origin, fingerprint) pair,
// replacing any previous decision for the same pair.
func (s *ApprovalStore) Remember(d *RememberedDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	if cp.RememberedAt.IsZero() {
		cp.RememberedAt = time.Now()
	}
	s.decisions[decisionKey(cp.Origin, cp.Fingerprint)] = &cp
	return s.save()
}

// Lookup returns a copy of the remembered decision for the pair, or nil.
func (s *ApprovalStore) Lookup(origin, fingerprint string) *RememberedDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[decisionKey(origin, fingerprint)]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// Forget removes the remembered decision for the pair. Returns true if a
// decision existed.
func (s *ApprovalStore) Forget(origin, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := decisionKey(origin, fingerprint)
	if _, ok := s.decisions[key]; !ok {
		return false, nil
	}
	delete(s.decisions, key)
	return true, s.save()
}

// List returns copies of all remembered decisions ordered by when they
// were remembered.
func (s *ApprovalStore) List() []*RememberedDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RememberedDecision, 0, len(s.decisions))
	for _, d := range s.decisions {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RememberedAt.Before(out[j].RememberedAt)
	})
	return out
}

// Clear removes all remembered decisions and returns how many were removed.
func (s *ApprovalStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.decisions)
	if n == 0 {
		return 0, nil
	}
	s.decisions = make(map[string]*RememberedDecision)
	return n, s.save()
}
