package vault

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/vaultlink/bridge/internal/errors"
	"github.com/vaultlink/bridge/internal/store"
)

// FileVault is a Vault backed by a single JSON file. It is the default
// store for standalone use; an external manager can be wired in behind
// the Vault interface instead.
type FileVault struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
	locked  bool
}

type vaultFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// NewFileVault opens the vault at path. A missing file is an empty vault.
// A corrupt file opens empty and LOCKED so nothing is written over the
// damaged data until the operator looks at it.
func NewFileVault(path string) *FileVault {
	v := &FileVault{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("vault: failed to read %s, starting empty: %v", path, err)
		}
		return v
	}

	var f vaultFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("vault: %s is corrupt, locking until repaired: %v", path, err)
		v.locked = true
		return v
	}

	v.entries = f.Entries
	return v
}

// Locked reports whether the vault refuses access.
func (v *FileVault) Locked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked
}

// Lock makes all access fail until Unlock.
func (v *FileVault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.locked = true
}

// Unlock re-enables access.
func (v *FileVault) Unlock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.locked = false
}

// EntriesFor returns copies of the entries matching the origin exactly.
func (v *FileVault) EntriesFor(origin string) ([]Entry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.locked {
		return nil, ErrLocked
	}

	var out []Entry
	for _, e := range v.entries {
		if originsEqual(e.Origin, origin) {
			out = append(out, e)
		}
	}
	return out, nil
}

// HasEntry reports whether an entry exists for the origin and username.
func (v *FileVault) HasEntry(origin, username string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.locked {
		return false, ErrLocked
	}

	for _, e := range v.entries {
		if originsEqual(e.Origin, origin) && e.Username == username {
			return true, nil
		}
	}
	return false, nil
}

// Add stores a new entry and persists the file.
func (v *FileVault) Add(entry Entry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.locked {
		return ErrLocked
	}

	for _, e := range v.entries {
		if originsEqual(e.Origin, entry.Origin) && e.Username == entry.Username {
			return ErrDuplicate
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	v.entries = append(v.entries, entry)
	return v.save()
}

// Len returns the number of stored entries.
func (v *FileVault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// save writes the file. Caller must hold v.mu.
func (v *FileVault) save() error {
	f := vaultFile{Version: 1, Entries: v.entries}
	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return err
	}
	if err := store.WriteAtomic(v.path, data); err != nil {
		return apperrors.Wrap(apperrors.CodeVaultIOFailed, "write secret store file", err)
	}
	return nil
}
