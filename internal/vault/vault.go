// Package vault defines the secret store the gateway releases credentials
// from, plus a JSON file implementation for standalone use. The gateway
// only ever touches the store through the Vault interface, and only after
// the approval broker has released the request.
package vault

import (
	"errors"
	"strings"
	"time"
)

// ErrDuplicate is returned when an entry for the same origin and username
// already exists.
var ErrDuplicate = errors.New("an entry for this origin and username already exists")

// ErrLocked is returned when the store is locked.
var ErrLocked = errors.New("secret store is locked")

// Entry is a stored credential.
type Entry struct {
	ID        string            `json:"entry_id"`
	Origin    string            `json:"origin"`
	Title     string            `json:"title"`
	Username  string            `json:"username"`
	Password  string            `json:"password"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Vault is the credential store behind the gateway.
type Vault interface {
	// Locked reports whether the store is currently locked. All access
	// fails while locked.
	Locked() bool

	// EntriesFor returns the entries whose origin matches exactly
	// (case-insensitive). No substring or suffix matching: "github.com"
	// never matches "notgithub.com".
	EntriesFor(origin string) ([]Entry, error)

	// HasEntry reports whether an entry exists for the origin and
	// username, without returning the entry.
	HasEntry(origin, username string) (bool, error)

	// Add stores a new entry. Returns ErrDuplicate if an entry for the
	// same origin and username exists, ErrLocked while locked.
	Add(Entry) error
}

// originsEqual is the single matching rule used everywhere.
func originsEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
