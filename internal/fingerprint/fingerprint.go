// Package fingerprint holds the identity primitives shared by pairing,
// auth, and audit: client fingerprint validation and hashing, pairing
// code generation, and bearer token secret generation.
package fingerprint

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// MaxLength is the longest accepted client fingerprint. Fingerprints are
// opaque strings supplied by the extension; anything longer is rejected
// before it reaches a store or log.
const MaxLength = 128

// CodeLength is the number of digits in a pairing code.
const CodeLength = 6

// Valid reports whether fp is an acceptable client fingerprint:
// non-empty, within MaxLength, and built only from ASCII letters,
// digits, and the separators ".:-_". Fingerprints end up in file names'
// neighborhood (JSON state, log lines, audit keys), so the charset is
// kept deliberately narrow.
func Valid(fp string) bool {
	if fp == "" || len(fp) > MaxLength {
		return false
	}
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == ':' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// NewCode generates a random numeric pairing code of CodeLength digits.
// Uses crypto/rand so codes cannot be predicted from prior codes.
func NewCode() (string, error) {
	const digits = "0123456789"
	code := make([]byte, CodeLength)

	for i := range code {
		// Generate a random index into the digits string
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[n.Int64()]
	}

	return string(code), nil
}

// NewSecret generates a bearer token secret.
func NewSecret() string {
	// 32 bytes = 256 bits of entropy
	const secretBytes = 32

	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		// This should never happen with crypto/rand
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	// Encode as hex for easy transport
	return fmt.Sprintf("%x", b)
}

// Hash returns a short stable digest of a fingerprint for audit records.
// Raw fingerprints never appear in the audit log; the digest is enough to
// correlate entries from the same browser profile.
func Hash(fp string) string {
	sum := sha256.Sum256([]byte(fp))
	return fmt.Sprintf("%x", sum[:16])
}
