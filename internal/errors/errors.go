// Package errors provides standardized error codes for the bridge daemon.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (pair, auth, gateway, vault, store, audit)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by browser extensions for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that extension clients can rely on for error handling.
const (
	// Pairing domain - pairing code issuance and redemption
	CodePairInvalidCode        = "pair.invalid_code"        // Pairing code does not match any active code
	CodePairExpiredCode        = "pair.expired_code"        // Pairing code is known but past its window
	CodePairRateLimited        = "pair.rate_limited"        // Too many pairing attempts in the window
	CodePairInvalidFingerprint = "pair.invalid_fingerprint" // Fingerprint is empty, too long, or malformed

	// Auth domain - bearer token validation
	CodeAuthRequired = "auth.required" // Authorization header missing
	CodeAuthInvalid  = "auth.invalid"  // Token unknown, revoked, or fingerprint mismatch
	CodeAuthExpired  = "auth.expired"  // Token past its expiry

	// Gateway domain - HTTP surface errors
	CodeGatewayForbidden    = "gateway.forbidden"     // Access refused (denial, timeout, or no entries)
	CodeGatewayRateLimited  = "gateway.rate_limited"  // Per-origin request rate exceeded
	CodeGatewayNotLoopback  = "gateway.not_loopback"  // Request did not arrive over loopback
	CodeGatewayInvalidInput = "gateway.invalid_input" // Malformed or incomplete request body

	// Vault domain - secret store access
	CodeVaultLocked    = "vault.locked"    // Secret store is locked
	CodeVaultDuplicate = "vault.duplicate" // Entry already exists for origin and username
	CodeVaultIOFailed  = "vault.io_failed" // Reading or writing the store file failed

	// Store domain - token and approval persistence. A load failure is
	// recovered locally (empty store plus a log line) and never carries
	// a code; only saves propagate to callers.
	CodeStoreSaveFailed = "store.save_failed" // Failed to persist a state file

	// Audit domain - audit log persistence
	CodeAuditOpenFailed  = "audit.open_failed"  // Audit database open failed
	CodeAuditWriteFailed = "audit.write_failed" // Failed to append an audit entry
	CodeAuditQueryFailed = "audit.query_failed" // Failed to read audit entries

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "auth.invalid")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// InvalidCode creates a "pair.invalid_code" error. Consumed codes are
// deleted on redemption, so a replay gets this same error; the message
// covers both.
func InvalidCode() *CodedError {
	return New(CodePairInvalidCode, "invalid or expired pairing code")
}

// ExpiredCode creates a "pair.expired_code" error, returned while the
// expired record is still held so the CLI can say "generate a new code"
// instead of "wrong code".
func ExpiredCode() *CodedError {
	return New(CodePairExpiredCode, "pairing code has expired, generate a new one")
}

// PairRateLimited creates a "pair.rate_limited" error.
func PairRateLimited() *CodedError {
	return New(CodePairRateLimited, "too many pairing attempts, try again later")
}

// InvalidFingerprint creates a "pair.invalid_fingerprint" error.
func InvalidFingerprint() *CodedError {
	return New(CodePairInvalidFingerprint, "client fingerprint is missing or malformed")
}

// AuthRequired creates an "auth.required" error.
func AuthRequired() *CodedError {
	return New(CodeAuthRequired, "authorization required")
}

// AuthInvalid creates an "auth.invalid" error.
// Used for unknown tokens, revoked tokens, and fingerprint mismatches alike
// so a caller cannot probe which of the three failed.
func AuthInvalid() *CodedError {
	return New(CodeAuthInvalid, "invalid token")
}

// AuthExpired creates an "auth.expired" error.
func AuthExpired() *CodedError {
	return New(CodeAuthExpired, "token has expired, pair again")
}

// Forbidden creates a "gateway.forbidden" error.
// The same code and message cover explicit denial, timeout, and an approved
// query that matched nothing, so responses do not reveal which occurred.
func Forbidden() *CodedError {
	return New(CodeGatewayForbidden, "access denied")
}

// RateLimited creates a "gateway.rate_limited" error.
func RateLimited(origin string) *CodedError {
	msg := fmt.Sprintf("too many requests for origin %s", origin)
	return New(CodeGatewayRateLimited, msg)
}

// NotLoopback creates a "gateway.not_loopback" error.
func NotLoopback() *CodedError {
	return New(CodeGatewayNotLoopback, "endpoint is only available from localhost")
}

// InvalidInput creates a "gateway.invalid_input" error.
func InvalidInput(reason string) *CodedError {
	return New(CodeGatewayInvalidInput, reason)
}

// VaultLocked creates a "vault.locked" error.
func VaultLocked() *CodedError {
	return New(CodeVaultLocked, "secret store is locked")
}

// DuplicateEntry creates a "vault.duplicate" error.
func DuplicateEntry(origin, username string) *CodedError {
	msg := fmt.Sprintf("an entry for %s at %s already exists", username, origin)
	return New(CodeVaultDuplicate, msg)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
