package config

// DefaultAddr is the default listen address for the HTTP gateway.
// The port is fixed high and unregistered so the extension can find it
// without configuration.
const DefaultAddr = "127.0.0.1:43110"

// DefaultTokenTTLHours is the default bearer token lifetime.
const DefaultTokenTTLHours = 24

// DefaultPairingWindowSeconds is how long a pairing code stays valid.
const DefaultPairingWindowSeconds = 120

// DefaultApprovalTimeoutSeconds is the human decision deadline.
const DefaultApprovalTimeoutSeconds = 60

// DefaultRateLimitPerOrigin is the sustained per-origin request rate.
const DefaultRateLimitPerOrigin = 5

// DefaultSweepIntervalSeconds is the expiry sweep cadence.
const DefaultSweepIntervalSeconds = 60

// DefaultPrompt is the default approval prompt surface.
const DefaultPrompt = "ws"
