// Package gateway implements the loopback HTTP surface of the bridge:
// pairing, authenticated credential endpoints, operator endpoints, and
// the WebSocket prompt channel. Every credential release goes through
// the approval broker before anything is read from the vault.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/vaultlink/bridge/internal/approval"
	"github.com/vaultlink/bridge/internal/audit"
	apperrors "github.com/vaultlink/bridge/internal/errors"
	"github.com/vaultlink/bridge/internal/pairing"
	"github.com/vaultlink/bridge/internal/store"
	"github.com/vaultlink/bridge/internal/vault"
)

// Config holds gateway construction parameters.
type Config struct {
	// Addr is the listen address. The host part must be a loopback
	// address; Start refuses anything else.
	Addr string

	// Version is reported by the status endpoint.
	Version string

	// RatePerOrigin is the sustained requests-per-second allowed per
	// origin on the credential endpoints. Default: 5.
	RatePerOrigin float64

	// RateBurst is the burst allowance per origin. Default: 5.
	RateBurst int
}

// Deps are the collaborating components the gateway serves.
type Deps struct {
	Pairing   *pairing.Manager
	Broker    *approval.Broker
	Vault     vault.Vault
	Audit     *audit.Store
	Approvals *store.ApprovalStore

	// ClearClipboard wipes the OS clipboard. Optional; the endpoint
	// reports success without one since the extension clears its own
	// copy regardless.
	ClearClipboard func() error

	// Hub is the WebSocket prompt hub. Usually created first so it can
	// be handed to the approval broker as its Prompter; if nil a fresh
	// hub is created.
	Hub *PromptHub
}

// Gateway is the bridge's HTTP server.
type Gateway struct {
	addr    string
	version string

	pairing   *pairing.Manager
	broker    *approval.Broker
	vault     vault.Vault
	audit     *audit.Store
	approvals *store.ApprovalStore
	clipboard func() error

	limiter *originLimiter
	hub     *PromptHub

	httpServer *http.Server
}

// New creates a gateway.
func New(cfg Config, deps Deps) *Gateway {
	if cfg.RatePerOrigin <= 0 {
		cfg.RatePerOrigin = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewPromptHub()
	}

	return &Gateway{
		addr:      cfg.Addr,
		version:   cfg.Version,
		pairing:   deps.Pairing,
		broker:    deps.Broker,
		vault:     deps.Vault,
		audit:     deps.Audit,
		approvals: deps.Approvals,
		clipboard: deps.ClearClipboard,
		limiter:   newOriginLimiter(cfg.RatePerOrigin, cfg.RateBurst),
		hub:       hub,
	}
}

// Hub returns the WebSocket prompt hub, for wiring as the broker's
// Prompter and feeding decisions back.
func (g *Gateway) Hub() *PromptHub {
	return g.hub
}

// createMux builds the HTTP route table.
func (g *Gateway) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Unauthenticated surface
	mux.HandleFunc("/v1/status", g.handleStatus)
	mux.HandleFunc("/v1/pair", g.handlePair)

	// Authenticated credential surface
	mux.HandleFunc("/v1/credentials/query", g.requireAuth(g.handleCredentialsQuery))
	mux.HandleFunc("/v1/credentials/exists", g.requireAuth(g.handleCredentialsExists))
	mux.HandleFunc("/v1/credentials/store", g.requireAuth(g.handleCredentialsStore))
	mux.HandleFunc("/v1/clipboard/clear", g.requireAuth(g.handleClipboardClear))

	// Operator surface, restricted to loopback peers even though the
	// listener is loopback-bound. Cheap to check, and it keeps these
	// endpoints safe if the socket is ever forwarded.
	mux.HandleFunc("/v1/pair/generate", g.requireLoopback(g.handlePairGenerate))
	mux.HandleFunc("/v1/tokens", g.requireLoopback(g.handleTokensList))
	mux.HandleFunc("/v1/tokens/revoke", g.requireLoopback(g.handleTokensRevoke))
	mux.HandleFunc("/v1/approvals", g.requireLoopback(g.handleApprovalsList))
	mux.HandleFunc("/v1/approvals/revoke", g.requireLoopback(g.handleApprovalsRevoke))
	mux.HandleFunc("/v1/approvals/clear", g.requireLoopback(g.handleApprovalsClear))
	mux.HandleFunc("/v1/audit", g.requireLoopback(g.handleAuditList))
	mux.HandleFunc("/ws/prompt", g.requireLoopback(g.hub.handleWebSocket))

	return mux
}

// validateLoopbackAddr rejects listen addresses that would expose the
// bridge beyond the local machine.
func validateLoopbackAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("refusing to listen on non-loopback address %q", addr)
	}
	return nil
}

// StartAsync starts the gateway in a goroutine and returns any startup
// errors. The returned channel receives nil if startup succeeded, or an
// error if the address is not loopback or the listener could not be
// created (e.g., port already in use).
func (g *Gateway) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	if err := validateLoopbackAddr(g.addr); err != nil {
		errCh <- err
		close(errCh)
		return errCh
	}

	mux := g.createMux()

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", g.addr, err)
		close(errCh)
		return errCh
	}

	g.httpServer = &http.Server{
		Handler: mux,
	}

	go func() {
		log.Printf("gateway: listening on %s", g.addr)
		// Signal successful startup
		errCh <- nil
		close(errCh)

		// Serve blocks until the server is stopped
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("gateway: server error: %v", err)
		}
	}()

	return errCh
}

// Stop gracefully shuts down the server and disconnects prompt clients.
func (g *Gateway) Stop(ctx context.Context) error {
	g.hub.Close()
	if g.httpServer == nil {
		return nil
	}
	log.Printf("gateway: shutting down")
	return g.httpServer.Shutdown(ctx)
}

// isLoopbackRequest checks if the request originates from the local
// machine. Used to restrict operator endpoints to local access only.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If we can't parse the address, be conservative and reject
		log.Printf("gateway: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Printf("gateway: failed to parse IP from host %q", host)
		return false
	}

	return ip.IsLoopback()
}

// requireLoopback wraps a handler with the loopback peer check.
func (g *Gateway) requireLoopback(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLoopbackRequest(r) {
			writeError(w, http.StatusForbidden, apperrors.NotLoopback())
			return
		}
		next(w, r)
	}
}

// errorResponse is the JSON error shape for every endpoint.
type errorResponse struct {
	// Error is the stable dotted code (e.g., "auth.invalid").
	Error string `json:"error"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("gateway: failed to encode response: %v", err)
	}
}

// writeError sends a JSON error response built from a coded error.
func writeError(w http.ResponseWriter, status int, err error) {
	code, message := apperrors.ToCodeAndMessage(err)
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
