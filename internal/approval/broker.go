// Package approval implements the human approval broker. Credential
// requests block here until the operator decides, a remembered decision
// replays, or the timeout denies them. The broker owns the pending
// request table; prompt surfaces (WebSocket UI, terminal) only display
// requests and feed decisions back through Resolve.
package approval

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultlink/bridge/internal/audit"
	"github.com/vaultlink/bridge/internal/fingerprint"
	"github.com/vaultlink/bridge/internal/store"
)

// Decision is the operator's answer to a request.
type Decision string

const (
	// DecisionApproved releases the requested access.
	DecisionApproved Decision = "approved"

	// DecisionDenied refuses it.
	DecisionDenied Decision = "denied"
)

// Outcome describes how a request was settled, for audit and logging.
type Outcome string

const (
	// OutcomeApproved means the operator approved interactively.
	OutcomeApproved Outcome = "approved"

	// OutcomeDenied means the operator denied interactively.
	OutcomeDenied Outcome = "denied"

	// OutcomeTimeout means no decision arrived in time; denied.
	OutcomeTimeout Outcome = "timeout"

	// OutcomeRemembered means a stored decision replayed without a prompt.
	OutcomeRemembered Outcome = "remembered"
)

// Request is a credential access request awaiting a decision.
type Request struct {
	// RequestID is the unique identifier for this request.
	// If empty, a UUID will be generated automatically.
	RequestID string

	// Action names the operation, e.g. "credentials.query" or
	// "credentials.store". Recorded in the audit log.
	Action string

	// Origin is the requesting site.
	Origin string

	// Fingerprint is the requesting client's raw fingerprint. Used for
	// the remembered-decision key; only its digest reaches the audit log.
	Fingerprint string

	// BrowserLabel names the client for the prompt.
	BrowserLabel string

	// EntryCount is how many matching entries the prompt mentions.
	EntryCount int

	// UsernamePreview is shown on the prompt so the operator knows which
	// account is being released. Never the password.
	UsernamePreview string

	// CreatedAt and ExpiresAt bound the decision window. Filled in by
	// the broker.
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Response is the settled result of a request.
type Response struct {
	Decision Decision
	Outcome  Outcome

	// Remembered is true when the decision was stored for future
	// requests from the same origin and fingerprint.
	Remembered bool
}

// Approved reports whether access should be released.
func (r Response) Approved() bool {
	return r.Decision == DecisionApproved
}

// Prompter displays a request to the operator. Implementations must not
// block the caller for long; the broker invokes Prompt on its own
// goroutine and collects the answer via Resolve.
type Prompter interface {
	Prompt(Request)
}

// pendingRequest tracks an in-flight request.
type pendingRequest struct {
	req Request

	// responseCh receives the decision from Resolve.
	// Buffered (size 1) so the resolver never blocks.
	responseCh chan Response
}

// Broker manages pending approval requests. RequestApproval blocks until
// a decision arrives or the timeout passes; Resolve feeds decisions in
// from whatever surface is showing prompts.
//
// Thread safety: all exported methods are safe for concurrent use.
type Broker struct {
	// mu protects the pending map.
	mu sync.Mutex

	// pending maps request IDs to in-flight requests.
	pending map[string]*pendingRequest

	// approvals persists remembered decisions. Required.
	approvals *store.ApprovalStore

	// auditStore records every settled request. Nil disables audit.
	auditStore *audit.Store

	// prompter displays requests. Nil means nothing is shown and
	// requests settle by timeout.
	prompter Prompter

	// timeout is how long a request waits for a decision.
	timeout time.Duration

	// timeNow returns the current time. Replaceable for tests.
	timeNow func() time.Time
}

// New creates a broker. prompter may be nil, in which case requests
// without a remembered decision always time out to denial.
func New(approvals *store.ApprovalStore, auditStore *audit.Store, prompter Prompter, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Broker{
		pending:    make(map[string]*pendingRequest),
		approvals:  approvals,
		auditStore: auditStore,
		prompter:   prompter,
		timeout:    timeout,
		timeNow:    time.Now,
	}
}

// SetPrompter swaps the prompt surface. Used when the surface is
// constructed after the broker, as with the WebSocket prompt hub that
// also needs the broker's Resolve as its decision callback.
func (b *Broker) SetPrompter(p Prompter) {
	b.mu.Lock()
	b.prompter = p
	b.mu.Unlock()
}

// RequestApproval settles a credential request. The call blocks until one
// of: a remembered decision replays immediately, the operator decides via
// Resolve, the timeout passes (denied), or ctx is cancelled (denied).
//
// The first decision wins; later Resolve calls for the same request are
// no-ops. Every path through here settles to an explicit approve or deny
// and lands in the audit log.
func (b *Broker) RequestApproval(ctx context.Context, req Request) (Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	// Remembered decision: replay without prompting.
	if d := b.approvals.Lookup(req.Origin, req.Fingerprint); d != nil {
		resp := Response{Outcome: OutcomeRemembered, Remembered: true}
		if d.Decision == store.DecisionApproved {
			resp.Decision = DecisionApproved
		} else {
			resp.Decision = DecisionDenied
		}
		log.Printf("approval: request %s settled by remembered decision (%s)", req.RequestID, resp.Decision)
		b.recordAudit(req, resp)
		return resp, nil
	}

	now := b.timeNow()
	req.CreatedAt = now
	req.ExpiresAt = now.Add(b.timeout)

	pending := &pendingRequest{
		req:        req,
		responseCh: make(chan Response, 1),
	}

	b.mu.Lock()
	b.pending[req.RequestID] = pending
	prompter := b.prompter
	b.mu.Unlock()

	// Show the prompt. The prompter runs on its own goroutine so a slow
	// surface (a human at a terminal) cannot hold the broker lock.
	if prompter != nil {
		go prompter.Prompt(req)
		log.Printf("approval: request %s for %s forwarded to prompt (expires %s)",
			req.RequestID, req.Origin, req.ExpiresAt.Format(time.RFC3339))
	} else {
		log.Printf("approval: request %s for %s has no prompt surface, will time out",
			req.RequestID, req.Origin)
	}

	select {
	case resp := <-pending.responseCh:
		// Resolve already removed the request from pending.
		log.Printf("approval: request %s %s", req.RequestID, resp.Decision)
		b.recordAudit(req, resp)
		return resp, nil

	case <-time.After(b.timeout):
		b.remove(req.RequestID)
		resp := Response{Decision: DecisionDenied, Outcome: OutcomeTimeout}
		log.Printf("approval: request %s timed out, denying", req.RequestID)
		b.recordAudit(req, resp)
		return resp, nil

	case <-ctx.Done():
		b.remove(req.RequestID)
		resp := Response{Decision: DecisionDenied, Outcome: OutcomeTimeout}
		log.Printf("approval: request %s cancelled, denying", req.RequestID)
		b.recordAudit(req, resp)
		return resp, ctx.Err()
	}
}

// Resolve settles a pending request. Returns true if the request was
// pending and this decision settled it. An unknown request ID is a benign
// no-op returning false: the request may have timed out, been cancelled,
// or been settled a moment earlier by another surface.
//
// If remember is true the decision is persisted for the request's
// (origin, fingerprint) pair before the waiting caller is released.
func (b *Broker) Resolve(requestID string, decision Decision, remember bool) bool {
	b.mu.Lock()
	pending, ok := b.pending[requestID]
	if !ok {
		b.mu.Unlock()
		log.Printf("approval: decision for unknown request %s ignored", requestID)
		return false
	}
	delete(b.pending, requestID)
	b.mu.Unlock()

	req := pending.req

	resp := Response{Decision: decision, Remembered: remember}
	if decision == DecisionApproved {
		resp.Outcome = OutcomeApproved
	} else {
		resp.Outcome = OutcomeDenied
	}

	// Persist the remembered decision before releasing the caller so a
	// crash right after the response cannot lose it.
	if remember {
		d := &store.RememberedDecision{
			Origin:      req.Origin,
			Fingerprint: req.Fingerprint,
			Decision:    string(decision),
		}
		if err := b.approvals.Remember(d); err != nil {
			log.Printf("approval: failed to persist remembered decision: %v", err)
			resp.Remembered = false
		}
	}

	// Non-blocking send; the channel is buffered.
	select {
	case pending.responseCh <- resp:
		log.Printf("approval: decision received for request %s: %s", requestID, decision)
	default:
		log.Printf("approval: warning: could not send response for request %s (channel full)", requestID)
	}

	return true
}

// Pending returns a snapshot of in-flight requests, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingCount returns the number of in-flight requests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// remove drops a request from the pending table if still present.
func (b *Broker) remove(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, requestID)
}

// recordAudit logs a settled request. Failures are logged, never returned;
// the audit trail must not block credential flow.
func (b *Broker) recordAudit(req Request, resp Response) {
	if b.auditStore == nil {
		return
	}

	action := req.Action
	if action == "" {
		action = "credentials.access"
	}

	entry := &audit.Entry{
		Action:          action,
		Origin:          req.Origin,
		FingerprintHash: fingerprint.Hash(req.Fingerprint),
		BrowserLabel:    req.BrowserLabel,
		Outcome:         string(resp.Outcome),
		Detail:          req.UsernamePreview,
	}
	if err := b.auditStore.Append(entry); err != nil {
		log.Printf("approval: warning: failed to save audit entry: %v", err)
	}
}
