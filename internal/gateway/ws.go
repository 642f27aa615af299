package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	// gorilla/websocket provides a complete implementation of the
	// WebSocket protocol with ping/pong and close handling.
	"github.com/gorilla/websocket"

	"github.com/vaultlink/bridge/internal/approval"
)

// MessageType identifies the kind of message on the prompt channel.
type MessageType string

const (
	// MessageTypeApprovalRequest pushes a pending credential request to
	// the prompt UI. Payload: ApprovalRequestPayload.
	MessageTypeApprovalRequest MessageType = "approval.request"

	// MessageTypeApprovalDecision is sent by the prompt UI to settle a
	// request. Payload: ApprovalDecisionPayload.
	MessageTypeApprovalDecision MessageType = "approval.decision"

	// MessageTypeError reports a malformed client message.
	MessageTypeError MessageType = "error"
)

// Message is the envelope for everything on the prompt channel.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ApprovalRequestPayload describes a pending request to the prompt UI.
// It carries everything the operator needs to decide and nothing the
// extension should not see echoed back: no passwords, no fingerprints.
type ApprovalRequestPayload struct {
	RequestID       string    `json:"request_id"`
	Action          string    `json:"action"`
	Origin          string    `json:"origin"`
	BrowserLabel    string    `json:"browser_label"`
	EntryCount      int       `json:"entry_count"`
	UsernamePreview string    `json:"username_preview,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ApprovalDecisionPayload is the prompt UI's answer.
type ApprovalDecisionPayload struct {
	RequestID string `json:"request_id"`

	// Decision is "approved" or "denied".
	Decision string `json:"decision"`

	// Remember persists the decision for this origin and client.
	Remember bool `json:"remember"`
}

// channelBufferSize is the buffer for per-client send channels. Prompt
// traffic is tiny; this absorbs bursts without blocking the broker.
const channelBufferSize = 16

// Resolver settles a pending approval request. Satisfied by
// (*approval.Broker).Resolve.
type Resolver func(requestID string, decision approval.Decision, remember bool) bool

// PromptHub fans pending approval requests out to connected prompt UIs
// over WebSocket and feeds their decisions back to the broker. It
// implements approval.Prompter.
type PromptHub struct {
	mu      sync.RWMutex
	clients map[*promptClient]bool
	resolve Resolver
	closed  bool

	upgrader websocket.Upgrader
}

// promptClient is one connected prompt UI.
type promptClient struct {
	hub  *PromptHub
	conn *websocket.Conn

	// send carries outbound messages; writePump drains it.
	send chan Message

	// done signals shutdown. Closed exactly once via closeSend.
	done     chan struct{}
	sendOnce sync.Once
}

// NewPromptHub creates an empty hub. Wire the broker with SetResolver
// before serving connections.
func NewPromptHub() *PromptHub {
	return &PromptHub{
		clients: make(map[*promptClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The endpoint is loopback-only; the browser-origin check
			// does not apply to the local prompt UI.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetResolver wires the decision sink. Called once at startup, before
// any connection is served.
func (h *PromptHub) SetResolver(r Resolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolve = r
}

// Prompt implements approval.Prompter by broadcasting the request to all
// connected prompt UIs. With nobody connected the request simply times
// out in the broker; that is the fail-closed path.
func (h *PromptHub) Prompt(req approval.Request) {
	payload, err := json.Marshal(ApprovalRequestPayload{
		RequestID:       req.RequestID,
		Action:          req.Action,
		Origin:          req.Origin,
		BrowserLabel:    req.BrowserLabel,
		EntryCount:      req.EntryCount,
		UsernamePreview: req.UsernamePreview,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		log.Printf("gateway: failed to marshal approval request: %v", err)
		return
	}
	msg := Message{Type: MessageTypeApprovalRequest, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		log.Printf("gateway: no prompt UI connected for request %s", req.RequestID)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow client; drop rather than block the broker. The
			// request will still settle by decision elsewhere or timeout.
			log.Printf("gateway: prompt client send buffer full, dropping request %s", req.RequestID)
		}
	}
}

// ClientCount returns the number of connected prompt UIs.
func (h *PromptHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and refuses new ones.
func (h *PromptHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*promptClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

// handleWebSocket upgrades a prompt UI connection and starts its pumps.
func (h *PromptHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: websocket upgrade failed: %v", err)
		return
	}

	client := &promptClient{
		hub:  h,
		conn: conn,
		send: make(chan Message, channelBufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("gateway: prompt UI connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// closeSend safely signals the client to shut down exactly once.
func (c *promptClient) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// writePump sends messages from the send channel to the WebSocket and
// pings periodically to keep the connection alive.
func (c *promptClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("gateway: failed to marshal message: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("gateway: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads decision messages from the prompt UI and forwards them
// to the broker. It also detects disconnects.
func (c *promptClient) readPump() {
	defer func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		remaining := len(c.hub.clients)
		c.hub.mu.Unlock()

		c.closeSend()
		log.Printf("gateway: prompt UI disconnected (%d remaining)", remaining)
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("gateway: read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("gateway: malformed prompt message: %v", err)
			continue
		}
		if msg.Type != MessageTypeApprovalDecision {
			log.Printf("gateway: unexpected prompt message type %q", msg.Type)
			continue
		}

		var decision ApprovalDecisionPayload
		if err := json.Unmarshal(msg.Payload, &decision); err != nil {
			log.Printf("gateway: malformed decision payload: %v", err)
			continue
		}

		c.hub.dispatchDecision(decision)
	}
}

// dispatchDecision forwards a decision to the broker. Unknown request
// IDs are benign; the request may already have settled.
func (h *PromptHub) dispatchDecision(p ApprovalDecisionPayload) {
	h.mu.RLock()
	resolve := h.resolve
	h.mu.RUnlock()

	if resolve == nil {
		log.Printf("gateway: decision received before resolver was wired")
		return
	}

	d := approval.DecisionDenied
	if p.Decision == string(approval.DecisionApproved) {
		d = approval.DecisionApproved
	}
	resolve(p.RequestID, d, p.Remember)
}
