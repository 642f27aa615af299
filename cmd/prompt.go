package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vaultlink/bridge/internal/approval"
	"github.com/vaultlink/bridge/internal/gateway"
)

// terminalPrompter asks for approval decisions on the terminal running
// the daemon. It answers one request at a time; while the operator is
// looking at a prompt, later requests queue up behind the mutex and may
// time out to denial, which is the safe direction.
type terminalPrompter struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	resolve gateway.Resolver
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// SetResolver wires the broker's Resolve. Must be called before the
// first prompt is shown.
func (p *terminalPrompter) SetResolver(r gateway.Resolver) {
	p.mu.Lock()
	p.resolve = r
	p.mu.Unlock()
}

// Prompt implements approval.Prompter.
func (p *terminalPrompter) Prompt(req approval.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolve == nil {
		return
	}

	fmt.Fprintf(p.out, "\n=== Credential request ===\n")
	fmt.Fprintf(p.out, "  Site:    %s\n", req.Origin)
	fmt.Fprintf(p.out, "  Browser: %s\n", req.BrowserLabel)
	fmt.Fprintf(p.out, "  Action:  %s\n", req.Action)
	if req.EntryCount > 0 {
		fmt.Fprintf(p.out, "  Matches: %d (e.g. %s)\n", req.EntryCount, req.UsernamePreview)
	}
	fmt.Fprintf(p.out, "Allow? [y/n, capital to remember]: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		// Stdin closed: leave the request to time out denied.
		return
	}

	answer := strings.TrimSpace(line)
	remember := answer == "Y" || answer == "N"
	decision := approval.DecisionDenied
	if strings.EqualFold(answer, "y") {
		decision = approval.DecisionApproved
	}

	if !p.resolve(req.RequestID, decision, remember) {
		fmt.Fprintf(p.out, "Request already settled (timed out or answered elsewhere).\n")
	}
}
