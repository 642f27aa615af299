package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// tokensConfig holds configuration for the token management commands.
type tokensConfig struct {
	Addr string
}

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func runTokensList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tokens list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &tokensConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink tokens list [options]\n\nList issued extension tokens.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	client := newDaemonClient(cfg.Addr)

	var result struct {
		Tokens []struct {
			TokenID      string    `json:"token_id"`
			BrowserLabel string    `json:"browser_label"`
			IssuedAt     time.Time `json:"issued_at"`
			ExpiresAt    time.Time `json:"expires_at"`
			Revoked      bool      `json:"revoked"`
		} `json:"tokens"`
	}
	if err := client.get("/v1/tokens", &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(result.Tokens) == 0 {
		fmt.Fprintln(stdout, "No paired extensions found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN ID\tBROWSER\tISSUED\tEXPIRES\tSTATUS")
	fmt.Fprintln(w, "--------\t-------\t------\t-------\t------")

	now := time.Now()
	for _, tok := range result.Tokens {
		status := "active"
		if tok.Revoked {
			status = "revoked"
		} else if now.After(tok.ExpiresAt) {
			status = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			tok.TokenID,
			tok.BrowserLabel,
			formatDuration(now.Sub(tok.IssuedAt)),
			tok.ExpiresAt.Format("2006-01-02 15:04"),
			status)
	}
	w.Flush()
	return 0
}

func runTokensRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tokens revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &tokensConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink tokens revoke [options] <token-id>\n\nRevoke an extension token. The extension must pair again to regain access.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	tokenID := fs.Arg(0)

	client := newDaemonClient(cfg.Addr)
	if err := client.post("/v1/tokens/revoke", map[string]string{"token_id": tokenID}, nil); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Token %s revoked.\n", tokenID)
	return 0
}
