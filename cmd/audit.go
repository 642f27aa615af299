package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"text/tabwriter"
	"time"
)

// auditConfig holds configuration for the audit command.
type auditConfig struct {
	Addr   string
	Limit  int
	Origin string
}

func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &auditConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")
	fs.IntVar(&cfg.Limit, "limit", 50, "Maximum number of entries to show (0 = all)")
	fs.StringVar(&cfg.Origin, "origin", "", "Only show entries for this origin")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink audit [options]\n\nShow the credential access audit log, newest first.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", cfg.Limit))
	if cfg.Origin != "" {
		query.Set("origin", cfg.Origin)
	}

	client := newDaemonClient(cfg.Addr)

	var result struct {
		Entries []struct {
			Timestamp    time.Time `json:"timestamp"`
			Action       string    `json:"action"`
			Origin       string    `json:"origin"`
			BrowserLabel string    `json:"browser_label"`
			Outcome      string    `json:"outcome"`
			Detail       string    `json:"detail"`
		} `json:"entries"`
	}
	if err := client.get("/v1/audit?"+query.Encode(), &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(result.Entries) == 0 {
		fmt.Fprintln(stdout, "Audit log is empty.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tORIGIN\tBROWSER\tOUTCOME")
	fmt.Fprintln(w, "----\t------\t------\t-------\t-------")

	for _, e := range result.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Action,
			e.Origin,
			e.BrowserLabel,
			e.Outcome)
	}
	w.Flush()
	return 0
}
