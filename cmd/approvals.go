package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// approvalsConfig holds configuration for the approval management commands.
type approvalsConfig struct {
	Addr        string
	Origin      string
	Fingerprint string
}

func runApprovalsList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("approvals list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &approvalsConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink approvals list [options]\n\nList remembered approval decisions.\n\nOptions:\n")
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
		Decisions []struct {
			Origin       string    `json:"origin"`
			Fingerprint  string    `json:"fingerprint"`
			Decision     string    `json:"decision"`
			RememberedAt time.Time `json:"remembered_at"`
		} `json:"decisions"`
	}
	if err := client.get("/v1/approvals", &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(result.Decisions) == 0 {
		fmt.Fprintln(stdout, "No remembered decisions.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORIGIN\tFINGERPRINT\tDECISION\tREMEMBERED")
	fmt.Fprintln(w, "------\t-----------\t--------\t----------")

	now := time.Now()
	for _, d := range result.Decisions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.Origin,
			d.Fingerprint,
			d.Decision,
			formatDuration(now.Sub(d.RememberedAt)))
	}
	w.Flush()
	return 0
}

func runApprovalsRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("approvals revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &approvalsConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")
	fs.StringVar(&cfg.Origin, "origin", "", "Site origin of the remembered decision")
	fs.StringVar(&cfg.Fingerprint, "fingerprint", "", "Client fingerprint of the remembered decision")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink approvals revoke --origin <origin> --fingerprint <fp>\n\nForget a remembered decision; the next request prompts again.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if cfg.Origin == "" || cfg.Fingerprint == "" {
		fs.Usage()
		return 1
	}

	client := newDaemonClient(cfg.Addr)

	var result struct {
		Removed bool `json:"removed"`
	}
	if err := client.post("/v1/approvals/revoke", map[string]string{
		"origin":      cfg.Origin,
		"fingerprint": cfg.Fingerprint,
	}, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if result.Removed {
		fmt.Fprintf(stdout, "Forgot decision for %s.\n", cfg.Origin)
	} else {
		fmt.Fprintf(stdout, "No remembered decision for %s and that fingerprint.\n", cfg.Origin)
	}
	return 0
}

func runApprovalsClear(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("approvals clear", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &approvalsConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink approvals clear\n\nForget all remembered decisions.\n\nOptions:\n")
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
		Removed int `json:"removed"`
	}
	if err := client.post("/v1/approvals/clear", nil, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Forgot %d remembered decision(s).\n", result.Removed)
	return 0
}
