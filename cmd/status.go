package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	Addr string
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &statusConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink status [options]\n\nShow bridge daemon status.\n\nOptions:\n")
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
		Status        string `json:"status"`
		Version       string `json:"version"`
		Locked        bool   `json:"locked"`
		PairingActive bool   `json:"pairing_active"`
	}
	if err := client.get("/v1/status", &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "\nThe bridge does not appear to be running. Start it with: vaultlink serve")
		return 1
	}

	fmt.Fprintf(stdout, "Bridge:         %s (%s)\n", result.Status, result.Version)
	fmt.Fprintf(stdout, "Address:        %s\n", client.addr)
	if result.Locked {
		fmt.Fprintln(stdout, "Secret store:   LOCKED")
	} else {
		fmt.Fprintln(stdout, "Secret store:   unlocked")
	}
	if result.PairingActive {
		fmt.Fprintln(stdout, "Pairing:        code active, waiting for an extension")
	} else {
		fmt.Fprintln(stdout, "Pairing:        no active code")
	}
	return 0
}
