package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultlink/bridge/internal/approval"
	"github.com/vaultlink/bridge/internal/audit"
	"github.com/vaultlink/bridge/internal/config"
	"github.com/vaultlink/bridge/internal/gateway"
	"github.com/vaultlink/bridge/internal/pairing"
	"github.com/vaultlink/bridge/internal/store"
	"github.com/vaultlink/bridge/internal/vault"
)

// ServeConfig holds the CLI flags for the serve command.
type ServeConfig struct {
	Config  string
	Addr    string
	DataDir string
	Prompt  string
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ServeConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.vaultlink/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address, must be loopback (default: 127.0.0.1:43110)")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "Directory for bridge state (default: ~/.vaultlink)")
	fs.StringVar(&cfg.Prompt, "prompt", "", "Approval prompt surface: ws, terminal, or none (default: ws)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink serve [options]\n\nStart the bridge daemon.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Load config file and merge with CLI flags. CLI flags win.
	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if cfg.Addr != "" {
		fileCfg.Addr = cfg.Addr
	}
	if cfg.DataDir != "" {
		fileCfg.DataDir = cfg.DataDir
	}
	if cfg.Prompt != "" {
		fileCfg.Prompt = cfg.Prompt
	}
	fileCfg.ApplyDefaults()

	switch fileCfg.Prompt {
	case "ws", "terminal", "none":
	default:
		fmt.Fprintf(stderr, "Error: unknown prompt surface %q (want ws, terminal, or none)\n", fileCfg.Prompt)
		return 1
	}

	if err := os.MkdirAll(fileCfg.DataDir, 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create data directory: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Data directory: %s\n", fileCfg.DataDir)
	fmt.Fprintf(stdout, "Listen address: %s\n", fileCfg.Addr)
	fmt.Fprintf(stdout, "Prompt surface: %s\n", fileCfg.Prompt)

	// Open the audit log first so every component can record into it.
	auditStore, err := audit.NewStore(fileCfg.AuditDB)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open audit log: %v\n", err)
		return 1
	}
	defer auditStore.Close()

	tokens := store.NewTokenStore(fileCfg.TokenFile)
	approvals := store.NewApprovalStore(fileCfg.ApprovalFile)

	fileVault := vault.NewFileVault(fileCfg.VaultFile)
	if fileVault.Locked() {
		fmt.Fprintln(stderr, "Warning: secret store failed to load and is locked; credential endpoints will return 423")
	}

	pairingManager := pairing.NewManager(pairing.Config{
		CodeWindow:           fileCfg.PairingWindow(),
		TokenTTL:             fileCfg.TokenTTL(),
		MaxAttemptsPerMinute: fileCfg.RateLimitPerOrigin,
		BcryptCost:           bcrypt.DefaultCost,
		Tokens:               tokens,
		Audit:                auditStore,
	})

	// The hub exists before the broker so it can serve as the broker's
	// prompt surface; the broker's Resolve is then fed back as the hub's
	// decision callback.
	hub := gateway.NewPromptHub()

	var prompter approval.Prompter
	var terminal *terminalPrompter
	switch fileCfg.Prompt {
	case "ws":
		prompter = hub
	case "terminal":
		terminal = newTerminalPrompter(os.Stdin, stdout)
		prompter = terminal
	case "none":
		// No prompt surface: requests without a remembered decision time
		// out to denial.
	}

	broker := approval.New(approvals, auditStore, prompter, fileCfg.ApprovalTimeout())
	hub.SetResolver(broker.Resolve)
	if terminal != nil {
		terminal.SetResolver(broker.Resolve)
	}

	gw := gateway.New(gateway.Config{
		Addr:          fileCfg.Addr,
		Version:       Version,
		RatePerOrigin: float64(fileCfg.RateLimitPerOrigin),
	}, gateway.Deps{
		Pairing:   pairingManager,
		Broker:    broker,
		Vault:     fileVault,
		Audit:     auditStore,
		Approvals: approvals,
		Hub:       hub,
	})

	// Fail fast on bind errors and non-loopback addresses.
	if err := <-gw.StartAsync(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Purge expired pairing codes and tokens in the background.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go pairingManager.RunSweeper(sweepCtx, fileCfg.SweepInterval())

	fmt.Fprintf(stdout, "Bridge listening on http://%s\n", fileCfg.Addr)
	fmt.Fprintln(stdout, "Run 'vaultlink pair' to pair a browser extension. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "Warning: shutdown error: %v\n", err)
	}

	return 0
}
