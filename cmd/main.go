package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `vaultlink - local credential-access bridge for browser extensions

Usage:
  vaultlink <command> [options]

Commands:
  serve         Start the bridge daemon
  pair          Generate a pairing code for a browser extension
  status        Show bridge daemon status
  tokens list   List issued extension tokens
  tokens revoke <token-id>  Revoke an extension token
  approvals list           List remembered approval decisions
  approvals revoke         Forget a remembered decision
  approvals clear          Forget all remembered decisions
  audit         Show the credential access audit log

Run 'vaultlink <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "pair":
		return runPair(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "tokens":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: vaultlink tokens <list|revoke>")
			return 1
		}
		switch args[2] {
		case "list":
			return runTokensList(args[3:], stdout, stderr)
		case "revoke":
			return runTokensRevoke(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown tokens command: %s\n", args[2])
			return 1
		}
	case "approvals":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: vaultlink approvals <list|revoke|clear>")
			return 1
		}
		switch args[2] {
		case "list":
			return runApprovalsList(args[3:], stdout, stderr)
		case "revoke":
			return runApprovalsRevoke(args[3:], stdout, stderr)
		case "clear":
			return runApprovalsClear(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown approvals command: %s\n", args[2])
			return 1
		}
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "vaultlink %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
