package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/skip2/go-qrcode"
)

// PairConfig holds configuration for the pair command.
type PairConfig struct {
	Addr string
	QR   bool // Display pairing info as QR code
}

func runPair(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &PairConfig{}
	fs.StringVar(&cfg.Addr, "addr", "", "Bridge address (default: 127.0.0.1:43110)")
	fs.BoolVar(&cfg.QR, "qr", false, "Display pairing information as QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vaultlink pair [options]\n\nGenerate a short pairing code for a browser extension.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nThe pairing code expires after two minutes and can only be used once.\n")
		fmt.Fprintf(stderr, "The extension enters this code on its setup page to obtain an access token.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	client := newDaemonClient(cfg.Addr)

	var result struct {
		Code      string    `json:"code"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := client.post("/v1/pair/generate", nil, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nThe bridge must be running to generate a pairing code.\n")
		fmt.Fprintf(stderr, "Start it with: vaultlink serve\n")
		return 1
	}

	if cfg.QR {
		DisplayQRCode(stdout, result.Code, result.ExpiresAt, client.addr)
	} else {
		DisplayPairingCode(stdout, result.Code, result.ExpiresAt, client.addr)
	}
	return 0
}

// DisplayPairingCode shows the pairing code to the user.
func DisplayPairingCode(w io.Writer, code string, expiry time.Time, addr string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         PAIRING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Expires: %s\n", expiry.Format("15:04:05"))
	fmt.Fprintf(w, "  Bridge:  %s\n", addr)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the extension to pair.")
	fmt.Fprintln(w, "  The code can only be used once.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayQRCode shows pairing information as a QR code with plain-text
// fallback. The QR payload uses a URL scheme the extension's setup page
// can parse: vaultlink://pair?addr=<addr>&code=<code>
func DisplayQRCode(w io.Writer, code string, expiry time.Time, addr string) {
	payload := fmt.Sprintf("vaultlink://pair?addr=%s&code=%s",
		url.QueryEscape(addr),
		code)

	// Medium error correction keeps the terminal rendering compact.
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		DisplayPairingCode(w, code, expiry, addr)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// Half-block rendering without a border keeps it readable in small
	// terminal windows.
	fmt.Fprint(w, qr.ToSmallString(false))

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	fmt.Fprintf(w, "  Code:    %s\n", FormatCodeWithSpaces(code))
	fmt.Fprintf(w, "  Bridge:  %s\n", addr)
	fmt.Fprintf(w, "  Expires: %s\n", expiry.Format("15:04:05"))
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// FormatCodeWithSpaces adds spaces between digits for readability.
// "123456" -> "1 2 3 4 5 6"
func FormatCodeWithSpaces(code string) string {
	result := ""
	for i, c := range code {
		if i > 0 {
			result += " "
		}
		result += string(c)
	}
	return result
}
