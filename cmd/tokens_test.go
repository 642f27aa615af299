package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{2 * time.Hour, "2h ago"},
		{72 * time.Hour, "3d ago"},
		{-time.Minute, "in the future"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRunTokensList(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tokens": []map[string]any{
				{
					"token_id":      "tok-1",
					"browser_label": "Firefox on laptop",
					"issued_at":     now.Add(-2 * time.Hour),
					"expires_at":    now.Add(22 * time.Hour),
					"revoked":       false,
				},
				{
					"token_id":      "tok-2",
					"browser_label": "Chrome",
					"issued_at":     now.Add(-48 * time.Hour),
					"expires_at":    now.Add(-24 * time.Hour),
					"revoked":       true,
				},
			},
		})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runTokensList([]string{"--addr", strings.TrimPrefix(srv.URL, "http://")}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "tok-1") || !strings.Contains(out, "Firefox on laptop") {
		t.Errorf("output missing first token: %s", out)
	}
	if !strings.Contains(out, "revoked") {
		t.Errorf("output missing revoked status: %s", out)
	}
}

func TestRunTokensList_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tokens": []any{}})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runTokensList([]string{"--addr", strings.TrimPrefix(srv.URL, "http://")}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "No paired extensions") {
		t.Errorf("expected empty message, got: %s", stdout.String())
	}
}

func TestRunTokensRevoke(t *testing.T) {
	var gotTokenID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TokenID string `json:"token_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotTokenID = req.TokenID
		json.NewEncoder(w).Encode(map[string]string{"status": "revoked"})
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := runTokensRevoke([]string{"--addr", strings.TrimPrefix(srv.URL, "http://"), "tok-1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if gotTokenID != "tok-1" {
		t.Errorf("daemon received token_id %q, want tok-1", gotTokenID)
	}
	if !strings.Contains(stdout.String(), "revoked") {
		t.Errorf("expected confirmation, got: %s", stdout.String())
	}
}

func TestRunTokensRevoke_MissingArg(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := runTokensRevoke(nil, &stdout, &stderr)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Errorf("expected usage on stderr, got: %s", stderr.String())
	}
}
