package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultlink/bridge/internal/approval"
	"github.com/vaultlink/bridge/internal/audit"
	"github.com/vaultlink/bridge/internal/pairing"
	"github.com/vaultlink/bridge/internal/store"
	"github.com/vaultlink/bridge/internal/vault"
)

// autoPrompter resolves every prompt with a fixed decision, standing in
// for a connected approval UI.
type autoPrompter struct {
	decision approval.Decision
	remember bool
	resolve  Resolver
}

func (p *autoPrompter) Prompt(req approval.Request) {
	p.resolve(req.RequestID, p.decision, p.remember)
}

type testEnv struct {
	srv     *httptest.Server
	gateway *Gateway
	manager *pairing.Manager
	broker  *approval.Broker
	vault   *vault.FileVault
	audit   *audit.Store
}

func newTestEnv(t *testing.T, prompter approval.Prompter, timeout time.Duration) *testEnv {
	t.Helper()

	dir := t.TempDir()

	tokens := store.NewTokenStore(filepath.Join(dir, "tokens.json"))
	approvals := store.NewApprovalStore(filepath.Join(dir, "approvals.json"))

	auditStore, err := audit.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })

	manager := pairing.NewManager(pairing.Config{
		BcryptCost: bcrypt.MinCost,
		Tokens:     tokens,
		Audit:      auditStore,
	})

	fv := vault.NewFileVault(filepath.Join(dir, "vault.json"))

	hub := NewPromptHub()
	broker := approval.New(approvals, auditStore, prompter, timeout)
	hub.SetResolver(broker.Resolve)

	g := New(Config{Addr: "127.0.0.1:0", Version: "test"}, Deps{
		Pairing:   manager,
		Broker:    broker,
		Vault:     fv,
		Audit:     auditStore,
		Approvals: approvals,
		Hub:       hub,
	})

	srv := httptest.NewServer(g.createMux())
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	return &testEnv{
		srv:     srv,
		gateway: g,
		manager: manager,
		broker:  broker,
		vault:   fv,
		audit:   auditStore,
	}
}

// postJSON sends a POST with optional bearer token and fingerprint
// header, returning status and decoded body.
func (env *testEnv) postJSON(t *testing.T, path, token, fp string, body any) (int, map[string]any) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if fp != "" {
		req.Header.Set("X-Client-Fingerprint", fp)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response from %s: %v", path, err)
	}
	return resp.StatusCode, decoded
}

func (env *testEnv) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(env.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response from %s: %v", path, err)
	}
	return resp.StatusCode, decoded
}

// pair runs the full pairing handshake over HTTP and returns the raw
// bearer token.
func (env *testEnv) pair(t *testing.T, fp, label string) string {
	t.Helper()

	status, body := env.postJSON(t, "/v1/pair/generate", "", "", nil)
	if status != http.StatusOK {
		t.Fatalf("pair/generate status = %d, body = %v", status, body)
	}
	code, _ := body["code"].(string)
	if len(code) != 6 {
		t.Fatalf("generated code = %q, want 6 digits", code)
	}

	status, body = env.postJSON(t, "/v1/pair", "", "", map[string]string{
		"code":          code,
		"fingerprint":   fp,
		"browser_label": label,
	})
	if status != http.StatusOK {
		t.Fatalf("pair status = %d, body = %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("pair response missing token: %v", body)
	}
	return token
}

func TestStatus_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)

	status, body := env.getJSON(t, "/v1/status")
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
	if body["locked"] != false {
		t.Errorf("locked = %v, want false", body["locked"])
	}
	if body["pairing_active"] != false {
		t.Errorf("pairing_active = %v, want false", body["pairing_active"])
	}

	env.postJSON(t, "/v1/pair/generate", "", "", nil)
	_, body = env.getJSON(t, "/v1/status")
	if body["pairing_active"] != true {
		t.Errorf("pairing_active after generate = %v, want true", body["pairing_active"])
	}
}

func TestPair_FullHandshake(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)

	token := env.pair(t, "ff:aa:01", "Firefox on laptop")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	// The code was consumed, a second redemption must fail.
	status, body := env.postJSON(t, "/v1/pair", "", "", map[string]string{
		"code":        "000000",
		"fingerprint": "ff:aa:01",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("redeem bogus code status = %d, want 401", status)
	}
	if body["error"] != "pair.invalid_code" {
		t.Errorf("error code = %v, want pair.invalid_code", body["error"])
	}
}

func TestPair_MissingCode(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)

	status, body := env.postJSON(t, "/v1/pair", "", "", map[string]string{
		"fingerprint": "ff:aa:01",
	})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %v", status, body)
	}
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)
	env.pair(t, "ff:aa:01", "Firefox")

	query := map[string]string{"origin": "github.com"}

	// No Authorization header at all.
	status, body := env.postJSON(t, "/v1/credentials/query", "", "ff:aa:01", query)
	if status != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", status)
	}
	if body["error"] != "auth.required" {
		t.Errorf("missing token error = %v, want auth.required", body["error"])
	}

	// Garbage token.
	status, body = env.postJSON(t, "/v1/credentials/query", "not-a-real-token", "ff:aa:01", query)
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", status)
	}
	if body["error"] != "auth.invalid" {
		t.Errorf("bad token error = %v, want auth.invalid", body["error"])
	}
}

func TestAuth_FingerprintMismatchLooksLikeBadToken(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)
	token := env.pair(t, "ff:aa:01", "Firefox")

	status, body := env.postJSON(t, "/v1/credentials/query", token, "other-fingerprint",
		map[string]string{"origin": "github.com"})
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	// Same code as an unknown token, so a stolen token cannot be used to
	// learn that the secret itself was right.
	if body["error"] != "auth.invalid" {
		t.Errorf("error = %v, want auth.invalid", body["error"])
	}
}

func TestCredentialsQuery_ApprovedReleasesEntries(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved}
	env := newTestEnv(t, prompter, 2*time.Second)
	prompter.resolve = env.broker.Resolve

	if err := env.vault.Add(vault.Entry{
		Origin:   "github.com",
		Title:    "GitHub",
		Username: "alice",
		Password: "hunter2",
	}); err != nil {
		t.Fatalf("vault.Add() error = %v", err)
	}

	token := env.pair(t, "ff:aa:01", "Firefox")

	status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
		map[string]string{"origin": "GitHub.com"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %v", status, body)
	}

	entries, ok := body["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("entries = %v, want one entry", body["entries"])
	}
	entry := entries[0].(map[string]any)
	if entry["username"] != "alice" {
		t.Errorf("username = %v, want alice", entry["username"])
	}
	if entry["password"] != "hunter2" {
		t.Errorf("password = %v, want hunter2", entry["password"])
	}
}

func TestCredentialsQuery_RefusalsShareOneShape(t *testing.T) {
	// Denied with matching entries, timed out with matching entries, and
	// approved with no entries must produce byte-identical error bodies.
	type result struct {
		status int
		body   map[string]any
	}
	var results []result

	// Denied.
	{
		prompter := &autoPrompter{decision: approval.DecisionDenied}
		env := newTestEnv(t, prompter, 2*time.Second)
		prompter.resolve = env.broker.Resolve
		env.vault.Add(vault.Entry{Origin: "github.com", Username: "alice", Password: "x"})
		token := env.pair(t, "ff:aa:01", "Firefox")
		status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
			map[string]string{"origin": "github.com"})
		results = append(results, result{status, body})
	}

	// Timed out (no prompter ever answers).
	{
		env := newTestEnv(t, nil, 100*time.Millisecond)
		env.vault.Add(vault.Entry{Origin: "github.com", Username: "alice", Password: "x"})
		token := env.pair(t, "ff:aa:01", "Firefox")
		status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
			map[string]string{"origin": "github.com"})
		results = append(results, result{status, body})
	}

	// Approved but nothing stored for the origin.
	{
		prompter := &autoPrompter{decision: approval.DecisionApproved}
		env := newTestEnv(t, prompter, 2*time.Second)
		prompter.resolve = env.broker.Resolve
		token := env.pair(t, "ff:aa:01", "Firefox")
		status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
			map[string]string{"origin": "github.com"})
		results = append(results, result{status, body})
	}

	for i, r := range results {
		if r.status != http.StatusForbidden {
			t.Errorf("case %d: status = %d, want 403", i, r.status)
		}
		if r.body["error"] != "gateway.forbidden" {
			t.Errorf("case %d: error = %v, want gateway.forbidden", i, r.body["error"])
		}
		if r.body["message"] != results[0].body["message"] {
			t.Errorf("case %d: message %q differs from case 0 %q",
				i, r.body["message"], results[0].body["message"])
		}
	}
}

func TestCredentialsQuery_RememberedDecisionSkipsPrompt(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved, remember: true}
	env := newTestEnv(t, prompter, 2*time.Second)

	prompts := 0
	prompter.resolve = func(requestID string, d approval.Decision, remember bool) bool {
		prompts++
		return env.broker.Resolve(requestID, d, remember)
	}

	env.vault.Add(vault.Entry{Origin: "github.com", Username: "alice", Password: "x"})
	token := env.pair(t, "ff:aa:01", "Firefox")

	for i := 0; i < 3; i++ {
		status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
			map[string]string{"origin": "github.com"})
		if status != http.StatusOK {
			t.Fatalf("query %d status = %d, body = %v", i, status, body)
		}
	}
	if prompts != 1 {
		t.Errorf("prompt count = %d, want 1 (later queries replay the remembered decision)", prompts)
	}
}

func TestCredentialsQuery_LockedVault(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)
	env.vault.Lock()
	token := env.pair(t, "ff:aa:01", "Firefox")

	status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
		map[string]string{"origin": "github.com"})
	if status != http.StatusLocked {
		t.Errorf("status = %d, want 423", status)
	}
	if body["error"] != "vault.locked" {
		t.Errorf("error = %v, want vault.locked", body["error"])
	}
}

func TestCredentialsExists_NoPromptNeeded(t *testing.T) {
	// nil prompter with a short timeout: if exists ever consulted the
	// broker, the request would stall and come back denied.
	env := newTestEnv(t, nil, 100*time.Millisecond)
	env.vault.Add(vault.Entry{Origin: "github.com", Username: "alice", Password: "x"})
	token := env.pair(t, "ff:aa:01", "Firefox")

	status, body := env.postJSON(t, "/v1/credentials/exists", token, "ff:aa:01",
		map[string]string{"origin": "github.com", "username": "alice"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["exists"] != true {
		t.Errorf("exists = %v, want true", body["exists"])
	}

	status, body = env.postJSON(t, "/v1/credentials/exists", token, "ff:aa:01",
		map[string]string{"origin": "github.com", "username": "bob"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["exists"] != false {
		t.Errorf("exists = %v, want false", body["exists"])
	}
}

func TestCredentialsStore_CreatedThenConflict(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved}
	env := newTestEnv(t, prompter, 2*time.Second)
	prompter.resolve = env.broker.Resolve

	token := env.pair(t, "ff:aa:01", "Firefox")

	payload := map[string]string{
		"origin":   "example.com",
		"title":    "Example",
		"username": "alice",
		"password": "s3cret",
	}

	status, body := env.postJSON(t, "/v1/credentials/store", token, "ff:aa:01", payload)
	if status != http.StatusCreated {
		t.Fatalf("store status = %d, body = %v", status, body)
	}

	exists, err := env.vault.HasEntry("example.com", "alice")
	if err != nil || !exists {
		t.Errorf("HasEntry() = %v, %v, want true, nil", exists, err)
	}

	status, body = env.postJSON(t, "/v1/credentials/store", token, "ff:aa:01", payload)
	if status != http.StatusConflict {
		t.Errorf("duplicate store status = %d, want 409", status)
	}
	if body["error"] != "vault.duplicate" {
		t.Errorf("error = %v, want vault.duplicate", body["error"])
	}
}

func TestCredentialsStore_DeniedNothingSaved(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionDenied}
	env := newTestEnv(t, prompter, 2*time.Second)
	prompter.resolve = env.broker.Resolve

	token := env.pair(t, "ff:aa:01", "Firefox")

	status, _ := env.postJSON(t, "/v1/credentials/store", token, "ff:aa:01", map[string]string{
		"origin":   "example.com",
		"username": "alice",
		"password": "s3cret",
	})
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}

	exists, err := env.vault.HasEntry("example.com", "alice")
	if err != nil || exists {
		t.Errorf("HasEntry() = %v, %v, want false, nil", exists, err)
	}
}

func TestOriginRateLimit(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved}

	dir := t.TempDir()
	tokens := store.NewTokenStore(filepath.Join(dir, "tokens.json"))
	approvals := store.NewApprovalStore(filepath.Join(dir, "approvals.json"))
	manager := pairing.NewManager(pairing.Config{BcryptCost: bcrypt.MinCost, Tokens: tokens})
	fv := vault.NewFileVault(filepath.Join(dir, "vault.json"))
	broker := approval.New(approvals, nil, prompter, 2*time.Second)
	prompter.resolve = broker.Resolve

	// Tiny burst so the limit trips within a test run.
	g := New(Config{Addr: "127.0.0.1:0", RatePerOrigin: 1, RateBurst: 2}, Deps{
		Pairing:   manager,
		Broker:    broker,
		Vault:     fv,
		Approvals: approvals,
	})
	srv := httptest.NewServer(g.createMux())
	defer srv.Close()

	env := &testEnv{srv: srv, gateway: g, manager: manager, broker: broker, vault: fv}
	token := env.pair(t, "ff:aa:01", "Firefox")

	var got429 bool
	for i := 0; i < 5; i++ {
		status, body := env.postJSON(t, "/v1/credentials/exists", token, "ff:aa:01",
			map[string]string{"origin": "github.com", "username": "alice"})
		if status == http.StatusTooManyRequests {
			if body["error"] != "gateway.rate_limited" {
				t.Errorf("error = %v, want gateway.rate_limited", body["error"])
			}
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected a 429 after exhausting the per-origin burst")
	}

	// A different origin has its own bucket.
	status, _ := env.postJSON(t, "/v1/credentials/exists", token, "ff:aa:01",
		map[string]string{"origin": "other.example", "username": "alice"})
	if status != http.StatusOK {
		t.Errorf("other origin status = %d, want 200", status)
	}
}

func TestTokens_ListAndRevoke(t *testing.T) {
	env := newTestEnv(t, nil, time.Second)
	token := env.pair(t, "ff:aa:01", "Firefox")

	status, body := env.getJSON(t, "/v1/tokens")
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	list, ok := body["tokens"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("tokens = %v, want one record", body["tokens"])
	}
	rec := list[0].(map[string]any)
	if rec["browser_label"] != "Firefox" {
		t.Errorf("browser_label = %v, want Firefox", rec["browser_label"])
	}
	if _, present := rec["token_hash"]; present {
		t.Error("token list must not expose the stored hash")
	}
	tokenID, _ := rec["token_id"].(string)
	if tokenID == "" {
		t.Fatal("token_id missing from list")
	}

	status, _ = env.postJSON(t, "/v1/tokens/revoke", "", "", map[string]string{"token_id": tokenID})
	if status != http.StatusOK {
		t.Fatalf("revoke status = %d", status)
	}

	// The revoked token is now indistinguishable from an invalid one.
	status, body = env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01",
		map[string]string{"origin": "github.com"})
	if status != http.StatusUnauthorized {
		t.Errorf("post-revoke status = %d, want 401", status)
	}
	if body["error"] != "auth.invalid" {
		t.Errorf("post-revoke error = %v, want auth.invalid", body["error"])
	}
}

func TestApprovals_RevokeForcesReprompt(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved, remember: true}
	env := newTestEnv(t, prompter, 2*time.Second)

	prompts := 0
	prompter.resolve = func(requestID string, d approval.Decision, remember bool) bool {
		prompts++
		return env.broker.Resolve(requestID, d, remember)
	}

	env.vault.Add(vault.Entry{Origin: "github.com", Username: "alice", Password: "x"})
	token := env.pair(t, "ff:aa:01", "Firefox")

	query := map[string]string{"origin": "github.com"}
	env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", query)
	env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", query)
	if prompts != 1 {
		t.Fatalf("prompt count = %d, want 1 before revocation", prompts)
	}

	status, body := env.postJSON(t, "/v1/approvals/revoke", "", "", map[string]string{
		"origin":      "github.com",
		"fingerprint": "ff:aa:01",
	})
	if status != http.StatusOK {
		t.Fatalf("approvals/revoke status = %d", status)
	}
	if body["removed"] != true {
		t.Errorf("removed = %v, want true", body["removed"])
	}

	env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", query)
	if prompts != 2 {
		t.Errorf("prompt count = %d, want 2 after the remembered decision was revoked", prompts)
	}
}

func TestApprovals_Clear(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved, remember: true}
	env := newTestEnv(t, prompter, 2*time.Second)
	prompter.resolve = env.broker.Resolve

	env.vault.Add(vault.Entry{Origin: "a.example", Username: "u", Password: "p"})
	env.vault.Add(vault.Entry{Origin: "b.example", Username: "u", Password: "p"})
	token := env.pair(t, "ff:aa:01", "Firefox")

	env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", map[string]string{"origin": "a.example"})
	env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", map[string]string{"origin": "b.example"})

	status, body := env.postJSON(t, "/v1/approvals/clear", "", "", nil)
	if status != http.StatusOK {
		t.Fatalf("clear status = %d", status)
	}
	if n, _ := body["removed"].(float64); n != 2 {
		t.Errorf("removed = %v, want 2", body["removed"])
	}
}

func TestAudit_RecordsQueryOutcomes(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved}
	env := newTestEnv(t, prompter, 2*time.Second)
	prompter.resolve = env.broker.Resolve

	env.vault.Add(vault.Entry{Origin: "github.com", Username: "alice", Password: "x"})
	token := env.pair(t, "ff:aa:01", "Firefox")
	env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", map[string]string{"origin": "github.com"})

	status, body := env.getJSON(t, "/v1/audit?origin=github.com")
	if status != http.StatusOK {
		t.Fatalf("audit status = %d", status)
	}
	entries, ok := body["entries"].([]any)
	if !ok || len(entries) == 0 {
		t.Fatalf("audit entries = %v, want at least one", body["entries"])
	}

	found := false
	for _, raw := range entries {
		e := raw.(map[string]any)
		if e["action"] == "credentials.query" && e["outcome"] == "approved" {
			found = true
			if fp, _ := e["fingerprint_hash"].(string); len(fp) != 32 {
				t.Errorf("fingerprint_hash = %q, want 32 hex chars", fp)
			}
			if e["fingerprint_hash"] == "ff:aa:01" {
				t.Error("audit log must not contain the raw fingerprint")
			}
		}
	}
	if !found {
		t.Error("no approved credentials.query entry in the audit log")
	}
}

func TestValidateLoopbackAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:43110", false},
		{"localhost:43110", false},
		{"[::1]:43110", false},
		{"0.0.0.0:43110", true},
		{"192.168.1.5:43110", true},
		{"example.com:43110", true},
		{"no-port", true},
	}

	for _, tt := range tests {
		err := validateLoopbackAddr(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateLoopbackAddr(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
		}
	}
}

func TestStartAsync_RefusesNonLoopback(t *testing.T) {
	g := New(Config{Addr: "0.0.0.0:0"}, Deps{})

	err := <-g.StartAsync()
	if err == nil {
		t.Fatal("expected startup error for non-loopback address")
	}
}

// testClock is a controllable time source for expiry tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newClockEnv is newTestEnv with the pairing manager on a controllable
// clock so codes and tokens can be aged past their windows.
func newClockEnv(t *testing.T, prompter approval.Prompter) (*testEnv, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Now()}
	dir := t.TempDir()
	tokens := store.NewTokenStore(filepath.Join(dir, "tokens.json"))
	approvals := store.NewApprovalStore(filepath.Join(dir, "approvals.json"))
	manager := pairing.NewManager(pairing.Config{
		BcryptCost: bcrypt.MinCost,
		Tokens:     tokens,
		TimeNow:    clock.Now,
	})
	fv := vault.NewFileVault(filepath.Join(dir, "vault.json"))
	broker := approval.New(approvals, nil, prompter, 2*time.Second)

	g := New(Config{Addr: "127.0.0.1:0", Version: "test"}, Deps{
		Pairing:   manager,
		Broker:    broker,
		Vault:     fv,
		Approvals: approvals,
	})
	srv := httptest.NewServer(g.createMux())
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, gateway: g, manager: manager, broker: broker, vault: fv}
	return env, clock
}

func TestPair_ExpiredCodeDistinctFromUnknown(t *testing.T) {
	env, clock := newClockEnv(t, nil)

	code, err := env.manager.IssueCode("")
	if err != nil {
		t.Fatalf("IssueCode() error: %v", err)
	}

	clock.Advance(3 * time.Minute)

	req := map[string]string{
		"code":          code.Code,
		"fingerprint":   "ff:aa:01",
		"browser_label": "Firefox",
	}
	status, body := env.postJSON(t, "/v1/pair", "", "", req)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %v", status, body)
	}
	if body["error"] != "pair.expired_code" {
		t.Errorf("error = %v, want pair.expired_code", body["error"])
	}

	// The first attempt consumed the expired record; a replay looks like
	// a code that never existed.
	status, body = env.postJSON(t, "/v1/pair", "", "", req)
	if status != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", status)
	}
	if body["error"] != "pair.invalid_code" {
		t.Errorf("replay error = %v, want pair.invalid_code", body["error"])
	}
}

func TestAuth_ExpiredTokenSaysPairAgain(t *testing.T) {
	env, clock := newClockEnv(t, nil)
	token := env.pair(t, "ff:aa:01", "Firefox")

	clock.Advance(25 * time.Hour)

	status, body := env.postJSON(t, "/v1/credentials/exists", token, "ff:aa:01",
		map[string]string{"origin": "github.com", "username": "alice"})
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %v", status, body)
	}
	if body["error"] != "auth.expired" {
		t.Errorf("error = %v, want auth.expired", body["error"])
	}
}

// TestExtensionLifecycle walks one browser profile through the whole
// protocol: pair, an approved query, a second query that prompts again,
// a stolen-token attempt, and revocation.
func TestExtensionLifecycle(t *testing.T) {
	prompter := &autoPrompter{decision: approval.DecisionApproved}
	env := newTestEnv(t, prompter, 2*time.Second)

	prompts := 0
	prompter.resolve = func(requestID string, d approval.Decision, remember bool) bool {
		prompts++
		return env.broker.Resolve(requestID, d, remember)
	}

	if err := env.vault.Add(vault.Entry{
		Origin:   "github.com",
		Title:    "GitHub",
		Username: "alice",
		Password: "hunter2",
	}); err != nil {
		t.Fatalf("vault.Add() error = %v", err)
	}

	token := env.pair(t, "ff:aa:01", "Firefox")

	query := map[string]string{"origin": "github.com"}
	status, body := env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", query)
	if status != http.StatusOK {
		t.Fatalf("first query status = %d, body = %v", status, body)
	}

	// The decision was not remembered, so a second query prompts again.
	status, _ = env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", query)
	if status != http.StatusOK {
		t.Fatalf("second query status = %d, want 200", status)
	}
	if prompts != 2 {
		t.Errorf("prompt count = %d, want 2", prompts)
	}

	// The token presented with another client's fingerprint is refused
	// like any bad token.
	status, body = env.postJSON(t, "/v1/credentials/query", token, "fp-thief", query)
	if status != http.StatusUnauthorized {
		t.Fatalf("mismatched fingerprint status = %d, want 401", status)
	}
	if body["error"] != "auth.invalid" {
		t.Errorf("error = %v, want auth.invalid", body["error"])
	}

	// Revoke the token; the paired client is locked out too.
	recs := env.manager.ListTokens()
	if len(recs) != 1 {
		t.Fatalf("ListTokens() = %d records, want 1", len(recs))
	}
	status, _ = env.postJSON(t, "/v1/tokens/revoke", "", "",
		map[string]string{"token_id": recs[0].ID})
	if status != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200", status)
	}

	status, body = env.postJSON(t, "/v1/credentials/query", token, "ff:aa:01", query)
	if status != http.StatusUnauthorized {
		t.Fatalf("post-revoke status = %d, want 401", status)
	}
	if body["error"] != "auth.invalid" {
		t.Errorf("post-revoke error = %v, want auth.invalid", body["error"])
	}
}
