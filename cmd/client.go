package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultlink/bridge/internal/config"
)

// daemonClient talks to the running bridge daemon over loopback HTTP.
// The operator endpoints it uses are restricted to loopback peers on the
// daemon side, so there is nothing to authenticate here.
type daemonClient struct {
	addr string
	http *http.Client
}

func newDaemonClient(addr string) *daemonClient {
	if addr == "" {
		addr = config.DefaultAddr
	}
	return &daemonClient{
		addr: addr,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// get issues a GET and decodes the JSON response into out.
func (c *daemonClient) get(path string, out any) error {
	resp, err := c.http.Get("http://" + c.addr + path)
	if err != nil {
		return fmt.Errorf("could not connect to bridge at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, out)
}

// post issues a POST with a JSON body and decodes the response into out.
// body may be nil.
func (c *daemonClient) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	resp, err := c.http.Post("http://"+c.addr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("could not connect to bridge at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, out)
}

func (c *daemonClient) decode(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Message != "" {
			return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, errBody.Message)
		}
		return fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
