package guestagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matchbox-labs/sandboxd/internal/sandboxerr"
)

// Client is a lazy connection to the guest agent running at a sandbox's
// NAT-visible IP: no socket is opened until the first call.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Connect returns a client targeting the guest agent at ip:Port. It does
// not perform any I/O; the underlying HTTP client connects on first use.
func Connect(ip string) *Client {
	return ConnectURL(fmt.Sprintf("http://%s:%d", ip, Port))
}

// ConnectURL returns a client targeting an arbitrary base URL, bypassing
// the fixed ip:Port convention. Tests use this to point at an httptest
// server standing in for a guest agent.
func ConnectURL(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// HealthCheck reports whether the guest agent is reachable and healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.call(ctx, "/health", HealthCheckRequest{})
	return err
}

// Mount asks the guest to mount device at path.
func (c *Client) Mount(ctx context.Context, device, path string) error {
	_, err := c.call(ctx, "/mount", MountRequest{Device: device, Path: path})
	return err
}

// Execute runs command with arguments inside the guest and returns its
// stdout. A non-zero exit surfaces as a GuestRpc error.
func (c *Client) Execute(ctx context.Context, command string, arguments []string) (string, error) {
	body, err := c.call(ctx, "/execute", ExecuteRequest{Command: command, Arguments: arguments})
	if err != nil {
		return "", err
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", sandboxerr.IOError("failed to decode execute response", err)
	}
	return resp.Output, nil
}

func (c *Client) call(ctx context.Context, path string, reqBody interface{}) ([]byte, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, sandboxerr.IOError("failed to marshal guest agent request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, sandboxerr.GuestRPC(path, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, sandboxerr.GuestRPC(path, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, sandboxerr.GuestRPC(path, msg)
	}

	return respBody, nil
}

// WaitHealthy polls HealthCheck every interval until it succeeds or
// timeout elapses, returning a HealthTimeout error on expiry.
func (c *Client) WaitHealthy(ctx context.Context, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.HealthCheck(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return sandboxerr.HealthTimeout("guest agent did not become healthy in time")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
