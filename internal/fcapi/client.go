// Package fcapi is a minimal HTTP-over-Unix-socket client for the
// per-VM Firecracker API, plus the request/response bodies it exchanges.
package fcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/matchbox-labs/sandboxd/internal/sandboxerr"
)

// Client is a thin HTTP client bound to a single Firecracker instance's
// Unix-domain socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// New returns a client dialing the Firecracker API socket at socketPath.
// Connections are established lazily, on the first request.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 10 * time.Second,
		},
	}
}

// Get performs an HTTP GET against path on the VM's API socket and decodes
// the JSON response body into out (if non-nil).
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Put performs an HTTP PUT against path with body marshaled as JSON.
func (c *Client) Put(ctx context.Context, path string, body interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// Action is the PUT /actions convenience: body {"action_type": "<kind>"}.
func (c *Client) Action(ctx context.Context, kind ActionType) error {
	return c.Put(ctx, "/actions", InstanceActionInfo{ActionType: kind})
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return sandboxerr.IOError("failed to marshal request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reqBody)
	if err != nil {
		return sandboxerr.IOError("failed to build firecracker api request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sandboxerr.FirecrackerAPI(method, path, 0, err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return sandboxerr.FirecrackerAPI(method, path, resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return sandboxerr.IOError(fmt.Sprintf("failed to decode response from %s", path), err)
		}
	}

	return nil
}

// WaitForHealthy polls GET /version every interval until a 2xx response or
// timeout elapses. It returns a HealthTimeout error on expiry.
func (c *Client) WaitForHealthy(ctx context.Context, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.Get(ctx, "/version", nil); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return sandboxerr.HealthTimeout("firecracker api did not become healthy in time")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
