package fcapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func newUnixServer(t *testing.T, handler http.Handler) (*httptest.Server, string) {
	t.Helper()

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "firecracker.socket")

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to listen on unix socket: %v", err)
	}

	srv := httptest.NewUnstartedServer(handler)
	srv.Listener = listener
	srv.Start()

	return srv, socketPath
}

func TestClientPutDrive(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody Drive

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		if err := decodeJSON(r, &gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv, socketPath := newUnixServer(t, handler)
	defer srv.Close()

	c := New(socketPath)
	drive := Drive{
		DriveID:      "rootfs",
		IsRootDevice: true,
		CacheType:    CacheUnsafe,
		IoEngine:     IoSync,
		PathOnHost:   "/drives/rootfs.ext4",
	}

	if err := c.Put(context.Background(), "/drives/rootfs", drive); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotPath != "/drives/rootfs" {
		t.Errorf("path = %q, want /drives/rootfs", gotPath)
	}
	if gotBody.DriveID != "rootfs" || !gotBody.IsRootDevice {
		t.Errorf("unexpected decoded body: %+v", gotBody)
	}
}

func TestClientActionInstanceStart(t *testing.T) {
	var gotBody InstanceActionInfo

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions" {
			t.Errorf("path = %q, want /actions", r.URL.Path)
		}
		if err := decodeJSON(r, &gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv, socketPath := newUnixServer(t, handler)
	defer srv.Close()

	c := New(socketPath)
	if err := c.Action(context.Background(), ActionInstanceStart); err != nil {
		t.Fatalf("Action: %v", err)
	}
	if gotBody.ActionType != ActionInstanceStart {
		t.Errorf("action_type = %q, want InstanceStart", gotBody.ActionType)
	}
}

func TestClientNon2xxPropagatesAsError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"fault_message":"bad config"}`))
	})

	srv, socketPath := newUnixServer(t, handler)
	defer srv.Close()

	c := New(socketPath)
	err := c.Put(context.Background(), "/boot-source", BootSource{KernelImagePath: "/kernel.bin"})
	if err == nil {
		t.Fatal("expected error on 400 response, got nil")
	}
}

func TestClientWaitForHealthyTimesOut(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv, socketPath := newUnixServer(t, handler)
	defer srv.Close()

	c := New(socketPath)
	err := c.WaitForHealthy(context.Background(), 10*time.Millisecond, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected HealthTimeout error, got nil")
	}
}

func TestClientWaitForHealthySucceeds(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv, socketPath := newUnixServer(t, handler)
	defer srv.Close()

	c := New(socketPath)
	if err := c.WaitForHealthy(context.Background(), 10*time.Millisecond, time.Second); err != nil {
		t.Fatalf("WaitForHealthy: %v", err)
	}
}

// decodeJSON is a small test helper; production code uses Client.do.
func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
