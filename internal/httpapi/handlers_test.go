package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matchbox-labs/sandboxd/internal/fcapi"
	"github.com/matchbox-labs/sandboxd/internal/guestagent"
	"github.com/matchbox-labs/sandboxd/internal/httpapi"
	"github.com/matchbox-labs/sandboxd/internal/ids"
	"github.com/matchbox-labs/sandboxd/internal/jailer"
	"github.com/matchbox-labs/sandboxd/internal/sandbox"
)

// fakeRunner is a no-op hostnet.Runner.
type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, argv []string) (string, string, error) {
	return "", "", nil
}

// fakeJailerLauncher binds to a local unix-socket Firecracker API stub.
type fakeJailerLauncher struct {
	rootDir    string
	socketPath string
}

func (f *fakeJailerLauncher) Spawn(ctx context.Context, id, netns string, uid, gid int) (*jailer.Process, error) {
	return &jailer.Process{
		PathResolver: jailer.PathResolver{RootDirectory: f.rootDir},
		APIClient:    fcapi.New(f.socketPath),
	}, nil
}

func newFirecrackerStub(t *testing.T, socketPath string) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/logger", ok)
	mux.HandleFunc("/boot-source", ok)
	mux.HandleFunc("/actions", ok)
	mux.HandleFunc("/drives/", ok)
	mux.HandleFunc("/network-interfaces/", ok)

	srv := httptest.NewUnstartedServer(mux)
	srv.Listener = listener
	srv.Start()
	return srv
}

// newTestServer wires a Server backed by a real Registry/Coordinator whose
// jailer, Firecracker, and guest-agent dependencies are all test doubles, so
// every request exercises the genuine coordinator and registry code paths.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	kernelSrc := filepath.Join(dir, "kernel-src.bin")
	rootfsSrc := filepath.Join(dir, "rootfs-src.ext4")
	dummySrc := filepath.Join(dir, "dummy-src.ext4")
	require.NoError(t, os.WriteFile(kernelSrc, []byte("kernel"), 0o644))
	require.NoError(t, os.WriteFile(rootfsSrc, []byte("rootfs"), 0o644))
	require.NoError(t, os.WriteFile(dummySrc, []byte("dummy"), 0o644))

	rootDir := filepath.Join(dir, "vm", "root")
	require.NoError(t, os.MkdirAll(rootDir, 0o755))

	socketPath := filepath.Join(dir, "firecracker.socket")
	fcSrv := newFirecrackerStub(t, socketPath)
	t.Cleanup(fcSrv.Close)

	guestMux := http.NewServeMux()
	guestMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	guestMux.HandleFunc("/mount", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) })
	guestMux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"output":""}`)) })
	guestSrv := httptest.NewServer(guestMux)
	t.Cleanup(guestSrv.Close)

	coord := &sandbox.Coordinator{
		Allocator:       ids.NewCounterAllocator(0, "sandbox-a"),
		HostInterface:   "ens4",
		Runner:          fakeRunner{},
		JailerLauncher:  &fakeJailerLauncher{rootDir: rootDir, socketPath: socketPath},
		KernelImagePath: kernelSrc,
		RootfsPath:      rootfsSrc,
		DummyDrivePath:  dummySrc,
		Uid:             1000,
		Gid:             1000,
		ConnectGuestClient: func(ip string) *guestagent.Client {
			return guestagent.ConnectURL(guestSrv.URL)
		},
	}

	registry := sandbox.NewRegistry(coord)
	srv := httpapi.New(registry, nil, nil)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestCreateListDeleteSandbox(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sandbox", "application/json", bytes.NewReader([]byte(`{"code_drive_path":null}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created sandbox.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "sandbox-a", created.ID)
	require.Equal(t, ids.NewAddressBlock(0).IP(2), created.IP)

	listResp, err := http.Get(ts.URL + "/sandbox")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listed httpapi.ListSandboxesResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	require.Len(t, listed.Sandboxes, 1)
	require.Equal(t, created, listed.Sandboxes[0])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sandbox/"+created.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	var deleted sandbox.View
	require.NoError(t, json.NewDecoder(delResp.Body).Decode(&deleted))
	require.Equal(t, created, deleted)
}

func TestCreateSandboxCloudStorageIsError(t *testing.T) {
	ts := newTestServer(t)

	body := `{"code_drive_path":{"type":"CloudStorage","path":"gs://bucket/object"}}`
	resp, err := http.Post(ts.URL+"/sandbox", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var errResp httpapi.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotEmpty(t, errResp.Message)
}

func TestDeleteUnknownSandboxIsError(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sandbox/nonexistent", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestExecuteSandboxRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	createResp, err := http.Post(ts.URL+"/sandbox", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer createResp.Body.Close()
	var created sandbox.View
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&created))

	execResp, err := http.Post(ts.URL+"/sandbox/"+created.ID+"/execute", "application/json", nil)
	require.NoError(t, err)
	defer execResp.Body.Close()
	require.Equal(t, http.StatusOK, execResp.StatusCode)

	var out httpapi.ExecuteResponse
	require.NoError(t, json.NewDecoder(execResp.Body).Decode(&out))
}

func TestExecuteUnknownSandboxIsError(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sandbox/nonexistent/execute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
