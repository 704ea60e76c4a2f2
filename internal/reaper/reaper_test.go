package reaper

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
)

type fakeRunner struct {
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) (string, string, error) {
	f.calls = append(f.calls, argv)
	return "", "", nil
}

func TestHandleCleanupRemovesVMDirectoryAndTearsDownNetwork(t *testing.T) {
	dir := t.TempDir()
	vmDir := filepath.Join(dir, "firecracker", "abc")
	if err := os.MkdirAll(vmDir, 0o755); err != nil {
		t.Fatalf("mkdir vm dir: %v", err)
	}

	runner := &fakeRunner{}
	r := &Reaper{
		chrootBaseDir:   dir,
		firecrackerPath: "/usr/local/bin/firecracker",
		hostInterface:   "ens4",
		runner:          runner,
	}

	payload, err := json.Marshal(CleanupPayload{ID: "abc", AddressBlockIndex: 0})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task := asynq.NewTask(TaskTypeCleanup, payload)

	if err := r.handleCleanup(context.Background(), task); err != nil {
		t.Fatalf("handleCleanup: %v", err)
	}

	if _, err := os.Stat(vmDir); !os.IsNotExist(err) {
		t.Errorf("expected vm directory %s to be removed, stat err = %v", vmDir, err)
	}

	if len(runner.calls) == 0 {
		t.Error("expected teardown to issue at least one host command")
	}
}

func TestCleanupPayloadRoundTrips(t *testing.T) {
	payload := CleanupPayload{ID: "sandbox-1", AddressBlockIndex: 42}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded CleanupPayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != payload {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, payload)
	}
}
