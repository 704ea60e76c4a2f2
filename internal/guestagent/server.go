package guestagent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
)

// executeWorkDir is the fixed CWD every Execute call runs commands from.
const executeWorkDir = "/tmp/vdb"

// Server answers HealthCheck, Mount, and Execute requests inside the
// guest. It is mounted on the in-guest HTTP listener on Port.
type Server struct{}

// NewServer returns a guest-side agent server.
func NewServer() *Server { return &Server{} }

// Handler returns an http.Handler routing the three RPCs to their paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mount", s.handleMount)
	mux.HandleFunc("/execute", s.handleExecute)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	var req MountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := Mount(req.Device, req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(MountResponse{})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	output, err := Execute(req.Command, req.Arguments)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(ExecuteResponse{Output: output})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// Mount creates path recursively, then shells `mount <device> <path>`.
func Mount(device, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", path, err)
	}

	cmd := exec.Command("mount", device, path)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mount %s %s failed: %w: %s", device, path, err, stderr.String())
	}
	return nil
}

// Execute sets CWD to /tmp/vdb and runs command with arguments,
// returning its stdout as output. A non-zero exit becomes an error
// carrying both stdout and stderr.
func Execute(command string, arguments []string) (string, error) {
	cmd := exec.Command(command, arguments...)
	cmd.Dir = executeWorkDir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("command exited with error: %w: stdout=%q stderr=%q", err, stdout.String(), stderr.String())
	}

	return stdout.String(), nil
}
