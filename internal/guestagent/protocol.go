// Package guestagent implements the lazy unary RPC channel between the
// orchestrator and the in-guest agent, plus the guest-side server that
// answers health, mount, and execute requests. The wire transport is
// JSON over HTTP rather than the original gRPC service, since nothing in
// this codebase's dependency stack speaks protobuf/gRPC; see the design
// notes for the full rationale.
package guestagent

// Port is the fixed TCP port the guest agent listens on inside the VM.
const Port = 5001

// HealthCheckRequest has no fields.
type HealthCheckRequest struct{}

// HealthCheckResponse has no fields; a 200 response is the signal.
type HealthCheckResponse struct{}

// MountRequest asks the guest to mount a block device at a path.
type MountRequest struct {
	Device string `json:"device"`
	Path   string `json:"path"`
}

// MountResponse has no fields; a 200 response is the signal.
type MountResponse struct{}

// ExecuteRequest asks the guest to run a command with arguments.
type ExecuteRequest struct {
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
}

// ExecuteResponse carries the command's stdout.
type ExecuteResponse struct {
	Output string `json:"output"`
}

// errorResponse is what the guest-side server writes on a non-2xx path.
type errorResponse struct {
	Error string `json:"error"`
}
