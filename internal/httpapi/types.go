package httpapi

import "github.com/matchbox-labs/sandboxd/internal/sandbox"

// ListSandboxesResponse is the body of GET /sandbox.
type ListSandboxesResponse struct {
	Sandboxes []sandbox.View `json:"sandboxes"`
}

// CreateSandboxRequest is the body of POST /sandbox. CodeDrivePath is nil
// when the caller wants the default dummy drive.
type CreateSandboxRequest struct {
	CodeDrivePath *sandbox.Location `json:"code_drive_path"`
}

// ExecuteResponse is the body of a successful execute call.
type ExecuteResponse struct {
	Output string `json:"output"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
