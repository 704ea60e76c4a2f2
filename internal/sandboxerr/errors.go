// Package sandboxerr defines the error kinds the sandbox orchestrator core
// distinguishes, so callers can discriminate with errors.As instead of
// string matching.
package sandboxerr

import "fmt"

// Kind identifies one of the error categories the core raises.
type Kind string

const (
	KindConfigInvalid   Kind = "ConfigInvalid"
	KindHostCommand     Kind = "HostCommandFailed"
	KindFirecrackerAPI  Kind = "FirecrackerApi"
	KindGuestRPC        Kind = "GuestRpc"
	KindHealthTimeout   Kind = "HealthTimeout"
	KindNotImplemented  Kind = "NotImplemented"
	KindNotFound        Kind = "NotFound"
	KindIO              Kind = "Io"
)

// Error is the common shape for every error kind the core raises.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, sandboxerr.ErrNotFound) style checks work by
// comparing Kind whenever the target is itself a *Error; the target's
// message is ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func ConfigInvalid(msg string) *Error               { return new_(KindConfigInvalid, msg, nil) }
func IOError(msg string, err error) *Error          { return new_(KindIO, msg, err) }
func NotImplemented(msg string) *Error              { return new_(KindNotImplemented, msg, nil) }
func NotFound(msg string) *Error                    { return new_(KindNotFound, msg, nil) }
func HealthTimeout(msg string) *Error               { return new_(KindHealthTimeout, msg, nil) }
func GuestRPC(method, remoteMsg string) *Error {
	return new_(KindGuestRPC, fmt.Sprintf("%s: %s", method, remoteMsg), nil)
}

// HostCommand carries the argv, stdout and stderr of a failed ip/iptables/
// cp/tmux/mount subprocess.
func HostCommand(argv []string, stdout, stderr string, err error) *Error {
	return new_(KindHostCommand, fmt.Sprintf("argv=%v stdout=%q stderr=%q", argv, stdout, stderr), err)
}

// FirecrackerAPI carries the status code and path of a non-2xx response
// from the per-VM Firecracker socket.
func FirecrackerAPI(method, path string, status int, body string) *Error {
	return new_(KindFirecrackerAPI, fmt.Sprintf("%s %s -> %d: %s", method, path, status, body), nil)
}

// Sentinel instances usable with errors.Is for kind-only comparisons.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
	ErrHealthTimeout  = &Error{Kind: KindHealthTimeout}
)
