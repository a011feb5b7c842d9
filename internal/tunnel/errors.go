package tunnel

import (
	"errors"
	"fmt"
)

var (
	ErrHostKeyNotTrusted = errors.New("host key not trusted")
	ErrTunnelNotReady    = errors.New("tunnel not ready")
	ErrAuthFailed        = errors.New("ssh authentication failed")
	// ErrPasswordUnsupported is returned for password links when no
	// prompt-driven client (plink) is configured.
	ErrPasswordUnsupported = errors.New("password login requires plink")
	ErrUnknownRequest      = errors.New("unknown host key request")

	errClientExited = errors.New("ssh client exited before the forward port opened")
	errReadyTimeout = errors.New("timed out waiting for the forward port")
)

// LinkError reports a malformed ssh:// link. It is raised before any process
// is started.
type LinkError struct {
	Reason string
}

func (e *LinkError) Error() string { return "invalid ssh link: " + e.Reason }

// ReadinessError means the tunnel never accepted connections. LogPath points
// at the client's output for diagnosis.
type ReadinessError struct {
	LogPath string
	Cause   error
}

func (e *ReadinessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tunnel not ready (see %s): %v", e.LogPath, e.Cause)
	}
	return fmt.Sprintf("tunnel not ready (see %s)", e.LogPath)
}

func (e *ReadinessError) Is(target error) bool { return target == ErrTunnelNotReady }
func (e *ReadinessError) Unwrap() error        { return e.Cause }
