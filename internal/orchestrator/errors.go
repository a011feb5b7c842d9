package orchestrator

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pinchtab/veilgate/internal/proxylink"
	"github.com/pinchtab/veilgate/internal/store"
	"github.com/pinchtab/veilgate/internal/tunnel"
)

// ErrLaunchAborted is returned by a launch that was closed before it
// finished registering.
var ErrLaunchAborted = errors.New("launch aborted by close")

// ConfigError reports a profile that cannot be launched as configured. No
// subprocess has been started when it is returned.
type ConfigError struct {
	ProfileID string
	Reason    string
	Cause     error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("profile %s: %s: %v", e.ProfileID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("profile %s: %s", e.ProfileID, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// SpawnError reports a binary that failed to start or exited before it was
// ready.
type SpawnError struct {
	Component string
	LogPath   string
	Cause     error
}

func (e *SpawnError) Error() string {
	if e.LogPath != "" {
		return fmt.Sprintf("%s failed (see %s): %v", e.Component, e.LogPath, e.Cause)
	}
	return fmt.Sprintf("%s failed: %v", e.Component, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }

// classifyLaunchError maps a launch failure onto an HTTP status code.
func classifyLaunchError(err error) int {
	var cfgErr *ConfigError
	var linkErr *tunnel.LinkError
	var parseErr *proxylink.ParseError
	switch {
	case errors.Is(err, store.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr), errors.As(err, &linkErr), errors.As(err, &parseErr),
		errors.Is(err, tunnel.ErrPasswordUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, tunnel.ErrHostKeyNotTrusted):
		return http.StatusForbidden
	case errors.Is(err, ErrLaunchAborted):
		return http.StatusConflict
	case errors.Is(err, tunnel.ErrTunnelNotReady):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable code sent alongside a launch failure.
func errorCode(err error) string {
	var cfgErr *ConfigError
	var spawnErr *SpawnError
	switch {
	case errors.Is(err, store.ErrProfileNotFound):
		return "profile_not_found"
	case errors.Is(err, tunnel.ErrHostKeyNotTrusted):
		return "hostkey_rejected"
	case errors.Is(err, tunnel.ErrTunnelNotReady):
		return "tunnel_not_ready"
	case errors.Is(err, tunnel.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrLaunchAborted):
		return "launch_aborted"
	case errors.As(err, &cfgErr):
		return "config_error"
	case errors.As(err, &spawnErr):
		return "spawn_error"
	default:
		return "error"
	}
}
