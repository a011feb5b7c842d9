package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pinchtab/veilgate/internal/proc"
	"github.com/pinchtab/veilgate/internal/tunnel"
)

// Tunnel is a live local SOCKS endpoint fronting an ssh:// upstream.
type Tunnel interface {
	Port() int
	PID() int
	Done() <-chan struct{}
	// Close kills the client and removes transient files. Never fails.
	Close()
}

type TunnelOpener interface {
	OpenTunnel(ctx context.Context, profileID, profileDir, link string) (Tunnel, error)
}

// SSHTunnels opens tunnels through a shared tunnel.Manager.
type SSHTunnels struct {
	Manager *tunnel.Manager
}

func (t SSHTunnels) OpenTunnel(ctx context.Context, profileID, profileDir, link string) (Tunnel, error) {
	s, err := t.Manager.Open(ctx, tunnel.OpenRequest{ProfileID: profileID, ProfileDir: profileDir, Link: link})
	if err != nil {
		return nil, err
	}
	return sshTunnel{s}, nil
}

type sshTunnel struct{ s *tunnel.Session }

func (t sshTunnel) Port() int { return t.s.LocalPort }
func (t sshTunnel) PID() int { return t.s.PID() }
func (t sshTunnel) Done() <-chan struct{} { return t.s.Done() }
func (t sshTunnel) Close() { t.s.Close() }

// Session is the registered triple of proxy core, optional tunnel and
// browser serving one profile.
type Session struct {
	ID         string
	ProfileID  string
	LocalPort  int
	DebugPort  int
	TunnelKind string
	RouteMode  string
	PreProxy   string
	Message    string
	StartedAt  time.Time

	core       proc.Cmd
	coreLog    *os.File
	tunnel     Tunnel
	browser    Browser
	browserLog *os.File
	journaled  bool

	stopped      chan struct{}
	teardownOnce sync.Once
}

// SessionInfo is what launch hands back to control clients.
type SessionInfo struct {
	ProfileID  string    `json:"profileId"`
	SessionID  string    `json:"sessionId,omitempty"`
	LocalPort  int       `json:"localPort"`
	Proxy      string    `json:"proxy"`
	HTTP       string    `json:"http,omitempty"`
	DebugPort  int       `json:"debugPort,omitempty"`
	Tunnel     string    `json:"tunnel,omitempty"`
	RouteMode  string    `json:"routeMode,omitempty"`
	PreProxy   string    `json:"preProxy,omitempty"`
	Message    string    `json:"message,omitempty"`
	Reused     bool      `json:"reused,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	BrowserPID int       `json:"browserPid,omitempty"`
}

func (s *Session) proxyURL() string {
	return fmt.Sprintf("socks5://127.0.0.1:%d", s.LocalPort)
}

func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ProfileID: s.ProfileID,
		SessionID: s.ID,
		LocalPort: s.LocalPort,
		Proxy:     s.proxyURL(),
		DebugPort: s.DebugPort,
		Tunnel:    s.TunnelKind,
		RouteMode: s.RouteMode,
		PreProxy:  s.PreProxy,
		Message:   s.Message,
		StartedAt: s.StartedAt,
	}
	if s.DebugPort > 0 {
		info.HTTP = fmt.Sprintf("http://127.0.0.1:%d", s.DebugPort)
	}
	if s.browser != nil {
		info.BrowserPID = s.browser.PID()
	}
	return info
}
