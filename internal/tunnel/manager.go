// Package tunnel turns ssh:// links into local SOCKS endpoints using a
// dynamic port-forward, including the host-key trust negotiation.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
)

const hostKeyProbeTimeout = 10 * time.Second

// Manager starts and negotiates ssh client sessions. One Manager is shared by
// the whole process so trusted pairs carry across profiles.
type Manager struct {
	Runner       proc.Runner
	Ports        *ports.Allocator
	Trust        *TrustStore
	Broker       *Broker
	SSHBinary    string
	PlinkBinary  string
	ReadyTimeout time.Duration

	// FetchHostKey reads the server key for the OpenSSH preflight. Nil uses
	// the package FetchHostKey.
	FetchHostKey func(ctx context.Context, host string, port int, timeout time.Duration) (ssh.PublicKey, error)
}

type OpenRequest struct {
	ProfileID  string
	ProfileDir string
	Link       string
}

func (m *Manager) readyTimeout() time.Duration {
	if m.ReadyTimeout > 0 {
		return m.ReadyTimeout
	}
	return 15 * time.Second
}

// Open parses the link, starts the client and returns once the local SOCKS
// port accepts connections. On any failure the client is killed and its
// files removed before returning.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	l, err := ParseLink(req.Link)
	if err != nil {
		return nil, err
	}
	if l.UsesPassword() && m.PlinkBinary == "" {
		return nil, ErrPasswordUnsupported
	}
	if l.Policy == PolicyAcceptAll {
		slog.Warn("host key policy accept-all trusts changed keys without asking", "profile", req.ProfileID, "host", l.Host)
	}

	logPath := filepath.Join(req.ProfileDir, "logs", "ssh.log")
	logFile, err := proc.OpenLog(logPath)
	if err != nil {
		return nil, fmt.Errorf("open ssh log: %w", err)
	}

	port, err := m.Ports.Allocate()
	if err != nil {
		logFile.Close()
		return nil, err
	}

	sess := &Session{
		ProfileID: req.ProfileID,
		LocalPort: port,
		Kind:      KindSSH,
		Policy:    l.Policy,
		LogPath:   logPath,
		Host:      l.Host,
		Port:      l.Port,
		log:       logFile,
		ports:     m.Ports,
		nego:      newNegotiation(req.ProfileID, l, m.Trust, m.Broker),
	}

	if l.UsesPassword() {
		err = m.startPlink(ctx, sess, l, req.ProfileDir)
	} else {
		err = m.startOpenSSH(ctx, sess, l, req.ProfileDir)
	}
	if err != nil {
		sess.Close()
		slog.Warn("ssh tunnel failed", "profile", req.ProfileID, "host", l.Host, "err", err)
		return nil, err
	}
	sess.nego.set(StateConnected)
	slog.Info("ssh tunnel ready", "profile", req.ProfileID, "host", l.Host, "port", l.Port,
		"localPort", port, "pid", sess.PID(), "policy", l.Policy)
	return sess, nil
}

func (m *Manager) spawn(ctx context.Context, spec proc.Spec) (proc.Cmd, error) {
	// The client outlives the launch request, so it only inherits values.
	cmd, err := m.Runner.Start(context.WithoutCancel(ctx), spec)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Binary, err)
	}
	return cmd, nil
}

func notReady(sess *Session, cause error) error {
	return &ReadinessError{LogPath: sess.LogPath, Cause: cause}
}

func (m *Manager) fetchHostKey(ctx context.Context, host string, port int) (ssh.PublicKey, error) {
	fetch := m.FetchHostKey
	if fetch == nil {
		fetch = FetchHostKey
	}
	return fetch(ctx, host, port, hostKeyProbeTimeout)
}

// cleanupCredentials removes password files left by aborted sessions.
func cleanupCredentials(profileDir string) {
	matches, _ := filepath.Glob(filepath.Join(profileDir, "ssh_pw_*.tmp"))
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove stale ssh credential file", "path", path, "err", err)
		}
	}
}
