package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pinchtab/veilgate/internal/proc"
)

func openSSHArgs(l Link, localPort int, knownHosts, strict string) []string {
	args := []string{
		"-N",
		"-D", "127.0.0.1:" + strconv.Itoa(localPort),
		"-p", strconv.Itoa(l.Port),
		"-o", "BatchMode=yes",
		"-o", "ExitOnForwardFailure=yes",
		"-o", "UserKnownHostsFile=" + knownHosts,
		"-o", "StrictHostKeyChecking=" + strict,
	}
	if l.KeepAlive > 0 {
		args = append(args,
			"-o", "ServerAliveInterval="+strconv.Itoa(l.KeepAlive),
			"-o", "ServerAliveCountMax=3")
	}
	if l.KeyPath != "" {
		args = append(args, "-i", l.KeyPath, "-o", "IdentitiesOnly=yes")
	}
	if l.Verbose {
		args = append(args, "-v")
	}
	target := l.Host
	if l.User != "" {
		target = l.User + "@" + l.Host
	}
	return append(args, target)
}

// strictMode maps the policy onto StrictHostKeyChecking.
func strictMode(l Link) string {
	if l.Policy == PolicyAcceptAll {
		return "no"
	}
	if l.Strict == "" {
		return "accept-new"
	}
	return l.Strict
}

func (m *Manager) startOpenSSH(ctx context.Context, sess *Session, l Link, profileDir string) error {
	knownHosts := filepath.Join(profileDir, "known_hosts")
	if l.Policy != PolicyAcceptAll {
		path, err := m.preflight(ctx, sess, l, knownHosts, profileDir)
		if err != nil {
			return err
		}
		knownHosts = path
	}

	cmd, err := m.spawn(ctx, proc.Spec{
		Binary: m.SSHBinary,
		Args:   openSSHArgs(l, sess.LocalPort, knownHosts, strictMode(l)),
		Env:    os.Environ(),
		Stdout: sess.log,
		Stderr: sess.log,
	})
	if err != nil {
		return err
	}
	sess.cmd = cmd

	if err := waitReady(ctx, sess.LocalPort, cmd.Done(), m.readyTimeout()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return notReady(sess, err)
	}
	return nil
}

// preflight reads the server key before OpenSSH runs in BatchMode, where it
// cannot ask. Unknown and changed keys go through the trust negotiation; the
// returned path is the known_hosts file the client should use.
func (m *Manager) preflight(ctx context.Context, sess *Session, l Link, knownHosts, profileDir string) (string, error) {
	key, err := m.fetchHostKey(ctx, l.Host, l.Port)
	if err != nil {
		// The client reports the same failure through readiness.
		slog.Warn("host key preflight failed", "profile", sess.ProfileID, "host", l.Host, "err", err)
		return knownHosts, nil
	}

	if l.HostKey != "" && FingerprintMatches(l.HostKey, key) {
		return knownHosts, WriteKnownHost(knownHosts, l.Host, l.Port, key)
	}

	status, err := CheckKnownHosts(knownHosts, l.Host, l.Port, key)
	if err != nil {
		slog.Warn("known_hosts unreadable, treating key as unknown", "path", knownHosts, "err", err)
	}
	if status == KeyKnown {
		return knownHosts, nil
	}

	kind := PromptHostKeyNew
	if status == KeyChanged || l.HostKey != "" {
		kind = PromptHostKeyChanged
	}
	p := Prompt{
		Kind:        kind,
		Fingerprint: describeKey(key),
		Raw:         fmt.Sprintf("%s key for %s is %s", key.Type(), l.Addr(), describeKey(key)),
	}
	switch sess.nego.resolve(ctx, p, nil) {
	case ChoiceTrust:
		return knownHosts, WriteKnownHost(knownHosts, l.Host, l.Port, key)
	case ChoiceTrustOnce:
		once := filepath.Join(profileDir, "known_hosts.once")
		_ = os.Remove(once)
		sess.onceHosts = once
		return once, WriteKnownHost(once, l.Host, l.Port, key)
	default:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrHostKeyNotTrusted
	}
}
