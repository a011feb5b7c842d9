package tunnel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pinchtab/veilgate/internal/proc"
)

func plinkArgs(l Link, localPort int, pwFile string) []string {
	args := []string{
		"-ssh", "-N",
		"-D", "127.0.0.1:" + strconv.Itoa(localPort),
		"-P", strconv.Itoa(l.Port),
		"-l", l.User,
		"-pwfile", pwFile,
	}
	if l.HostKey != "" {
		args = append(args, "-hostkey", l.HostKey)
	}
	if l.Verbose {
		args = append(args, "-v")
	}
	return append(args, l.Host)
}

// plinkAnswer is the keystroke plink expects for a host-key choice.
func plinkAnswer(c Choice) string {
	switch c {
	case ChoiceTrust:
		return "y\n"
	case ChoiceTrustOnce:
		return "n\n"
	default:
		return "\n"
	}
}

// promptWatcher tees client output to the log and hands detected prompts to
// the negotiation loop.
type promptWatcher struct {
	mu      sync.Mutex
	log     io.Writer
	parser  PromptParser
	prompts chan Prompt
}

func newPromptWatcher(log io.Writer) *promptWatcher {
	return &promptWatcher{log: log, prompts: make(chan Prompt, 16)}
}

func (w *promptWatcher) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.log != nil {
		_, _ = w.log.Write(p)
	}
	for _, pr := range w.parser.Feed(p) {
		select {
		case w.prompts <- pr:
		default:
			slog.Warn("ssh prompt dropped", "kind", pr.Kind)
		}
	}
	return len(p), nil
}

func writeAnswer(cmd proc.Cmd, s string) {
	stdin := cmd.Stdin()
	if stdin == nil {
		return
	}
	if _, err := io.WriteString(stdin, s); err != nil {
		slog.Warn("answer ssh prompt", "pid", cmd.PID(), "err", err)
	}
}

func (m *Manager) startPlink(ctx context.Context, sess *Session, l Link, profileDir string) error {
	cleanupCredentials(profileDir)
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(profileDir, "ssh_pw_*.tmp")
	if err != nil {
		return err
	}
	sess.pwFile = f.Name()
	_, werr := f.WriteString(l.Password)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}

	w := newPromptWatcher(sess.log)
	cmd, err := m.spawn(ctx, proc.Spec{
		Binary: m.PlinkBinary,
		Args:   plinkArgs(l, sess.LocalPort, sess.pwFile),
		Env:    os.Environ(),
		Stdout: w,
		Stderr: w,
		Stdin:  true,
	})
	if err != nil {
		return err
	}
	sess.cmd = cmd
	return m.drivePrompts(ctx, sess, l, w.prompts)
}

// drivePrompts answers client prompts until the forward port opens. The
// readiness deadline restarts after each host-key answer so time spent
// waiting on a human is not counted against the tunnel.
func (m *Manager) drivePrompts(ctx context.Context, sess *Session, l Link, prompts <-chan Prompt) error {
	timeout := m.readyTimeout()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	passwordSent := false
	for {
		if portOpen(sess.LocalPort) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.cmd.Done():
			return notReady(sess, errClientExited)
		case <-deadline.C:
			return notReady(sess, errReadyTimeout)
		case <-tick.C:
		case p := <-prompts:
			if p.Kind == PromptPassword {
				if passwordSent {
					return ErrAuthFailed
				}
				passwordSent = true
				writeAnswer(sess.cmd, l.Password+"\n")
				continue
			}
			choice := sess.nego.resolve(ctx, p, sess.cmd.Done())
			writeAnswer(sess.cmd, plinkAnswer(choice))
			if choice == ChoiceCancel {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrHostKeyNotTrusted
			}
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
			deadline.Reset(timeout)
		}
	}
}
