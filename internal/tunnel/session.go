package tunnel

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pinchtab/veilgate/internal/ports"
	"github.com/pinchtab/veilgate/internal/proc"
)

const KindSSH = "ssh"

// Session is a live dynamic port-forward.
type Session struct {
	ProfileID string
	LocalPort int
	Kind      string
	Policy    Policy
	LogPath   string
	Host      string
	Port      int

	cmd       proc.Cmd
	log       *os.File
	pwFile    string
	onceHosts string
	ports     *ports.Allocator
	nego      *negotiation

	closeOnce sync.Once
}

func (s *Session) PID() int {
	if s.cmd == nil {
		return 0
	}
	return s.cmd.PID()
}

// Done closes when the ssh client exits.
func (s *Session) Done() <-chan struct{} { return s.cmd.Done() }

// State returns the last host-key negotiation state.
func (s *Session) State() State { return s.nego.State() }

func (s *Session) History() []State { return s.nego.History() }

// Close force-kills the client and removes its transient files. It never
// fails and is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cmd != nil {
			s.cmd.Kill()
			select {
			case <-s.cmd.Done():
			case <-time.After(3 * time.Second):
				slog.Warn("ssh client did not exit after kill", "profile", s.ProfileID, "pid", s.cmd.PID())
			}
		}
		if s.log != nil {
			if err := s.log.Close(); err != nil {
				slog.Warn("close ssh log", "profile", s.ProfileID, "err", err)
			}
		}
		removeTransient(s.pwFile)
		removeTransient(s.onceHosts)
		if s.ports != nil {
			s.ports.Release(s.LocalPort)
		}
	})
}

// removeTransient deletes a credential or scratch file. Windows clients can
// hold the handle briefly after exit, so deletion is retried there.
func removeTransient(path string) {
	if path == "" {
		return
	}
	attempts := 1
	if runtime.GOOS == "windows" {
		attempts = 5
	}
	if err := proc.RemoveWithRetry(path, attempts, 200*time.Millisecond); err != nil {
		slog.Warn("remove transient file", "path", path, "err", err)
	}
}
