// Package proctest provides an in-memory proc.Runner for tests.
package proctest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pinchtab/veilgate/internal/proc"
)

// Runner records every Start call and returns scripted Cmds.
type Runner struct {
	mu      sync.Mutex
	nextPID int
	Started []*Cmd
	// OnStart, when set, may write to the child's output streams or fail the start.
	OnStart func(spec proc.Spec, cmd *Cmd) error
}

func (r *Runner) Start(ctx context.Context, spec proc.Spec) (proc.Cmd, error) {
	r.mu.Lock()
	r.nextPID++
	c := &Cmd{
		Spec: spec,
		pid:  1000 + r.nextPID,
		done: make(chan struct{}),
	}
	if spec.Stdin {
		c.stdin = &stdinRecorder{cmd: c}
	}
	r.Started = append(r.Started, c)
	hook := r.OnStart
	r.mu.Unlock()

	if hook != nil {
		if err := hook(spec, c); err != nil {
			return nil, err
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			c.Exit(ctx.Err())
		case <-c.done:
		}
	}()
	return c, nil
}

// Count returns how many processes were started.
func (r *Runner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Started)
}

// ByBinary returns started commands whose binary matches.
func (r *Runner) ByBinary(binary string) []*Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Cmd
	for _, c := range r.Started {
		if c.Spec.Binary == binary {
			out = append(out, c)
		}
	}
	return out
}

// Cmd is a fake process. It stays alive until Exit or Kill.
type Cmd struct {
	Spec proc.Spec

	mu      sync.Mutex
	pid     int
	done    chan struct{}
	err     error
	exited  bool
	killed  bool
	stdin   *stdinRecorder
	answers bytes.Buffer
	// OnStdin is invoked with everything written to stdin.
	OnStdin func(p []byte)
}

var ErrKilled = errors.New("signal: killed")

func (c *Cmd) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Cmd) Done() <-chan struct{} { return c.done }
func (c *Cmd) PID() int              { return c.pid }

func (c *Cmd) Stdin() io.WriteCloser {
	if c.stdin == nil {
		return nil
	}
	return c.stdin
}

func (c *Cmd) Kill() {
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()
	c.Exit(ErrKilled)
}

// Exit ends the fake process with err.
func (c *Cmd) Exit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exited {
		return
	}
	c.exited = true
	c.err = err
	close(c.done)
}

func (c *Cmd) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

func (c *Cmd) Exited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

// Answers returns everything written to stdin so far.
func (c *Cmd) Answers() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers.String()
}

// Emit writes p to the child's stdout as if the process printed it.
func (c *Cmd) Emit(p string) {
	if w := c.Spec.Stdout; w != nil {
		_, _ = io.WriteString(w, p)
	}
}

type stdinRecorder struct {
	cmd *Cmd
}

func (s *stdinRecorder) Write(p []byte) (int, error) {
	s.cmd.mu.Lock()
	s.cmd.answers.Write(p)
	hook := s.cmd.OnStdin
	s.cmd.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return len(p), nil
}

func (s *stdinRecorder) Close() error { return nil }
