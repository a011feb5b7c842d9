// Package proc starts and supervises the external executables a session
// depends on: the proxy core, the SSH client and the browser.
package proc

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Spec describes a subprocess to start.
type Spec struct {
	Binary string
	Args   []string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	// Stdin requests a writable stdin pipe, exposed through Cmd.Stdin.
	Stdin bool
}

type Runner interface {
	Start(ctx context.Context, spec Spec) (Cmd, error)
}

type Cmd interface {
	Wait() error
	Done() <-chan struct{}
	PID() int
	// Stdin is nil unless Spec.Stdin was set.
	Stdin() io.WriteCloser
	// Kill force-terminates the process and its group.
	Kill()
}

type LocalRunner struct{}

type localCmd struct {
	execCmd *exec.Cmd
	cancel  context.CancelFunc
	stdin   io.WriteCloser

	done    chan struct{}
	waitErr error
	once    sync.Once
}

func (r *LocalRunner) Start(ctx context.Context, spec Spec) (Cmd, error) {
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, spec.Binary, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	setProcGroup(cmd)

	c := &localCmd{execCmd: cmd, cancel: cancel, done: make(chan struct{})}
	if spec.Stdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		c.stdin = w
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

func (c *localCmd) Wait() error {
	<-c.done
	return c.waitErr
}

func (c *localCmd) Done() <-chan struct{} { return c.done }

func (c *localCmd) PID() int {
	if c.execCmd.Process != nil {
		return c.execCmd.Process.Pid
	}
	return 0
}

func (c *localCmd) Stdin() io.WriteCloser { return c.stdin }

func (c *localCmd) Kill() {
	c.once.Do(func() {
		if pid := c.PID(); pid > 0 {
			_ = killProcessGroup(pid, sigKILL)
		}
		c.cancel()
	})
}
