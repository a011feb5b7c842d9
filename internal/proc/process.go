package proc

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var processAliveFunc = processAlive

func IsProcessAlive(pid int) bool {
	return processAliveFunc(pid)
}

// SetAliveFunc swaps the liveness check and returns a restore func.
func SetAliveFunc(fn func(pid int) bool) (restore func()) {
	old := processAliveFunc
	processAliveFunc = fn
	return func() { processAliveFunc = old }
}

var killFunc = func(pid int) error { return killProcessGroup(pid, sigKILL) }

// SetKillFunc swaps the force-kill used by KillPID and returns a restore func.
func SetKillFunc(fn func(pid int) error) (restore func()) {
	old := killFunc
	killFunc = fn
	return func() { killFunc = old }
}

// KillPID force-terminates a process group by pid. Used to reclaim processes
// left behind by a previous run, whose Cmd handles are gone.
func KillPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	return killFunc(pid)
}

func WaitForExit(pid int, timeout time.Duration) bool {
	if pid <= 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			return true
		}
		time.Sleep(150 * time.Millisecond)
	}
	return !IsProcessAlive(pid)
}

// OpenLog opens a per-session log file for appending, creating its directory.
func OpenLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// RemoveWithRetry deletes path, retrying while another process still holds it
// open. Missing files count as removed.
func RemoveWithRetry(path string, attempts int, interval time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(interval)
	}
	return err
}

func TailLogLine(logs string) string {
	if logs == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(logs), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		const max = 220
		if len(line) > max {
			return line[len(line)-max:]
		}
		return line
	}
	return ""
}

// RingBuffer keeps the last max bytes written to it.
type RingBuffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

func NewRingBuffer(max int) *RingBuffer {
	return &RingBuffer{max: max, data: make([]byte, 0, max)}
}

func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.data = append(rb.data, p...)
	if len(rb.data) > rb.max {
		rb.data = rb.data[len(rb.data)-rb.max:]
	}
	return len(p), nil
}

func (rb *RingBuffer) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return string(rb.data)
}
