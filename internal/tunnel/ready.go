package tunnel

import (
	"context"
	"net"
	"strconv"
	"time"
)

const readyPollInterval = 150 * time.Millisecond

func portOpen(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// waitReady polls the forward port until it accepts, the client exits or the
// deadline passes.
func waitReady(ctx context.Context, port int, exited <-chan struct{}, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()
	for {
		if portOpen(port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return errClientExited
		case <-deadline.C:
			return errReadyTimeout
		case <-tick.C:
		}
	}
}
