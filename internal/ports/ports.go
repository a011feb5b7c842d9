// Package ports hands out loopback ports to proxy-core, tunnel and probe
// listeners so that no two live sessions in this process share one.
package ports

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Allocator manages allocation of ports within a configured range.
type Allocator struct {
	mu            sync.Mutex
	start         int
	end           int
	allocated     map[int]bool
	reserved      map[int]bool
	nextCandidate int
	probe         func(port int) bool
}

// New creates an allocator for [start, end]. Reserved ports (for example the
// browser remote-debugging port) are never handed out.
func New(start, end int, reserved ...int) *Allocator {
	if start < 1 || end < 1 || start > end || end > 65535 {
		slog.Error("invalid port range", "start", start, "end", end)
		start = 20000
		end = 20999
	}

	a := &Allocator{
		start:         start,
		end:           end,
		allocated:     make(map[int]bool),
		reserved:      make(map[int]bool),
		nextCandidate: start,
		probe:         isPortAvailable,
	}
	for _, p := range reserved {
		if p > 0 {
			a.reserved[p] = true
		}
	}
	return a
}

// Allocate finds and allocates the next available port in the range.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	maxAttempts := a.end - a.start + 1
	for attempts := 0; attempts < maxAttempts; attempts++ {
		candidate := a.nextCandidate
		if candidate > a.end {
			candidate = a.start
		}
		a.nextCandidate = candidate + 1

		if a.allocated[candidate] || a.reserved[candidate] {
			continue
		}
		if a.probe(candidate) {
			a.allocated[candidate] = true
			slog.Debug("allocated port", "port", candidate)
			return candidate, nil
		}
	}

	return 0, fmt.Errorf("no available ports in range %d-%d", a.start, a.end)
}

// Release marks a port as no longer allocated. Releasing zero is a no-op.
func (a *Allocator) Release(port int) {
	if port <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.allocated, port)
	slog.Debug("released port", "port", port)
}

func (a *Allocator) IsAllocated(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated[port]
}

// Allocated returns a copy of all allocated port numbers.
func (a *Allocator) Allocated() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int, 0, len(a.allocated))
	for port := range a.allocated {
		out = append(out, port)
	}
	return out
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
