package ports

import (
	"net"
	"sync"
	"testing"
)

func TestAllocate_SkipsReservedAndAllocated(t *testing.T) {
	a := New(40100, 40103, 40101)
	a.probe = func(int) bool { return true }

	p1, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p2, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if p1 != 40100 || p2 != 40102 {
		t.Errorf("got %d, %d; want 40100, 40102", p1, p2)
	}

	if _, err := a.Allocate(); err != nil {
		t.Fatalf("third Allocate: %v", err)
	}
	if _, err := a.Allocate(); err == nil {
		t.Error("expected exhaustion error")
	}

	a.Release(p1)
	p, err := a.Allocate()
	if err != nil || p != p1 {
		t.Errorf("after release got %d (%v), want %d", p, err, p1)
	}
}

func TestAllocate_SkipsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	a := New(busy, busy)
	if _, err := a.Allocate(); err == nil {
		t.Error("expected error when only port in range is bound")
	}
}

func TestAllocate_ConcurrentDistinct(t *testing.T) {
	a := New(40200, 40299)
	a.probe = func(int) bool { return true }

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate()
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[p] {
				t.Errorf("port %d handed out twice", p)
			}
			seen[p] = true
		}()
	}
	wg.Wait()
	if len(a.Allocated()) != 50 {
		t.Errorf("allocated = %d, want 50", len(a.Allocated()))
	}
}

func TestNew_InvalidRangeFallsBack(t *testing.T) {
	a := New(10, 5)
	if a.start != 20000 || a.end != 20999 {
		t.Errorf("range = %d-%d, want default", a.start, a.end)
	}
}
