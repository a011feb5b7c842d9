package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pinchtab/veilgate/internal/idutil"
)

// Choice is a human answer to a host-key prompt.
type Choice string

const (
	ChoiceTrust     Choice = "trust"
	ChoiceTrustOnce Choice = "trust-once"
	ChoiceCancel    Choice = "cancel"
)

func ParseChoice(v string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(v))); c {
	case ChoiceTrust, ChoiceTrustOnce, ChoiceCancel:
		return c, nil
	default:
		return "", fmt.Errorf("invalid host key decision %q", v)
	}
}

// TrustStore holds (host, port) pairs trusted for the life of the process.
type TrustStore struct {
	mu    sync.RWMutex
	pairs map[string]bool
}

func NewTrustStore() *TrustStore {
	return &TrustStore{pairs: make(map[string]bool)}
}

func pairKey(host string, port int) string {
	return net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port))
}

func (t *TrustStore) Trusted(host string, port int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pairs[pairKey(host, port)]
}

func (t *TrustStore) Trust(host string, port int) {
	t.mu.Lock()
	t.pairs[pairKey(host, port)] = true
	t.mu.Unlock()
}

// Decide returns the automatic answer for a prompt, or auto=false when a human
// must choose.
func Decide(policy Policy, alreadyTrusted, changed bool) (choice Choice, auto bool) {
	if alreadyTrusted && !changed {
		return ChoiceTrust, true
	}
	switch policy {
	case PolicyAcceptAll:
		return ChoiceTrust, true
	case PolicyAcceptNew:
		if !changed {
			return ChoiceTrust, true
		}
	}
	return "", false
}

// HostKeyRequest is surfaced to the control layer when a human decision is
// needed.
type HostKeyRequest struct {
	RequestID   string    `json:"requestId"`
	ProfileID   string    `json:"profileId"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Fingerprint string    `json:"fingerprint"`
	IsUpdate    bool      `json:"isUpdate"`
	Raw         string    `json:"raw"`
	CreatedAt   time.Time `json:"createdAt"`
}

type pendingDecision struct {
	req HostKeyRequest
	ch  chan Choice
}

// Broker pairs outgoing host-key requests with incoming decisions.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingDecision
	timeout time.Duration
	notify  func(HostKeyRequest)
}

// NewBroker returns a broker that calls notify for each new request. Requests
// left unanswered for timeout resolve to ChoiceCancel.
func NewBroker(timeout time.Duration, notify func(HostKeyRequest)) *Broker {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Broker{pending: make(map[string]*pendingDecision), timeout: timeout, notify: notify}
}

// Await publishes req and blocks for the answer. Timeout, ctx cancellation and
// abort (the client exiting) all resolve to ChoiceCancel.
func (b *Broker) Await(ctx context.Context, req HostKeyRequest, abort <-chan struct{}) Choice {
	if req.RequestID == "" {
		req.RequestID = idutil.NewRequestID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	pd := &pendingDecision{req: req, ch: make(chan Choice, 1)}

	b.mu.Lock()
	b.pending[req.RequestID] = pd
	notify := b.notify
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.RequestID)
		b.mu.Unlock()
	}()

	if notify != nil {
		notify(req)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case c := <-pd.ch:
		return c
	case <-timer.C:
		slog.Warn("host key decision timed out", "request", req.RequestID, "host", req.Host)
		return ChoiceCancel
	case <-ctx.Done():
		return ChoiceCancel
	case <-abort:
		return ChoiceCancel
	}
}

// Submit delivers a decision. Late or duplicate answers get ErrUnknownRequest.
func (b *Broker) Submit(requestID string, choice Choice) error {
	b.mu.Lock()
	pd, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	pd.ch <- choice
	return nil
}

// Pending lists unanswered requests, oldest first.
func (b *Broker) Pending() []HostKeyRequest {
	b.mu.Lock()
	out := make([]HostKeyRequest, 0, len(b.pending))
	for _, pd := range b.pending {
		out = append(out, pd.req)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
