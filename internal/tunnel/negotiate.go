package tunnel

import (
	"context"
	"log/slog"
	"sync"
)

// State is a step of the host-key trust negotiation.
type State string

const (
	StateIdle           State = "IDLE"
	StatePromptDetected State = "PROMPT_DETECTED"
	StateAutoDecided    State = "AUTO_DECIDED"
	StateAwaitingUser   State = "AWAITING_USER_DECISION"
	StateAnswered       State = "ANSWERED"
	StateConnected      State = "CONNECTED"
	StateCancelled      State = "CANCELLED"
)

// negotiation runs the trust state machine for one session and records every
// transition.
type negotiation struct {
	profileID string
	host      string
	port      int
	policy    Policy
	trust     *TrustStore
	broker    *Broker

	mu      sync.Mutex
	history []State
}

func newNegotiation(profileID string, l Link, trust *TrustStore, broker *Broker) *negotiation {
	return &negotiation{
		profileID: profileID,
		host:      l.Host,
		port:      l.Port,
		policy:    l.Policy,
		trust:     trust,
		broker:    broker,
		history:   []State{StateIdle},
	}
}

func (n *negotiation) set(s State) {
	n.mu.Lock()
	n.history = append(n.history, s)
	n.mu.Unlock()
	slog.Debug("hostkey state", "profile", n.profileID, "host", n.host, "state", s)
}

func (n *negotiation) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.history[len(n.history)-1]
}

func (n *negotiation) History() []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]State(nil), n.history...)
}

// resolve answers one host-key prompt. abort closes when the client exits.
func (n *negotiation) resolve(ctx context.Context, p Prompt, abort <-chan struct{}) Choice {
	n.set(StatePromptDetected)
	changed := p.Kind == PromptHostKeyChanged

	choice, auto := Decide(n.policy, n.trust.Trusted(n.host, n.port), changed)
	if auto {
		n.set(StateAutoDecided)
	} else {
		n.set(StateAwaitingUser)
		choice = n.broker.Await(ctx, HostKeyRequest{
			ProfileID:   n.profileID,
			Host:        n.host,
			Port:        n.port,
			Fingerprint: p.Fingerprint,
			IsUpdate:    changed,
			Raw:         p.Raw,
		}, abort)
	}

	if choice == ChoiceCancel {
		n.set(StateCancelled)
		return choice
	}
	if choice == ChoiceTrust {
		n.trust.Trust(n.host, n.port)
	}
	n.set(StateAnswered)
	slog.Info("host key accepted", "profile", n.profileID, "host", n.host, "port", n.port,
		"choice", choice, "auto", auto, "changed", changed)
	return choice
}
