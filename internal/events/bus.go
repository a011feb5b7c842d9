// Package events fans out profile status changes and host-key prompts to
// connected control clients.
package events

import (
	"sync"
	"time"
)

const (
	TypeProfileStatus = "profile-status"
	TypeHostKeyPrompt = "ssh-hostkey-prompt"
	TypeHostKeyClosed = "ssh-hostkey-resolved"
	TypeNotice        = "notice"
)

// Profile status values carried by TypeProfileStatus.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

type Event struct {
	Type      string    `json:"type"`
	ProfileID string    `json:"profileId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a non-blocking broadcaster. Slow subscribers drop events rather
// than stall publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	bufSize int
	// snapshot, when set, produces the init payload for new stream clients.
	snapshot func() any
}

func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{subs: make(map[chan Event]struct{}), bufSize: bufSize}
}

// SetSnapshot registers the state sent to clients when they connect.
func (b *Bus) SetSnapshot(fn func() any) {
	b.mu.Lock()
	b.snapshot = fn
	b.mu.Unlock()
}

func (b *Bus) initPayload() any {
	b.mu.RLock()
	fn := b.snapshot
	b.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	chans := make([]chan Event, 0, len(b.subs))
	for ch := range b.subs {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a func that detaches it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ProfileStatus publishes a status transition for one profile.
func (b *Bus) ProfileStatus(profileID, status, message string) {
	b.Publish(Event{Type: TypeProfileStatus, ProfileID: profileID, Status: status, Message: message})
}
