package hub

import (
	"context"
	"sync"
	"time"

	"CarryChat/internal/event"

	"github.com/benbjohnson/clock"
)

const typingSweepInterval = 500 * time.Millisecond

type typingPair struct {
	sender string
	target string
}

// TypingTracker holds ephemeral typing state per (sender, target) pair. State
// is a bare timestamp checked by a single shared sweep, so a missed explicit
// stop can never leak a timer.
type TypingTracker struct {
	mu     sync.Mutex
	states map[typingPair]time.Time
	ttl    time.Duration
	clk    clock.Clock
	emit   func(targetID string, ev event.TypingIndicator)
}

func NewTypingTracker(ttl time.Duration, clk clock.Clock, emit func(targetID string, ev event.TypingIndicator)) *TypingTracker {
	return &TypingTracker{
		states: make(map[typingPair]time.Time),
		ttl:    ttl,
		clk:    clk,
		emit:   emit,
	}
}

// Start records or refreshes a typing state. Only a fresh pair emits a
// typing-start to the target; refreshing an active one is silent. A pair that
// lapsed past the TTL but has not been swept yet ended its previous session,
// so the missed typing-stop is emitted before the new typing-start.
func (t *TypingTracker) Start(senderID, targetID string) {
	key := typingPair{sender: senderID, target: targetID}
	now := t.clk.Now()

	t.mu.Lock()
	startedAt, active := t.states[key]
	lapsed := active && now.Sub(startedAt) >= t.ttl
	fresh := !active || lapsed
	t.states[key] = now
	t.mu.Unlock()

	if lapsed {
		t.emit(targetID, event.NewTypingIndicator(senderID, false, now.UnixMilli()))
	}
	if fresh {
		t.emit(targetID, event.NewTypingIndicator(senderID, true, now.UnixMilli()))
	}
}

// Stop clears a typing state immediately, emitting typing-stop exactly once.
// A stop for a pair that is not active is a no-op.
func (t *TypingTracker) Stop(senderID, targetID string) {
	key := typingPair{sender: senderID, target: targetID}

	t.mu.Lock()
	_, active := t.states[key]
	delete(t.states, key)
	t.mu.Unlock()

	if active {
		t.emit(targetID, event.NewTypingIndicator(senderID, false, t.clk.Now().UnixMilli()))
	}
}

// StopAllFor clears every typing state held by a sender. Used when the sender
// disconnects, so the target still gets its typing-stop.
func (t *TypingTracker) StopAllFor(senderID string) {
	var targets []string

	t.mu.Lock()
	for key := range t.states {
		if key.sender == senderID {
			delete(t.states, key)
			targets = append(targets, key.target)
		}
	}
	t.mu.Unlock()

	now := t.clk.Now().UnixMilli()
	for _, target := range targets {
		t.emit(target, event.NewTypingIndicator(senderID, false, now))
	}
}

// ActiveSessions returns how many typing states are currently held.
func (t *TypingTracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Run sweeps expired states until the context is cancelled. A state older
// than the TTL is removed and its typing-stop emitted, without requiring an
// explicit stop signal from the client.
func (t *TypingTracker) Run(ctx context.Context) {
	ticker := t.clk.Ticker(typingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *TypingTracker) sweep() {
	now := t.clk.Now()

	type expired struct {
		sender string
		target string
	}
	var stops []expired

	t.mu.Lock()
	for key, startedAt := range t.states {
		if now.Sub(startedAt) >= t.ttl {
			delete(t.states, key)
			stops = append(stops, expired{sender: key.sender, target: key.target})
		}
	}
	t.mu.Unlock()

	for _, s := range stops {
		t.emit(s.target, event.NewTypingIndicator(s.sender, false, now.UnixMilli()))
	}
}
