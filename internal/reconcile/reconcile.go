// Package reconcile resolves a client's optimistic local messages against
// server-confirmed records. A locally generated correlation id is valid only
// until the matching sent or failed acknowledgement arrives; entries that
// never hear back are evicted as failed after a bounded wait.
package reconcile

import (
	"sync"
	"time"

	"CarryChat/internal/event"
	"CarryChat/internal/model"

	"github.com/benbjohnson/clock"
)

// DefaultAckWait bounds how long a pending entry may sit unacknowledged.
const DefaultAckWait = 15 * time.Second

// LocalMessage is the client's rendered view of one message.
type LocalMessage struct {
	ClientMessageID string
	Message         model.Message
	Status          string
	FailureReason   string
	EnqueuedAt      time.Time
}

// Table maps correlation ids and durable ids to rendered messages.
type Table struct {
	mu            sync.Mutex
	byCorrelation map[string]*LocalMessage
	byServerID    map[string]*LocalMessage
	ordered       []*LocalMessage
	clk           clock.Clock
	ackWait       time.Duration
}

func NewTable(clk clock.Clock, ackWait time.Duration) *Table {
	if ackWait <= 0 {
		ackWait = DefaultAckWait
	}
	return &Table{
		byCorrelation: make(map[string]*LocalMessage),
		byServerID:    make(map[string]*LocalMessage),
		clk:           clk,
		ackWait:       ackWait,
	}
}

// Track inserts an optimistic entry at status sending, rendered immediately.
func (t *Table) Track(clientMessageID, receiverID, content string) *LocalMessage {
	local := &LocalMessage{
		ClientMessageID: clientMessageID,
		Message: model.Message{
			ReceiverID: receiverID,
			Content:    content,
			Status:     model.StatusSending,
			CreatedAt:  t.clk.Now(),
		},
		Status:     model.StatusSending,
		EnqueuedAt: t.clk.Now(),
	}

	t.mu.Lock()
	t.byCorrelation[clientMessageID] = local
	t.ordered = append(t.ordered, local)
	t.mu.Unlock()

	return local
}

// ApplySent swaps the optimistic entry for the server-confirmed record and
// retires the correlation id. Unknown correlation ids are ignored.
func (t *Table) ApplySent(ack event.MessageSent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	local, ok := t.byCorrelation[ack.ClientMessageID]
	if !ok {
		return false
	}

	local.Message = ack.Message
	local.Status = model.StatusSent
	delete(t.byCorrelation, ack.ClientMessageID)
	if !ack.Message.ID.IsZero() {
		t.byServerID[ack.Message.ID.Hex()] = local
	}
	return true
}

// ApplyDelivered updates the rendered message by its durable id.
func (t *Table) ApplyDelivered(ev event.MessageDelivered) bool {
	return t.advance(ev.MessageID, model.StatusDelivered)
}

// ApplyRead updates the rendered message by its durable id.
func (t *Table) ApplyRead(ev event.MessageRead) bool {
	return t.advance(ev.MessageID, model.StatusSeen)
}

func (t *Table) advance(serverID, to string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	local, ok := t.byServerID[serverID]
	if !ok {
		return false
	}
	if !model.CanAdvance(local.Status, to) {
		return false
	}
	local.Status = to
	local.Message.Status = to
	return true
}

// ApplyError marks the corresponding entry failed instead of removing it, so
// the user can retry or discard. Errors without a correlation id do nothing.
func (t *Table) ApplyError(ev event.Error) bool {
	if ev.ClientMessageID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	local, ok := t.byCorrelation[ev.ClientMessageID]
	if !ok {
		return false
	}
	local.Status = model.StatusFailed
	local.Message.Status = model.StatusFailed
	local.FailureReason = ev.Message
	delete(t.byCorrelation, ev.ClientMessageID)
	return true
}

// Sweep evicts entries that never received an acknowledgement within the
// bounded wait, marking them failed. Returns the affected correlation ids.
func (t *Table) Sweep() []string {
	now := t.clk.Now()
	var evicted []string

	t.mu.Lock()
	for cid, local := range t.byCorrelation {
		if local.Status == model.StatusSending && now.Sub(local.EnqueuedAt) >= t.ackWait {
			local.Status = model.StatusFailed
			local.Message.Status = model.StatusFailed
			local.FailureReason = "no acknowledgement from server"
			delete(t.byCorrelation, cid)
			evicted = append(evicted, cid)
		}
	}
	t.mu.Unlock()

	return evicted
}

// Pending returns how many entries still await acknowledgement.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byCorrelation)
}

// Messages returns the rendered messages in send order.
func (t *Table) Messages() []LocalMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LocalMessage, 0, len(t.ordered))
	for _, local := range t.ordered {
		out = append(out, *local)
	}
	return out
}
