// Package broadcast fans observer stream messages out to every connected
// dashboard, tolerating observers that disconnect mid-broadcast.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/clawdbot/pagerbridge/pkg/protocol"
)

// replaySize is how many recent events a new observer receives before
// live traffic.
const replaySize = 20

// sendBuffer is the per-observer send queue depth. A full queue drops the
// message for that observer rather than stalling the broadcast pass.
const sendBuffer = 64

// Handle is one observer's subscription. The owner drains C and calls
// Close on disconnect.
type Handle struct {
	id     string
	C      chan []byte
	closed chan struct{}
	once   sync.Once
}

// ID returns the subscription's unique identifier.
func (h *Handle) ID() string { return h.id }

// Close marks the handle dead. The broadcaster prunes it on the next
// publish pass.
func (h *Handle) Close() {
	h.once.Do(func() { close(h.closed) })
}

// Broadcaster delivers serialized stream messages to all live handles and
// retains a small replay buffer so a new observer is not blind to recent
// history.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]*Handle
	replay [][]byte // marshaled event messages, oldest first
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*Handle)}
}

// Subscribe registers a new observer. The snapshot message is queued
// first, then the replay buffer in chronological order, then the handle
// goes live — the registration and queueing happen under one lock so no
// live publish can interleave.
func (b *Broadcaster) Subscribe(snapshot protocol.StreamMessage) *Handle {
	h := &Handle{
		id:     uuid.NewString(),
		C:      make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}

	data, err := json.Marshal(snapshot)

	b.mu.Lock()
	if err == nil {
		h.C <- data
	}
	for _, msg := range b.replay {
		select {
		case h.C <- msg:
		default:
		}
	}
	b.subs[h.id] = h
	n := len(b.subs)
	b.mu.Unlock()

	slog.Info("observer subscribed", "id", h.id, "total", n)
	return h
}

// Unsubscribe removes an observer on observer-initiated disconnect.
func (b *Broadcaster) Unsubscribe(h *Handle) {
	h.Close()

	b.mu.Lock()
	delete(b.subs, h.id)
	n := len(b.subs)
	b.mu.Unlock()

	slog.Info("observer unsubscribed", "id", h.id, "total", n)
}

// Publish serializes the message once and delivers it to every registered
// handle. Closed handles are collected during the pass and pruned strictly
// after it completes; a dead handle never aborts delivery to the rest.
func (b *Broadcaster) Publish(msg protocol.StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast marshal failed", "error", err)
		return
	}

	b.mu.Lock()
	// Remember and deliver under one lock so a concurrent Subscribe sees
	// this message exactly once: in the replay or live, never both.
	if msg.Type == protocol.StreamTypeEvent {
		b.rememberLocked(data)
	}

	var dead []string
	for id, h := range b.subs {
		select {
		case <-h.closed:
			dead = append(dead, id)
		case h.C <- data:
		default:
			// Slow observer: drop this message for them, keep the
			// subscription.
			slog.Warn("observer send buffer full, dropping message", "id", id)
		}
	}
	for _, id := range dead {
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// Count returns the number of live subscriptions.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Replay returns a copy of the current replay buffer, oldest first.
func (b *Broadcaster) Replay() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.replay))
	copy(out, b.replay)
	return out
}

// rememberLocked appends to the replay ring. Caller holds b.mu.
func (b *Broadcaster) rememberLocked(data []byte) {
	b.replay = append(b.replay, data)
	if len(b.replay) > replaySize {
		b.replay = b.replay[len(b.replay)-replaySize:]
	}
}
