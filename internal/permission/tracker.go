// Package permission tracks human-approval requests and their lifecycle:
// pending → approved/denied/expired. Resolution is driven externally (the
// bridge reconciles pager button presses); this package is pure in-memory
// state.
package permission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a permission request. Transitions leave pending exactly once
// and are never reversed.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// defaultRetention is how long requests of any status are kept before
// Sweep discards them.
const defaultRetention = 5 * time.Minute

// Request is a single approval request. Tool and Command are descriptive
// only; the state machine never inspects them.
type Request struct {
	ID        string
	Tool      string
	Command   string
	Status    Status
	CreatedAt time.Time
	Timeout   time.Duration
}

// Tracker manages pending permission requests. Safe for concurrent use by
// HTTP handlers and the housekeeping sweep.
type Tracker struct {
	mu        sync.Mutex
	pending   map[string]*Request
	retention time.Duration
	now       func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending:   make(map[string]*Request),
		retention: defaultRetention,
		now:       time.Now,
	}
}

// SetRetention overrides how long requests are kept before Sweep discards
// them.
func (t *Tracker) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.retention = d
	t.mu.Unlock()
}

// Create registers a new pending request and returns its ID. IDs are
// short, unguessable tokens suitable for display and polling URLs.
func (t *Tracker) Create(tool, command string, timeout time.Duration) string {
	id := uuid.NewString()[:8]

	t.mu.Lock()
	t.pending[id] = &Request{
		ID:        id,
		Tool:      tool,
		Command:   command,
		Status:    StatusPending,
		CreatedAt: t.now(),
		Timeout:   timeout,
	}
	t.mu.Unlock()

	return id
}

// Resolve marks a pending request approved or denied. Unknown or
// already-resolved requests are a no-op: the triggering signal (device
// mode echo) may arrive more than once.
func (t *Tracker) Resolve(id string, approved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[id]
	if !ok || req.Status != StatusPending {
		return
	}

	if approved {
		req.Status = StatusApproved
	} else {
		req.Status = StatusDenied
	}
	slog.Info("permission resolved", "id", id, "status", req.Status)
}

// StatusOf returns the current status of a request, lazily expiring it if
// its timeout has elapsed. The second return is false for unknown IDs —
// callers must report that distinctly from pending or expired.
func (t *Tracker) StatusOf(id string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[id]
	if !ok {
		return "", false
	}
	t.expireLocked(req)
	return req.Status, true
}

// Get returns a copy of the request, with lazy expiry applied.
func (t *Tracker) Get(id string) (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[id]
	if !ok {
		return Request{}, false
	}
	t.expireLocked(req)
	return *req, true
}

// ActiveID returns the ID of the single request that is pending and not
// yet timed out. When several are simultaneously active (callers should
// serialize requests, but races happen) the earliest-created wins.
func (t *Tracker) ActiveID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Request
	for _, req := range t.pending {
		t.expireLocked(req)
		if req.Status != StatusPending {
			continue
		}
		if best == nil || req.CreatedAt.Before(best.CreatedAt) {
			best = req
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// Sweep discards all requests older than the retention window regardless
// of status. Run on a fixed interval by the bridge.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.retention)

	removed := 0
	for id, req := range t.pending {
		if req.CreatedAt.Before(cutoff) {
			delete(t.pending, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("permission sweep", "removed", removed, "remaining", len(t.pending))
	}
	return removed
}

// expireLocked flips a pending request to expired once its timeout has
// elapsed. Caller holds t.mu.
func (t *Tracker) expireLocked(req *Request) {
	if req.Status == StatusPending && t.now().Sub(req.CreatedAt) > req.Timeout {
		req.Status = StatusExpired
	}
}
