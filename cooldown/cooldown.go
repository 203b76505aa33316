// Package cooldown provides in-memory admission control for a dispatcher.
// Each dispatcher owns one Tracker; while a user id is present in the
// tracker, every invocation through that dispatcher is blocked regardless of
// which command is attempted.
package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is the floor applied after a successful run when the command
// carries no cooldown of its own. It exists to blunt rapid double-clicks,
// not to act as a rate limit.
const DefaultWindow = 200 * time.Millisecond

// Tracker is a set of currently cooling-down identities with timer-based
// self-expiry.
type Tracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]struct{})}
}

// IsBlocked reports whether id is currently cooling down.
func (t *Tracker) IsBlocked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// Admit inserts id and schedules its removal after d. Admitting an id that
// is already present does not reset the earlier timer; whichever timer fires
// first removes the entry and later timers fire harmlessly against an
// absent key. d values <= 0 fall back to DefaultWindow.
func (t *Tracker) Admit(id string, d time.Duration) {
	if d <= 0 {
		d = DefaultWindow
	}
	t.mu.Lock()
	t.active[id] = struct{}{}
	t.mu.Unlock()
	time.AfterFunc(d, func() { t.remove(id) })
}

// remove is idempotent; deleting an absent key is a no-op.
func (t *Tracker) remove(id string) {
	t.mu.Lock()
	delete(t.active, id)
	t.mu.Unlock()
}

// Len returns the number of identities currently blocked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
