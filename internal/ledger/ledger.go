// Package ledger implements the append-only, capacity-bounded per-user interaction log.
package ledger

import (
	"sort"
	"sync"

	"github.com/thebtf/adaptly/pkg/models"
)

// DefaultCapacity is the number of most recent events retained per user.
const DefaultCapacity = 1000

// ring is a bounded FIFO of events for one user. Storage grows with use up to
// capacity, then wraps.
type ring struct {
	events   []models.InteractionEvent
	head     int // index of the oldest event once full
	capacity int
	mu       sync.RWMutex
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity}
}

func (r *ring) size() int { return len(r.events) }

// push appends e, evicting the oldest event when full. Caller holds r.mu.
func (r *ring) push(e models.InteractionEvent) (evicted bool) {
	if len(r.events) < r.capacity {
		r.events = append(r.events, e)
		return false
	}
	r.events[r.head] = e
	r.head = (r.head + 1) % r.capacity
	return true
}

// snapshot copies the events oldest first. Caller holds r.mu for reading.
func (r *ring) snapshot() []models.InteractionEvent {
	n := len(r.events)
	out := make([]models.InteractionEvent, 0, n)
	out = append(out, r.events[r.head:]...)
	return append(out, r.events[:r.head]...)
}

// Ledger holds one ring per user. Appends for one user are atomic with respect to
// readers of that user; distinct users never contend beyond the map lookup.
type Ledger struct {
	rings    map[string]*ring
	capacity int
	evicted  uint64
	mu       sync.RWMutex
}

// New creates a ledger retaining capacity events per user.
// A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		rings:    make(map[string]*ring),
		capacity: capacity,
	}
}

// Capacity returns the per-user retention limit.
func (l *Ledger) Capacity() int {
	return l.capacity
}

func (l *Ledger) ringFor(userID string, create bool) *ring {
	l.mu.RLock()
	r, ok := l.rings[userID]
	l.mu.RUnlock()
	if ok || !create {
		return r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok = l.rings[userID]; ok {
		return r
	}
	r = newRing(l.capacity)
	l.rings[userID] = r
	return r
}

// Append validates and records an event for userID.
// It returns an error wrapping models.ErrInvalidEvent when the event is rejected.
func (l *Ledger) Append(userID string, event models.InteractionEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event.UserID = userID
	event.Normalize()

	r := l.ringFor(userID, true)
	r.mu.Lock()
	evicted := r.push(event)
	r.mu.Unlock()

	if evicted {
		l.mu.Lock()
		l.evicted++
		l.mu.Unlock()
	}
	return nil
}

// Snapshot returns a consistent copy of the user's events, oldest first.
func (l *Ledger) Snapshot(userID string) []models.InteractionEvent {
	r := l.ringFor(userID, false)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// Len returns the number of events held for userID.
func (l *Ledger) Len(userID string) int {
	r := l.ringFor(userID, false)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size()
}

// Has reports whether the ledger has ever seen userID.
func (l *Ledger) Has(userID string) bool {
	return l.ringFor(userID, false) != nil
}

// Hydrate seeds an unseen user's ring with events loaded from an external log.
// Events are expected oldest first; only the newest Capacity are kept and
// invalid ones are skipped. It is a no-op, returning false, when the user
// already has a ring or no valid event remains.
func (l *Ledger) Hydrate(userID string, events []models.InteractionEvent) bool {
	if len(events) > l.capacity {
		events = events[len(events)-l.capacity:]
	}
	valid := make([]models.InteractionEvent, 0, len(events))
	for _, e := range events {
		if e.Validate() != nil {
			continue
		}
		e.UserID = userID
		e.Normalize()
		valid = append(valid, e)
	}
	if len(valid) == 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rings[userID]; ok {
		return false
	}
	r := newRing(l.capacity)
	r.events = valid
	l.rings[userID] = r
	return true
}

// Users returns every user id with a ring, sorted.
func (l *Ledger) Users() []string {
	l.mu.RLock()
	users := make([]string, 0, len(l.rings))
	for id := range l.rings {
		users = append(users, id)
	}
	l.mu.RUnlock()
	sort.Strings(users)
	return users
}

// Evicted returns the total number of events evicted for capacity.
func (l *Ledger) Evicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}
