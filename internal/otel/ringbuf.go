package otel

import "sync"

// DefaultRingSize is the default ring capacity.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent events in memory so the diagnostics
// overlay can show fetch and health activity without re-reading the JSONL
// log. Capacity is fixed; a Push past capacity evicts the oldest event.
// Safe for concurrent Push and reads.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []Event // grows to capacity, then wraps
	next int     // slot the next Push overwrites once full
}

// NewRingBuffer creates a ring holding up to capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingBuffer{buf: make([]Event, 0, capacity)}
}

// Push records an event, evicting the oldest when the ring is full. The
// Extra map is copied so the caller may keep mutating its own.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		cp := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			cp[k] = v
		}
		e.Extra = cp
	}
	r.mu.Lock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, e)
	} else {
		r.buf[r.next] = e
	}
	r.next = (r.next + 1) % cap(r.buf)
	r.mu.Unlock()
}

// forEach visits buffered events oldest first, stopping early when fn
// returns false. Caller must hold r.mu.
func (r *RingBuffer) forEach(fn func(Event) bool) {
	n := len(r.buf)
	if n == 0 {
		return
	}
	start := 0
	if n == cap(r.buf) {
		start = r.next
	}
	for i := 0; i < n; i++ {
		if !fn(r.buf[(start+i)%n]) {
			return
		}
	}
}

// Snapshot returns every buffered event, oldest first. The slice is a copy.
func (r *RingBuffer) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.buf))
	r.forEach(func(e Event) bool {
		out = append(out, e)
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// Tail returns the n most recent events, oldest first. n <= 0 returns nil;
// n beyond the buffered count returns everything.
func (r *RingBuffer) Tail(n int) []Event {
	if n <= 0 {
		return nil
	}
	all := r.Snapshot()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// TailOfKind returns the n most recent events of the given kind, oldest
// first. The overlay uses this to list recent fetch errors.
func (r *RingBuffer) TailOfKind(kind EventKind, n int) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	var matched []Event
	r.forEach(func(e Event) bool {
		if e.Kind == kind {
			matched = append(matched, e)
		}
		return true
	})
	r.mu.Unlock()
	if n >= len(matched) {
		return matched
	}
	return matched[len(matched)-n:]
}

// LastOfKind returns the most recent event of the given kind, if any.
func (r *RingBuffer) LastOfKind(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last Event
	found := false
	r.forEach(func(e Event) bool {
		if e.Kind == kind {
			last = e
			found = true
		}
		return true
	})
	return last, found
}

// CountByKind tallies buffered events per kind. The overlay renders this as
// the activity summary line.
func (r *RingBuffer) CountByKind() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[EventKind]int)
	r.forEach(func(e Event) bool {
		counts[e.Kind]++
		return true
	})
	return counts
}

// Len returns the number of buffered events.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Cap returns the ring capacity.
func (r *RingBuffer) Cap() int {
	return cap(r.buf)
}
