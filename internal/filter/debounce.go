package filter

import (
	"sync"
	"time"

	"github.com/zapidan/newsletter-hub-sub001/internal/clock"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
)

// DefaultDebounceInterval is the trailing-edge debounce for tag edits.
const DefaultDebounceInterval = 300 * time.Millisecond

// TagBuffer buffers rapid tag toggle edits before committing them into the
// Store, so a burst of clicks produces a single fetch.
//
// Stage updates the pending set immediately (visible to the UI) and restarts
// the debounce timer; only when the interval elapses with no further edits is
// the pending set committed. Trailing-edge debounce, not throttling: there is
// at most one scheduled commit at any time.
type TagBuffer struct {
	mu       sync.Mutex
	store    *Store
	clk      clock.Clock
	interval time.Duration
	log      *otel.Logger

	pending []string
	timer   clock.Timer
	gen     uint64 // invalidates a fire that raced with Stop
}

// NewTagBuffer creates a buffer whose pending set starts at the store's
// committed tags. interval <= 0 uses the default.
func NewTagBuffer(store *Store, clk clock.Clock, interval time.Duration, logger *otel.Logger) *TagBuffer {
	if clk == nil {
		clk = clock.System{}
	}
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	if logger == nil {
		logger = otel.NewNullLogger()
	}
	return &TagBuffer{
		store:    store,
		clk:      clk,
		interval: interval,
		log:      logger,
		pending:  store.Get().TagIDs,
	}
}

// Pending returns the staged tag set, which the UI renders for instant
// feedback before the commit lands.
func (b *TagBuffer) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pending...)
}

// Stage replaces the pending set and (re)starts the debounce timer.
func (b *TagBuffer) Stage(tagIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = dedupe(tagIDs)
	b.restartLocked()
}

// Toggle adds the tag if absent, removes it if present.
func (b *TagBuffer) Toggle(tagID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := make([]string, 0, len(b.pending)+1)
	found := false
	for _, id := range b.pending {
		if id == tagID {
			found = true
			continue
		}
		next = append(next, id)
	}
	if !found {
		next = append(next, tagID)
	}
	b.pending = next
	b.restartLocked()
}

// Add stages the tag set with the given tag appended.
func (b *TagBuffer) Add(tagID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = dedupe(append(append([]string(nil), b.pending...), tagID))
	b.restartLocked()
}

// Remove stages the pending set without the given tag.
func (b *TagBuffer) Remove(tagID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.pending[:0:0]
	for _, id := range b.pending {
		if id != tagID {
			next = append(next, id)
		}
	}
	b.pending = next
	b.restartLocked()
}

// Clear stages an empty tag set.
func (b *TagBuffer) Clear() {
	b.Stage(nil)
}

// ReconcileCommitted aligns the pending set with tags committed outside the
// buffer (UpdateMany, a direct SetTagIDs). A staged edit still awaiting its
// commit wins; reconciliation is skipped until it lands or is discarded.
func (b *TagBuffer) ReconcileCommitted(committed []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		return
	}
	b.pending = append([]string(nil), committed...)
}

// Sync resets the pending set to externally committed tags (for example
// after a Reset), discarding staged edits and any scheduled commit.
func (b *TagBuffer) Sync(committed []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append([]string(nil), committed...)
	b.cancelLocked()
}

// restartLocked cancels any scheduled commit and schedules a new one.
// Caller must hold b.mu.
func (b *TagBuffer) restartLocked() {
	b.cancelLocked()
	gen := b.gen
	b.timer = b.clk.AfterFunc(b.interval, func() { b.commit(gen) })
}

// cancelLocked stops the pending commit, if any. Caller must hold b.mu.
func (b *TagBuffer) cancelLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

// commit pushes the pending set into the Store. A commit whose generation
// was superseded by a later Stage (or Sync) is dropped.
func (b *TagBuffer) commit(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	tags := append([]string(nil), b.pending...)
	b.timer = nil
	b.mu.Unlock()

	b.log.Emit(otel.Event{Kind: otel.KindFilterCommit, Comp: "filter", Count: len(tags)})
	b.store.SetTagIDs(tags)
}
