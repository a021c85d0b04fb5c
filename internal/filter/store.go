package filter

import (
	"sync"

	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
)

// Patch is a partial State update. Nil fields are left unchanged.
// Setting SourceID to a non-empty value clears GroupIDs and vice versa
// (mutually exclusive selection modes).
type Patch struct {
	Status    *Status
	SourceID  *string
	TimeRange *TimeRange
	TagIDs    *[]string
	GroupIDs  *[]string
	SortBy    *string
	SortOrder *SortOrder
}

// Store holds the canonical filter state and mirrors every effective change
// into the persisted Params store.
//
// # Thread Safety
//
// Store is safe for concurrent use. Subscribers get a coalescing signal
// channel; after a signal they read the latest state with Get().
type Store struct {
	mu     sync.RWMutex
	state  State
	params Params
	log    *otel.Logger

	subsMu sync.Mutex
	subs   []chan struct{}
}

// NewStore creates a Store seeded from the persisted mirror. Unrecognized
// persisted values are silently normalized; a nil params gets an in-memory
// mirror, a nil logger discards events.
func NewStore(params Params, logger *otel.Logger) *Store {
	if params == nil {
		params = NewMemoryParams()
	}
	if logger == nil {
		logger = otel.NewNullLogger()
	}

	state := DefaultState()
	if m, err := params.Read(); err == nil && len(m) > 0 {
		state = decodeState(m)
	}

	return &Store{state: state, params: params, log: logger}
}

// Get returns a snapshot of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Set merges the patch into the state. Idempotent: a patch that changes
// nothing performs no mirror write and no notification.
func (s *Store) Set(p Patch) {
	s.mu.Lock()
	next := s.state.Clone()

	if p.Status != nil {
		next.Status = ParseStatus(string(*p.Status))
	}
	if p.SourceID != nil {
		next.SourceID = *p.SourceID
		if next.SourceID != "" {
			next.GroupIDs = nil
		}
	}
	if p.TimeRange != nil {
		next.TimeRange = *p.TimeRange
	}
	if p.TagIDs != nil {
		next.TagIDs = dedupe(*p.TagIDs)
	}
	if p.GroupIDs != nil {
		next.GroupIDs = dedupe(*p.GroupIDs)
		if len(next.GroupIDs) > 0 {
			next.SourceID = ""
		}
	}
	if p.SortBy != nil && *p.SortBy != "" {
		next.SortBy = *p.SortBy
	}
	if p.SortOrder != nil {
		switch *p.SortOrder {
		case SortAsc, SortDesc:
			next.SortOrder = *p.SortOrder
		}
	}

	if next.Equal(s.state) {
		s.mu.Unlock()
		return
	}

	s.state = next
	mirror := encodeState(next)
	s.mu.Unlock()

	// Mirror synchronously so a reload reproduces the state.
	if err := s.params.Write(mirror); err != nil {
		s.log.Error(otel.KindStoreError, "filter", err)
	}
	s.log.Emit(otel.Event{Kind: otel.KindFilterChange, Comp: "filter", Count: len(next.TagIDs)})
	s.notify()
}

// Reset restores the documented defaults and clears the mirror.
func (s *Store) Reset() {
	s.mu.Lock()
	def := DefaultState()
	changed := !s.state.Equal(def)
	s.state = def
	s.mu.Unlock()

	if !changed {
		return
	}
	if err := s.params.Clear(); err != nil {
		s.log.Error(otel.KindStoreError, "filter", err)
	}
	s.log.Emit(otel.Event{Kind: otel.KindFilterChange, Comp: "filter", Msg: "reset"})
	s.notify()
}

// SetStatus sets the status filter.
func (s *Store) SetStatus(st Status) { s.Set(Patch{Status: &st}) }

// SetSource sets the source filter. Empty id clears it.
func (s *Store) SetSource(id string) { s.Set(Patch{SourceID: &id}) }

// SetTimeRange sets the receive-date window.
func (s *Store) SetTimeRange(tr TimeRange) { s.Set(Patch{TimeRange: &tr}) }

// SetTagIDs replaces the committed tag set.
func (s *Store) SetTagIDs(ids []string) { s.Set(Patch{TagIDs: &ids}) }

// SetGroupFilters replaces the group filter set.
func (s *Store) SetGroupFilters(ids []string) { s.Set(Patch{GroupIDs: &ids}) }

// SetSort sets the sort field and direction.
func (s *Store) SetSort(by string, order SortOrder) {
	s.Set(Patch{SortBy: &by, SortOrder: &order})
}

// UpdateMany applies a multi-field patch in one mirror write.
func (s *Store) UpdateMany(p Patch) { s.Set(p) }

// Subscribe returns a coalescing signal channel: at least one signal is
// delivered after every effective change. The channel is never closed.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// notify signals all subscribers without blocking. A subscriber with a
// pending signal coalesces; it will read the newest state anyway.
func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
