package pager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zapidan/newsletter-hub-sub001/internal/clock"
	"github.com/zapidan/newsletter-hub-sub001/internal/fetch"
	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/health"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
)

// corpusFetcher serves pages from a fixed record slice, counting requests.
type corpusFetcher struct {
	mu      sync.Mutex
	records []model.Record
	calls   []fetch.Request
}

func (f *corpusFetcher) Fetch(_ context.Context, req fetch.Request) (model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	end := req.Offset + req.Limit
	if end > len(f.records) {
		end = len(f.records)
	}
	start := req.Offset
	if start > len(f.records) {
		start = len(f.records)
	}
	return model.Page{
		Data:    append([]model.Record(nil), f.records[start:end]...),
		Count:   len(f.records),
		HasMore: end < len(f.records),
	}, nil
}

func (f *corpusFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeRecords(n int, tags ...string) []model.Record {
	out := make([]model.Record, n)
	for i := range out {
		out[i] = model.Record{
			ID:         fmt.Sprintf("rec-%03d", i),
			Title:      fmt.Sprintf("Issue %d", i),
			ReceivedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			TagIDs:     tags,
		}
	}
	return out
}

func defaultQuery() filter.QuerySpec {
	return filter.DeriveQueryAt(filter.DefaultState(), false, time.Now())
}

func TestControllerAccumulatesPages(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(5)}
	c := New(f, nil, nil, nil, 2)
	c.SetQuery(defaultQuery(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.FetchNextPage(ctx); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}

	if got := len(c.Results()); got != 5 {
		t.Errorf("Results = %d records, want 5", got)
	}
	if c.TotalCount() != 5 {
		t.Errorf("TotalCount = %d, want 5", c.TotalCount())
	}
	if c.PageCount() != 3 {
		t.Errorf("PageCount = %d, want 3", c.PageCount())
	}
	if c.HasNextPage() {
		t.Error("HasNextPage = true after the last page")
	}

	// Offsets advanced by accumulated length, not by page number.
	wantOffsets := []int{0, 2, 4}
	for i, req := range f.calls {
		if req.Offset != wantOffsets[i] {
			t.Errorf("call %d offset = %d, want %d", i, req.Offset, wantOffsets[i])
		}
	}

	// Exhausted: further calls are no-ops.
	if err := c.FetchNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 3 {
		t.Errorf("fetch after exhaustion issued a request (%d calls)", f.callCount())
	}
}

func TestControllerSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	blocking := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		started <- struct{}{}
		<-release
		return model.Page{Data: makeRecords(1), Count: 1}, nil
	})

	c := New(blocking, nil, nil, nil, 2)
	c.SetQuery(defaultQuery(), nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() { defer close(done); c.FetchNextPage(ctx) }()
	<-started // first request is in flight

	// Overlapping call returns immediately without a second request.
	c.FetchNextPage(ctx)

	close(release)
	<-done

	if len(started) != 0 {
		t.Error("second FetchNextPage issued a request while one was in flight")
	}
}

func TestControllerMajorChangeDiscardsPages(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(4)}
	c := New(f, nil, nil, nil, 2)
	ctx := context.Background()

	c.SetQuery(defaultQuery(), nil)
	c.FetchNextPage(ctx)
	if len(c.Results()) != 2 {
		t.Fatalf("setup: %d records", len(c.Results()))
	}

	// Status change flips the isRead flag: a major change.
	state := filter.DefaultState()
	state.Status = filter.StatusRead
	c.SetQuery(filter.DeriveQueryAt(state, false, time.Now()), nil)

	if got := len(c.Results()); got != 0 {
		t.Errorf("pages survived a major change: %d records", got)
	}
	if !c.HasNextPage() {
		t.Error("HasNextPage should reset to true on invalidation")
	}
}

func TestControllerMinorChangeKeepsStaleUntilReplaced(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(6)}
	c := New(f, nil, nil, nil, 2)
	ctx := context.Background()

	c.SetQuery(defaultQuery(), nil)
	c.FetchNextPage(ctx)
	c.FetchNextPage(ctx)
	if len(c.Results()) != 4 {
		t.Fatalf("setup: %d records", len(c.Results()))
	}

	// Tag-only change: the four fetched records stay visible.
	state := filter.DefaultState()
	state.TagIDs = []string{"go"}
	c.SetQuery(filter.DeriveQueryAt(state, false, time.Now()), state.TagIDs)
	if got := len(c.Results()); got != 4 {
		t.Errorf("stale pages hidden after minor change: %d records", got)
	}

	// The replacement fetch restarts at offset 0 and swaps the list.
	c.FetchNextPage(ctx)
	last := f.calls[len(f.calls)-1]
	if last.Offset != 0 {
		t.Errorf("replacement offset = %d, want 0", last.Offset)
	}
	if got := len(c.Results()); got != 2 {
		t.Errorf("replacement list = %d records, want one fresh page of 2", got)
	}
}

func TestControllerDropsStaleCompletion(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	first := true
	var mu sync.Mutex

	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			close(inFlight)
			<-release
			return model.Page{Data: makeRecords(3), Count: 3}, nil
		}
		return model.Page{Data: makeRecords(1), Count: 1}, nil
	})

	c := New(f, nil, nil, nil, 5)
	c.SetQuery(defaultQuery(), nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.FetchNextPage(ctx) }()
	<-inFlight

	// The query changes while the first request is still out.
	state := filter.DefaultState()
	state.Status = filter.StatusArchived
	c.SetQuery(filter.DeriveQueryAt(state, false, time.Now()), nil)

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// The superseded completion must not land.
	if got := len(c.Results()); got != 0 {
		t.Errorf("stale completion applied: %d records", got)
	}

	// The new identity fetches cleanly.
	c.FetchNextPage(ctx)
	if got := len(c.Results()); got != 1 {
		t.Errorf("fresh fetch = %d records, want 1", got)
	}
}

func TestControllerTagTimeoutMaskedAsEmptyPage(t *testing.T) {
	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		return model.Page{}, fmt.Errorf("upstream: %w", context.DeadlineExceeded)
	})
	clk := clock.NewManual(time.Now())
	mon := health.NewMonitor(clk, nil)
	defer mon.Close()

	c := New(f, mon, clk, nil, 5)
	state := filter.DefaultState()
	state.TagIDs = []string{"go", "infra"}
	c.SetQuery(filter.DeriveQueryAt(state, false, time.Now()), state.TagIDs)

	if err := c.FetchNextPage(context.Background()); err != nil {
		t.Fatalf("tag timeout should be masked, got %v", err)
	}
	if c.LastError() != nil {
		t.Errorf("LastError = %v, want nil for a masked timeout", c.LastError())
	}
	if got := len(c.Results()); got != 0 {
		t.Errorf("masked page = %d records, want 0", got)
	}
	if c.HasNextPage() {
		t.Error("masked timeout should report no more pages")
	}
	if got := mon.Snapshot().FailureCount; got != 1 {
		t.Errorf("health FailureCount = %d, want 1", got)
	}
}

func TestControllerTimeoutWithoutTagsSurfaces(t *testing.T) {
	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		return model.Page{}, fmt.Errorf("upstream: %w", context.DeadlineExceeded)
	})
	c := New(f, nil, nil, nil, 5)
	c.SetQuery(defaultQuery(), nil)

	err := c.FetchNextPage(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if c.LastError() == nil {
		t.Error("LastError should carry the failure")
	}
}

func TestControllerRetriesTransientError(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return model.Page{}, errors.New("connection reset")
		}
		return model.Page{Data: makeRecords(1), Count: 1}, nil
	})

	c := New(f, nil, nil, nil, 5)
	c.SetQuery(defaultQuery(), nil)

	if err := c.FetchNextPage(context.Background()); err != nil {
		t.Fatalf("retry did not recover: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestControllerFallbackFiltersClientSide(t *testing.T) {
	records := makeRecords(2)
	records = append(records, model.Record{ID: "tagged-1", TagIDs: []string{"go", "infra"}})
	records = append(records, model.Record{ID: "tagged-2", TagIDs: []string{"go"}})
	f := &corpusFetcher{records: records}

	clk := clock.NewManual(time.Now())
	mon := health.NewMonitor(clk, nil)
	defer mon.Close()
	mon.SetLocalFiltering(true)

	c := New(f, mon, clk, nil, 10)
	state := filter.DefaultState()
	state.TagIDs = []string{"go", "infra"}
	// Under fallback the derived spec omits tags; the server sees none.
	c.SetQuery(filter.DeriveQueryAt(state, true, time.Now()), state.TagIDs)
	c.FetchNextPage(context.Background())

	if got := len(f.calls[0].TagIDs); got != 0 {
		t.Errorf("server query carried %d tags under fallback", got)
	}
	results := c.Results()
	if len(results) != 1 || results[0].ID != "tagged-1" {
		t.Errorf("client-side AND filter gave %v, want [tagged-1]", ids(results))
	}
}

func TestControllerRefetch(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(3)}
	c := New(f, nil, nil, nil, 2)
	ctx := context.Background()

	c.SetQuery(defaultQuery(), nil)
	c.FetchNextPage(ctx)
	c.FetchNextPage(ctx)

	if err := c.Refetch(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Results()); got != 2 {
		t.Errorf("after refetch: %d records, want first page of 2", got)
	}
	last := f.calls[len(f.calls)-1]
	if last.Offset != 0 {
		t.Errorf("refetch offset = %d, want 0", last.Offset)
	}
}

func TestControllerPauseBlocksFetching(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(3)}
	c := New(f, nil, nil, nil, 2)
	c.SetQuery(defaultQuery(), nil)
	ctx := context.Background()

	c.Pause()
	c.FetchNextPage(ctx)
	if f.callCount() != 0 {
		t.Error("paused controller issued a request")
	}

	c.Resume()
	c.FetchNextPage(ctx)
	if f.callCount() != 1 {
		t.Error("resumed controller did not fetch")
	}
}

func TestControllerUpdateRecord(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(2)}
	c := New(f, nil, nil, nil, 5)
	c.SetQuery(defaultQuery(), nil)
	c.FetchNextPage(context.Background())

	if !c.UpdateRecord("rec-001", func(r *model.Record) { r.IsLiked = true }) {
		t.Fatal("record not found")
	}
	for _, r := range c.Results() {
		if r.ID == "rec-001" && !r.IsLiked {
			t.Error("flag flip not visible in Results")
		}
	}
	if c.UpdateRecord("missing", func(r *model.Record) {}) {
		t.Error("UpdateRecord found a nonexistent record")
	}
}

func TestControllerRefetchDuringFlightRestartsFetch(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var calls []fetch.Request
	first := true

	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		mu.Lock()
		calls = append(calls, req)
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			close(inFlight)
			<-release
			return model.Page{Data: makeRecords(3), Count: 3, HasMore: true}, nil
		}
		return model.Page{Data: makeRecords(2), Count: 2}, nil
	})

	c := New(f, nil, nil, nil, 5)
	c.SetQuery(defaultQuery(), nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.FetchNextPage(ctx) }()
	<-inFlight

	// Refetch while the first request is still out. Single-flight stops it
	// from fetching directly; the in-flight call must re-issue the fetch
	// after dropping its superseded completion.
	if err := c.Refetch(ctx); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	n := len(calls)
	last := calls[n-1]
	mu.Unlock()
	if n != 2 {
		t.Fatalf("requests = %d, want the superseded one plus its restart", n)
	}
	if last.Offset != 0 {
		t.Errorf("restart offset = %d, want 0", last.Offset)
	}
	if got := len(c.Results()); got != 2 {
		t.Errorf("results after restart = %d records, want the fresh page of 2", got)
	}
	if c.HasNextPage() {
		t.Error("HasNextPage should reflect the restarted fetch, not the stale one")
	}
}

func TestControllerQueryChangeDuringFlightFetchesNewIdentity(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	first := true
	var mu sync.Mutex

	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			close(inFlight)
			<-release
			return model.Page{Data: makeRecords(3), Count: 3}, nil
		}
		return model.Page{Data: makeRecords(1), Count: 1}, nil
	})

	c := New(f, nil, nil, nil, 5)
	c.SetQuery(defaultQuery(), nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.FetchNextPage(ctx) }()
	<-inFlight

	state := filter.DefaultState()
	state.Status = filter.StatusArchived
	c.SetQuery(filter.DeriveQueryAt(state, false, time.Now()), nil)

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// No extra FetchNextPage: the in-flight call fetched the new identity
	// itself after dropping its stale completion.
	if got := len(c.Results()); got != 1 {
		t.Errorf("new identity not fetched after supersede: %d records", got)
	}
}

func TestControllerSetQueryReportsIdentityChange(t *testing.T) {
	f := &corpusFetcher{records: makeRecords(2)}
	c := New(f, nil, nil, nil, 5)
	q := defaultQuery()

	if !c.SetQuery(q, nil) {
		t.Error("first SetQuery should report a change")
	}
	c.FetchNextPage(context.Background())

	if c.SetQuery(q, nil) {
		t.Error("identical query reported as an identity change")
	}
	if got := len(c.Results()); got != 2 {
		t.Errorf("unchanged identity disturbed the pages: %d records", got)
	}

	state := filter.DefaultState()
	state.Status = filter.StatusLiked
	if !c.SetQuery(filter.DeriveQueryAt(state, false, time.Now()), nil) {
		t.Error("new identity not reported as a change")
	}
}

func ids(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
