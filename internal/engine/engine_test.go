package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/zapidan/newsletter-hub-sub001/internal/fetch"
	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
)

// recordingFetcher serves canned pages and exposes the specs it saw.
type recordingFetcher struct {
	reqs chan fetch.Request
}

func newRecordingFetcher() *recordingFetcher {
	return &recordingFetcher{reqs: make(chan fetch.Request, 16)}
}

func (f *recordingFetcher) Fetch(_ context.Context, req fetch.Request) (model.Page, error) {
	f.reqs <- req
	data := []model.Record{
		{ID: "n1", Title: "One", TagIDs: []string{"go"}},
		{ID: "n2", Title: "Two"},
	}
	return model.Page{Data: data, Count: len(data)}, nil
}

func (f *recordingFetcher) next(t *testing.T) fetch.Request {
	t.Helper()
	select {
	case req := <-f.reqs:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch within 2s")
		return fetch.Request{}
	}
}

func startTestEngine(t *testing.T) (*Engine, *recordingFetcher) {
	t.Helper()
	f := newRecordingFetcher()
	e := New(Options{
		Fetcher:          f,
		Params:           filter.NewMemoryParams(),
		PageSize:         10,
		DebounceInterval: 10 * time.Millisecond,
	})
	e.Start(context.Background())
	t.Cleanup(e.Close)
	return e, f
}

func TestEngineInitialFetch(t *testing.T) {
	e, f := startTestEngine(t)

	req := f.next(t)
	if req.IsRead == nil || *req.IsRead {
		t.Errorf("initial query should target unread: %+v", req.QuerySpec)
	}
	if req.Offset != 0 || req.Limit != 10 {
		t.Errorf("initial pagination = %d/%d", req.Offset, req.Limit)
	}

	waitFor(t, func() bool { return len(e.Items()) == 2 })
	if e.TotalCount() != 2 {
		t.Errorf("TotalCount = %d", e.TotalCount())
	}
}

func TestEngineFilterChangeRederives(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t) // initial

	e.SetStatus(filter.StatusLiked)
	req := f.next(t)
	if req.IsLiked == nil || !*req.IsLiked {
		t.Errorf("liked filter not derived: %+v", req.QuerySpec)
	}
	if req.IsRead != nil {
		t.Errorf("liked view should not constrain isRead: %+v", req.QuerySpec)
	}
}

func TestEngineTagEditsDebouncedIntoOneFetch(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t) // initial

	e.ToggleTag("go")
	e.ToggleTag("infra")
	e.ToggleTag("infra") // staged and immediately unstaged

	req := f.next(t)
	if len(req.TagIDs) != 1 || req.TagIDs[0] != "go" {
		t.Errorf("committed tags = %v, want [go]", req.TagIDs)
	}

	// No second fetch from the intermediate edits.
	select {
	case extra := <-f.reqs:
		t.Errorf("unexpected extra fetch: %+v", extra.QuerySpec)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineLocalFilteringWithholdsTags(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t) // initial

	e.SetLocalFiltering(true)
	e.SetTags([]string{"go"})

	// The withheld-tag derivation matches the loaded query, so the commit
	// issues no server fetch; the tags narrow the list client-side.
	select {
	case req := <-f.reqs:
		t.Errorf("fallback tag commit issued a fetch: %+v", req.QuerySpec)
	case <-time.After(100 * time.Millisecond):
	}
	waitFor(t, func() bool {
		items := e.Items()
		return len(items) == 1 && items[0].ID == "n1"
	})
}

func TestEngineMarkReadOptimistic(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t)
	waitFor(t, func() bool { return len(e.Items()) == 2 })

	e.MarkRead("n1", true)
	for _, r := range e.Items() {
		if r.ID == "n1" && !r.IsRead {
			t.Error("MarkRead not visible in Items")
		}
	}
}

func TestEngineResetAll(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t)

	e.SetStatus(filter.StatusArchived)
	f.next(t)
	e.ToggleTag("go")

	e.ResetAll()
	f.next(t) // reset triggers a rederivation

	if e.HasActiveFilters() {
		t.Errorf("filters still active after reset: %+v", e.State())
	}
	if got := e.PendingTags(); len(got) != 0 {
		t.Errorf("staged tags survived reset: %v", got)
	}
}

func TestEngineGroupChangeKeepsPagesWithoutFetch(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t) // initial
	waitFor(t, func() bool { return len(e.Items()) == 2 })

	// Group filters apply client-side and leave the query identity alone;
	// a fetch here would paginate forward past the loaded page.
	e.SetGroupFilters([]string{"g1"})

	select {
	case req := <-f.reqs:
		t.Errorf("group-filter change issued a fetch at offset %d", req.Offset)
	case <-time.After(100 * time.Millisecond):
	}
	if got := len(e.Items()); got != 2 {
		t.Errorf("items after group change = %d, want 2", got)
	}
}

func TestEngineUpdateManyReconcilesPendingTags(t *testing.T) {
	e, f := startTestEngine(t)
	f.next(t) // initial

	e.UpdateMany(filter.Patch{TagIDs: &[]string{"go", "infra"}})

	req := f.next(t)
	if len(req.TagIDs) != 2 {
		t.Errorf("committed tags = %v, want [go infra]", req.TagIDs)
	}
	// The staged set follows the direct commit so the header shows it and
	// the next toggle starts from it.
	waitFor(t, func() bool {
		p := e.PendingTags()
		return len(p) == 2 && p[0] == "go" && p[1] == "infra"
	})
}

func TestEngineStartDoesNotBlockOnSlowFetch(t *testing.T) {
	release := make(chan struct{})
	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (model.Page, error) {
		<-release
		return model.Page{}, nil
	})
	e := New(Options{
		Fetcher:          f,
		Params:           filter.NewMemoryParams(),
		PageSize:         10,
		DebounceInterval: 10 * time.Millisecond,
	})

	started := make(chan struct{})
	go func() {
		e.Start(context.Background())
		close(started)
	}()
	select {
	case <-started:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Start blocked on the initial fetch")
	}

	close(release)
	e.Close()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(fmt.Errorf("condition not met within 2s"))
}
