// Package pager owns the paginated result list: it accumulates fetched
// pages for the current query identity, enforces single-flight fetching with
// per-request deadlines and retries, and applies the invalidation rules when
// the query changes underneath it.
package pager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/zapidan/newsletter-hub-sub001/internal/clock"
	"github.com/zapidan/newsletter-hub-sub001/internal/fetch"
	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/health"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
)

const (
	// DefaultPageSize is the page length requested when none is configured.
	DefaultPageSize = 20

	// Tag-filtered queries get a tighter deadline and fewer retries; they
	// are the expensive path on the server and the one the health monitor
	// watches.
	timeoutWithTags    = 15 * time.Second
	timeoutWithoutTags = 30 * time.Second
	retriesWithTags    = 1
	retriesWithoutTags = 2
	retryDelay         = time.Second
)

// Controller accumulates pages for one query identity at a time.
//
// # Thread Safety
//
// All methods are safe for concurrent use. FetchNextPage blocks for the
// duration of the request; callers run it from their own goroutine.
type Controller struct {
	fetcher  fetch.Fetcher
	monitor  *health.Monitor
	clk      clock.Clock
	log      *otel.Logger
	pageSize int

	// onPage, when set, receives every accepted page for write-through
	// into the local cache. Called outside the lock.
	onPage func([]model.Record)

	mu       sync.Mutex
	query    filter.QuerySpec
	queryKey string
	gen      uint64 // bumped on every identity change; in-flight results check it

	pages   []model.Page
	total   int
	hasMore bool
	stale   bool // pages belong to a superseded identity, kept visible until replaced

	localTags []string // committed tags, applied client-side under fallback

	inflight bool
	// restart records that the identity was superseded while a fetch was
	// out; the in-flight call re-issues the fetch for the new identity after
	// dropping its own completion.
	restart bool
	paused  bool
	lastErr error
}

// New creates a Controller. pageSize <= 0 uses the default; monitor may be
// nil when no health tracking is wanted.
func New(fetcher fetch.Fetcher, monitor *health.Monitor, clk clock.Clock, logger *otel.Logger, pageSize int) *Controller {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = otel.NewNullLogger()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Controller{
		fetcher:  fetcher,
		monitor:  monitor,
		clk:      clk,
		log:      logger,
		pageSize: pageSize,
		hasMore:  true,
	}
}

// SetOnPage installs the accepted-page hook. Set before the first fetch.
func (c *Controller) SetOnPage(fn func([]model.Record)) {
	c.mu.Lock()
	c.onPage = fn
	c.mu.Unlock()
}

// SetQuery installs a new derived query and reports whether the query
// identity changed. committedTags is the full committed tag set regardless
// of whether the spec carries it (under fallback the spec withholds tags and
// the controller applies them client-side).
//
// A change to the read/archived/liked flags or the source set discards all
// accumulated pages. Tag-only churn keeps the current pages visible as stale
// until the replacement first page arrives. An identity change while a fetch
// is in flight marks a restart; the in-flight call fetches the new identity
// after dropping its own completion.
func (c *Controller) SetQuery(q filter.QuerySpec, committedTags []string) bool {
	c.mu.Lock()
	newKey := q.Key()
	if newKey == c.queryKey {
		c.localTags = append([]string(nil), committedTags...)
		c.mu.Unlock()
		if c.monitor != nil {
			c.monitor.SetTagCount(len(committedTags))
		}
		return false
	}

	major := filter.MajorChange(c.query, q)
	c.gen++
	if c.inflight {
		c.restart = true
	}
	if major {
		c.pages = nil
		c.total = 0
		c.stale = false
	} else if len(c.pages) > 0 {
		c.stale = true
	}
	c.hasMore = true
	c.lastErr = nil
	c.query = q
	c.queryKey = newKey
	c.localTags = append([]string(nil), committedTags...)
	c.mu.Unlock()

	if c.monitor != nil {
		c.monitor.SetTagCount(len(committedTags))
	}
	c.log.Emit(otel.Event{
		Kind:     otel.KindPageInvalidate,
		Comp:     "pager",
		QueryKey: newKey,
		Msg:      invalidationMsg(major),
	})
	return true
}

// FetchNextPage fetches the next page for the current query. It is a no-op
// when a fetch is already in flight, the controller is paused, or the server
// has reported no further pages. Returns the fetch error, nil on success or
// no-op; a masked tag timeout also returns nil.
func (c *Controller) FetchNextPage(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight || c.paused {
		c.mu.Unlock()
		return nil
	}
	offset := c.nextOffsetLocked()
	if offset < 0 {
		c.mu.Unlock()
		return nil
	}
	c.inflight = true
	gen := c.gen
	q := c.query
	key := c.queryKey
	c.mu.Unlock()

	req := fetch.Request{QuerySpec: q, Limit: c.pageSize, Offset: offset}
	c.log.Emit(otel.Event{Kind: otel.KindFetchStart, Comp: "pager", QueryKey: key, Offset: offset})

	start := c.clk.Now()
	page, err := c.fetchWithRetry(ctx, req, key)
	elapsed := c.clk.Now().Sub(start)
	elapsedMs := float64(elapsed) / float64(time.Millisecond)

	withTags := len(q.TagIDs) > 0
	masked := false
	if err != nil {
		if c.monitor != nil {
			c.monitor.ReportOutcome(false, elapsedMs)
		}
		if withTags && errors.Is(err, context.DeadlineExceeded) {
			// A tag-filtered timeout is served as an empty page so the
			// health monitor can steer the next derivation into fallback
			// without surfacing an error.
			c.log.Emit(otel.Event{Kind: otel.KindFetchTimeout, Level: otel.LevelWarn, Comp: "pager", QueryKey: key, Dur: elapsed})
			page = model.Page{Data: []model.Record{}, HasMore: false}
			masked = true
			err = nil
		}
	} else if c.monitor != nil {
		c.monitor.ReportOutcome(true, elapsedMs)
	}

	c.mu.Lock()
	c.inflight = false
	if gen != c.gen || key != c.queryKey {
		restart := c.restart
		c.restart = false
		c.mu.Unlock()
		c.log.Emit(otel.Event{Kind: otel.KindFetchStale, Comp: "pager", QueryKey: key})
		if restart {
			// The identity changed while this request was out. Its first
			// page has not been fetched yet; issue that fetch now so the
			// supersede never strands an empty list.
			return c.FetchNextPage(ctx)
		}
		return nil
	}
	c.restart = false
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		c.log.Emit(otel.Event{Kind: otel.KindFetchError, Level: otel.LevelError, Comp: "pager", QueryKey: key, Err: err.Error()})
		return err
	}

	c.lastErr = nil
	if c.stale && offset == 0 {
		c.pages = nil
		c.stale = false
	}
	c.pages = append(c.pages, page)
	if masked {
		c.total = c.countLocked()
	} else {
		c.total = page.Count
	}
	c.hasMore = page.HasMore
	onPage := c.onPage
	c.mu.Unlock()

	c.log.Emit(otel.Event{
		Kind: otel.KindFetchComplete, Comp: "pager",
		QueryKey: key, Offset: offset, Count: len(page.Data), Dur: elapsed,
	})
	c.log.Emit(otel.Event{Kind: otel.KindPageAppend, Comp: "pager", QueryKey: key, Count: len(page.Data), Offset: offset})

	if onPage != nil && len(page.Data) > 0 {
		onPage(page.Data)
	}
	return nil
}

// fetchWithRetry runs one request with the tag-dependent deadline and a
// fixed-delay retry budget. The last error is returned when the budget runs
// out.
func (c *Controller) fetchWithRetry(ctx context.Context, req fetch.Request, key string) (model.Page, error) {
	timeout := timeoutWithoutTags
	maxRetries := uint64(retriesWithoutTags)
	if len(req.TagIDs) > 0 {
		timeout = timeoutWithTags
		maxRetries = retriesWithTags
	}

	var page model.Page
	attempt := 0
	backoff := retry.WithMaxRetries(maxRetries, retry.NewConstant(retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		p, ferr := c.fetcher.Fetch(reqCtx, req)
		if ferr != nil {
			if attempt <= int(maxRetries) {
				c.log.Emit(otel.Event{Kind: otel.KindFetchRetry, Level: otel.LevelWarn, Comp: "pager", QueryKey: key, Count: attempt, Err: ferr.Error()})
			}
			// Deadline errors from reqCtx surface as DeadlineExceeded even
			// after the budget runs out, so the caller can classify them.
			return retry.RetryableError(ferr)
		}
		page = p
		return nil
	})
	return page, err
}

// Refetch discards all pages and fetches the first page of the current
// query again. Called during an in-flight fetch, the restart is taken over
// by that call once its stale completion is dropped.
func (c *Controller) Refetch(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	if c.inflight {
		c.restart = true
	}
	c.pages = nil
	c.total = 0
	c.hasMore = true
	c.stale = false
	c.lastErr = nil
	key := c.queryKey
	c.mu.Unlock()

	c.log.Emit(otel.Event{Kind: otel.KindPageInvalidate, Comp: "pager", QueryKey: key, Msg: "refetch"})
	return c.FetchNextPage(ctx)
}

// Results returns the accumulated records in fetch order. Under fallback
// the committed tag set is applied here, client-side, with AND semantics.
func (c *Controller) Results() []model.Record {
	c.mu.Lock()
	var out []model.Record
	for _, p := range c.pages {
		out = append(out, p.Data...)
	}
	tags := c.localTags
	c.mu.Unlock()

	fallback := c.monitor != nil && c.monitor.EffectiveFallback()
	if !fallback || len(tags) == 0 {
		return out
	}
	filtered := out[:0:0]
	for _, r := range out {
		if r.HasAllTags(tags) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// TotalCount returns the server-reported total for the current query.
// Under fallback this still reflects the server query (without tags); the
// visible list may be shorter.
func (c *Controller) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// PageCount returns the number of server pages implied by the total.
func (c *Controller) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total <= 0 {
		return 0
	}
	return (c.total + c.pageSize - 1) / c.pageSize
}

// HasNextPage reports whether the server has more pages for this query.
func (c *Controller) HasNextPage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// IsLoadingInitial reports an in-flight fetch with no usable pages yet.
func (c *Controller) IsLoadingInitial() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight && (len(c.pages) == 0 || c.stale)
}

// IsLoadingMore reports an in-flight fetch appending to existing pages.
func (c *Controller) IsLoadingMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight && len(c.pages) > 0 && !c.stale
}

// LastError returns the most recent fetch error for the current query, or
// nil. Cleared by a successful fetch and by any identity change.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Pause suspends fetching; FetchNextPage becomes a no-op until Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume lifts a Pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// UpdateRecord applies fn to the accumulated copy of the record with the
// given id, if present. Used for optimistic local flag flips (read, liked,
// archived) without a refetch.
func (c *Controller) UpdateRecord(id string, fn func(*model.Record)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pi := range c.pages {
		for ri := range c.pages[pi].Data {
			if c.pages[pi].Data[ri].ID == id {
				fn(&c.pages[pi].Data[ri])
				return true
			}
		}
	}
	return false
}

// nextOffsetLocked returns the offset for the next fetch, or -1 when no
// fetch is due. Stale pages always restart at offset 0 for the new identity.
func (c *Controller) nextOffsetLocked() int {
	if c.stale {
		return 0
	}
	if !c.hasMore && len(c.pages) > 0 {
		return -1
	}
	return c.countLocked()
}

func (c *Controller) countLocked() int {
	n := 0
	for _, p := range c.pages {
		n += len(p.Data)
	}
	return n
}

func invalidationMsg(major bool) string {
	if major {
		return "major"
	}
	return "minor"
}
