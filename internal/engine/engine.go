// Package engine wires the filter store, debounced tag buffer, health
// monitor, and pager into the inbox facade the UI talks to.
//
// Data flow: UI mutations land in the filter store (tags via the debounce
// buffer), the store signals its subscribers, and the engine's derivation
// loop turns the new state into a query spec, feeds it to the pager, and
// fetches the first page. Health outcomes from the pager steer whether the
// next derivation withholds tags for client-side filtering.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/zapidan/newsletter-hub-sub001/internal/clock"
	"github.com/zapidan/newsletter-hub-sub001/internal/fetch"
	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/health"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
	"github.com/zapidan/newsletter-hub-sub001/internal/pager"
	"github.com/zapidan/newsletter-hub-sub001/internal/store"
)

// Options configures an Engine. Fetcher is required; everything else has a
// working default.
type Options struct {
	Fetcher fetch.Fetcher

	// Cache, when set, receives accepted pages and supplies the persisted
	// filter-params mirror (unless Params overrides it).
	Cache  *store.Store
	Params filter.Params

	Clock    clock.Clock
	Logger   *otel.Logger
	PageSize int

	DebounceInterval     time.Duration
	PreferLocalFiltering bool
}

// Engine is the inbox facade: filter mutations in, paginated filtered
// records out.
type Engine struct {
	filters *filter.Store
	tags    *filter.TagBuffer
	monitor *health.Monitor
	pager   *pager.Controller
	cache   *store.Store
	log     *otel.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an Engine. Call Start to begin the derivation loop.
func New(opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = otel.NewNullLogger()
	}
	params := opts.Params
	if params == nil && opts.Cache != nil {
		params = opts.Cache.Params()
	}

	filters := filter.NewStore(params, logger)
	tags := filter.NewTagBuffer(filters, clk, opts.DebounceInterval, logger)
	monitor := health.NewMonitor(clk, logger)
	monitor.SetLocalFiltering(opts.PreferLocalFiltering)
	pc := pager.New(opts.Fetcher, monitor, clk, logger, opts.PageSize)

	e := &Engine{
		filters: filters,
		tags:    tags,
		monitor: monitor,
		pager:   pc,
		cache:   opts.Cache,
		log:     logger,
	}
	if e.cache != nil {
		pc.SetOnPage(e.cachePage)
	}
	return e
}

// Start launches the derivation loop, which derives the initial query and
// fetches its first page before listening for changes. Start itself does not
// block; a slow backend delays the first results, not the caller.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	sub := e.filters.Subscribe()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.applyState(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub:
				e.applyState(ctx)
			}
		}
	}()
}

// Close stops the derivation loop and the health monitor's recovery sweep.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.monitor.Close()
}

// applyState re-derives the query from the current filter state and fetches
// its first page. Fallback is consulted here, at derivation time; a health
// transition takes effect on the next filter change or refetch.
//
// Changes that leave the query identity alone (group-filter edits, tag
// commits while fallback withholds tags) skip the fetch: the loaded pages
// already cover the query, and fetching here would silently paginate
// forward instead.
func (e *Engine) applyState(ctx context.Context) {
	state := e.filters.Get()
	e.tags.ReconcileCommitted(state.TagIDs)
	fallback := e.monitor.EffectiveFallback()
	q := filter.DeriveQuery(state, fallback)
	if !e.pager.SetQuery(q, state.TagIDs) {
		return
	}
	if err := e.pager.FetchNextPage(ctx); err != nil {
		e.log.Error(otel.KindFetchError, "engine", err)
	}
}

// cachePage write-throughs an accepted page into the local cache.
func (e *Engine) cachePage(records []model.Record) {
	if _, err := e.cache.SaveRecords(records); err != nil {
		e.log.Error(otel.KindStoreError, "engine", err)
	}
}

// --- filter mutations ---

// SetStatus sets the status filter.
func (e *Engine) SetStatus(st filter.Status) { e.filters.SetStatus(st) }

// SetSource sets the source filter; empty id clears it.
func (e *Engine) SetSource(id string) { e.filters.SetSource(id) }

// SetTimeRange sets the receive-date window.
func (e *Engine) SetTimeRange(tr filter.TimeRange) { e.filters.SetTimeRange(tr) }

// ToggleTag flips one tag in the staged set. The commit is debounced.
func (e *Engine) ToggleTag(tagID string) { e.tags.Toggle(tagID) }

// AddTag stages a tag.
func (e *Engine) AddTag(tagID string) { e.tags.Add(tagID) }

// RemoveTag unstages a tag.
func (e *Engine) RemoveTag(tagID string) { e.tags.Remove(tagID) }

// SetTags replaces the staged tag set.
func (e *Engine) SetTags(tagIDs []string) { e.tags.Stage(tagIDs) }

// ClearTags stages an empty tag set.
func (e *Engine) ClearTags() { e.tags.Clear() }

// PendingTags returns the staged (not yet committed) tag set for display.
func (e *Engine) PendingTags() []string { return e.tags.Pending() }

// SetGroupFilters replaces the group filter set.
func (e *Engine) SetGroupFilters(ids []string) { e.filters.SetGroupFilters(ids) }

// SetSort sets the sort field and direction.
func (e *Engine) SetSort(by string, order filter.SortOrder) { e.filters.SetSort(by, order) }

// UpdateMany applies a multi-field patch in one mirror write and one
// derivation.
func (e *Engine) UpdateMany(p filter.Patch) { e.filters.UpdateMany(p) }

// ResetAll restores the default filter state and discards staged tag edits.
func (e *Engine) ResetAll() {
	e.tags.Sync(nil)
	e.filters.Reset()
}

// State returns a snapshot of the committed filter state.
func (e *Engine) State() filter.State { return e.filters.Get() }

// HasActiveFilters reports whether any dimension differs from its default.
func (e *Engine) HasActiveFilters() bool { return e.filters.Get().HasActiveFilters() }

// IsFilterActive reports whether the named dimension differs from its
// default. Names: status, source, time, tags, groups, sort.
func (e *Engine) IsFilterActive(name string) bool { return e.filters.Get().IsFilterActive(name) }

// --- results ---

// Items returns the accumulated records, tag-filtered client-side when
// fallback is active.
func (e *Engine) Items() []model.Record { return e.pager.Results() }

// TotalCount returns the server-reported total for the current query.
func (e *Engine) TotalCount() int { return e.pager.TotalCount() }

// PageCount returns the number of server pages implied by the total.
func (e *Engine) PageCount() int { return e.pager.PageCount() }

// HasNextPage reports whether more pages can be fetched.
func (e *Engine) HasNextPage() bool { return e.pager.HasNextPage() }

// IsLoadingInitial reports an in-flight fetch with nothing to show yet.
func (e *Engine) IsLoadingInitial() bool { return e.pager.IsLoadingInitial() }

// IsLoadingMore reports an in-flight fetch appending to the visible list.
func (e *Engine) IsLoadingMore() bool { return e.pager.IsLoadingMore() }

// LastError returns the most recent fetch error, or nil.
func (e *Engine) LastError() error { return e.pager.LastError() }

// FetchNextPage fetches the next page for the current query, blocking for
// the duration of the request.
func (e *Engine) FetchNextPage(ctx context.Context) error { return e.pager.FetchNextPage(ctx) }

// Refetch discards accumulated pages and fetches the first page again.
func (e *Engine) Refetch(ctx context.Context) error { return e.pager.Refetch(ctx) }

// --- health ---

// Health returns the current health snapshot.
func (e *Engine) Health() health.Record { return e.monitor.Snapshot() }

// SetLocalFiltering sets the explicit client-side filtering opt-in.
func (e *Engine) SetLocalFiltering(on bool) { e.monitor.SetLocalFiltering(on) }

// --- record flags ---

// MarkRead flips the read flag on a visible record and persists it to the
// local cache. The visible list is updated optimistically; the record stays
// in place until the next refetch.
func (e *Engine) MarkRead(id string, read bool) {
	e.pager.UpdateRecord(id, func(r *model.Record) { r.IsRead = read })
	if e.cache != nil {
		if err := e.cache.MarkRead(id, read); err != nil {
			e.log.Error(otel.KindStoreError, "engine", err)
		}
	}
}

// ToggleLike flips the liked flag on a visible record.
func (e *Engine) ToggleLike(id string) {
	var liked bool
	found := e.pager.UpdateRecord(id, func(r *model.Record) {
		r.IsLiked = !r.IsLiked
		liked = r.IsLiked
	})
	if found && e.cache != nil {
		if err := e.cache.MarkLiked(id, liked); err != nil {
			e.log.Error(otel.KindStoreError, "engine", err)
		}
	}
}

// Archive sets the archived flag on a visible record.
func (e *Engine) Archive(id string, archived bool) {
	e.pager.UpdateRecord(id, func(r *model.Record) { r.IsArchived = archived })
	if e.cache != nil {
		if err := e.cache.MarkArchived(id, archived); err != nil {
			e.log.Error(otel.KindStoreError, "engine", err)
		}
	}
}
