// Package fetch provides the external data-fetch capability for the
// newsletter engine: the wire contract plus an HTTP API client and an RSS
// bridge implementation that serve the same interface.
package fetch

import (
	"context"

	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
)

// Request is one page request: the derived query spec plus pagination.
type Request struct {
	filter.QuerySpec
	Limit  int
	Offset int
}

// Fetcher retrieves one page of newsletter records for a request.
//
// Implementations must respect context cancellation; the pager enforces
// per-request deadlines through the context.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (model.Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface (testing).
type FetcherFunc func(ctx context.Context, req Request) (model.Page, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (model.Page, error) {
	return f(ctx, req)
}

// matches reports whether a record satisfies the non-pagination dimensions
// of the query. Shared by the RSS bridge, which filters in-process.
func matches(r model.Record, q filter.QuerySpec) bool {
	if q.IsRead != nil && r.IsRead != *q.IsRead {
		return false
	}
	if q.IsArchived != nil && r.IsArchived != *q.IsArchived {
		return false
	}
	if q.IsLiked != nil && r.IsLiked != *q.IsLiked {
		return false
	}
	if len(q.SourceIDs) > 0 && !contains(q.SourceIDs, r.SourceID) {
		return false
	}
	if len(q.TagIDs) > 0 && !r.HasAllTags(q.TagIDs) {
		return false
	}
	if q.DateFrom != nil && r.ReceivedAt.Before(*q.DateFrom) {
		return false
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
