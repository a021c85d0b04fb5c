package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zapidan/newsletter-hub-sub001/internal/model"
)

// HTTPFetcher fetches pages from the newsletter API over HTTP.
//
// The limiter spaces requests out; Fetch blocks on it before issuing the
// request, still honoring the caller's deadline.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher against the given base URL.
// minInterval <= 0 disables rate limiting. The HTTP client carries no
// timeout of its own; deadlines come from the request context.
func NewHTTPFetcher(baseURL, token string, minInterval time.Duration) *HTTPFetcher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
		limiter: limiter,
	}
}

// Fetch retrieves one page from GET {base}/api/newsletters.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (model.Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return model.Page{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/api/newsletters?"+encodeQuery(req), nil)
	if err != nil {
		return model.Page{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return model.Page{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Page{}, fmt.Errorf("fetch page: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	var page model.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return model.Page{}, fmt.Errorf("decode page: %w", err)
	}
	return page, nil
}

// encodeQuery maps a Request onto URL query parameters. Nil flags and empty
// sets are omitted entirely.
func encodeQuery(req Request) string {
	v := url.Values{}
	if req.IsRead != nil {
		v.Set("isRead", strconv.FormatBool(*req.IsRead))
	}
	if req.IsArchived != nil {
		v.Set("isArchived", strconv.FormatBool(*req.IsArchived))
	}
	if req.IsLiked != nil {
		v.Set("isLiked", strconv.FormatBool(*req.IsLiked))
	}
	if len(req.SourceIDs) > 0 {
		v.Set("sourceIds", strings.Join(req.SourceIDs, ","))
	}
	if len(req.TagIDs) > 0 {
		v.Set("tagIds", strings.Join(req.TagIDs, ","))
	}
	if req.DateFrom != nil {
		v.Set("dateFrom", req.DateFrom.Format(time.RFC3339))
	}
	v.Set("orderBy", req.OrderBy)
	v.Set("orderDirection", string(req.OrderDirection))
	v.Set("limit", strconv.Itoa(req.Limit))
	v.Set("offset", strconv.Itoa(req.Offset))
	return v.Encode()
}
