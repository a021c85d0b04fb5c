package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/zapidan/newsletter-hub-sub001/internal/model"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
)

// bridgeCacheTTL is how long parsed feed contents are reused before the
// bridge re-fetches the upstream feeds.
const bridgeCacheTTL = 5 * time.Minute

// BridgeFeed is one newsletter-to-RSS bridge subscription.
type BridgeFeed struct {
	Name     string
	URL      string
	SourceID string // newsletter source id records from this feed carry
}

// FlagSource supplies locally-tracked read/like/archive flags for bridge
// records; RSS feeds themselves carry no per-user state.
type FlagSource interface {
	Flags(recordID string) (read, liked, archived bool, ok bool)
}

// Bridge serves the fetch contract from RSS bridge subscriptions
// (e.g. newsletter-to-RSS services). Filtering, sorting, and pagination run
// in-process over the parsed feed contents.
type Bridge struct {
	feeds  []BridgeFeed
	client *http.Client
	flags  FlagSource // optional
	log    *otel.Logger

	mu        sync.Mutex
	cached    []model.Record
	fetchedAt time.Time
}

// NewBridge creates a Bridge over the given subscriptions. flags may be nil;
// records then default to unread.
func NewBridge(feeds []BridgeFeed, flags FlagSource, logger *otel.Logger) *Bridge {
	if logger == nil {
		logger = otel.NewNullLogger()
	}
	feedsCopy := make([]BridgeFeed, len(feeds))
	copy(feedsCopy, feeds)
	return &Bridge{
		feeds:  feedsCopy,
		client: &http.Client{},
		flags:  flags,
		log:    logger,
	}
}

// Fetch serves one page from the parsed feed contents.
func (b *Bridge) Fetch(ctx context.Context, req Request) (model.Page, error) {
	records, err := b.load(ctx)
	if err != nil {
		return model.Page{}, err
	}

	filtered := make([]model.Record, 0, len(records))
	for _, r := range records {
		if matches(r, req.QuerySpec) {
			filtered = append(filtered, r)
		}
	}

	sortRecords(filtered, req.OrderBy, string(req.OrderDirection))

	total := len(filtered)
	start := req.Offset
	if start > total {
		start = total
	}
	end := start + req.Limit
	if req.Limit <= 0 || end > total {
		end = total
	}

	return model.Page{
		Data:    append([]model.Record(nil), filtered[start:end]...),
		Count:   total,
		HasMore: end < total,
	}, nil
}

// load returns cached records, re-fetching the upstream feeds when the
// cache has expired. Individual feed failures are logged and skipped; the
// load fails only when every feed fails.
func (b *Bridge) load(ctx context.Context) ([]model.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil && time.Since(b.fetchedAt) < bridgeCacheTTL {
		return b.cached, nil
	}

	var records []model.Record
	var errCount int
	for _, feed := range b.feeds {
		items, err := b.fetchFeed(ctx, feed)
		if err != nil {
			b.log.Emit(otel.Event{Kind: otel.KindFetchError, Level: otel.LevelWarn, Comp: "bridge", Source: feed.Name, Err: err.Error()})
			errCount++
			continue
		}
		records = append(records, items...)
	}
	if errCount > 0 && errCount == len(b.feeds) {
		return nil, fmt.Errorf("all %d bridge feeds failed", errCount)
	}

	if b.flags != nil {
		for i := range records {
			if read, liked, archived, ok := b.flags.Flags(records[i].ID); ok {
				records[i].IsRead = read
				records[i].IsLiked = liked
				records[i].IsArchived = archived
			}
		}
	}

	b.cached = records
	b.fetchedAt = time.Now()
	return records, nil
}

// fetchFeed retrieves and parses a single feed.
func (b *Bridge) fetchFeed(ctx context.Context, feed BridgeFeed) ([]model.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsletterHub/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	now := time.Now()
	records := make([]model.Record, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		records = append(records, convertFeedItem(item, feed, now))
	}
	return records, nil
}

// convertFeedItem maps a gofeed item onto a newsletter record. Feed
// categories become tag ids (lowercased).
func convertFeedItem(item *gofeed.Item, feed BridgeFeed, fetchTime time.Time) model.Record {
	received := fetchTime
	if item.PublishedParsed != nil {
		received = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		received = *item.UpdatedParsed
	}

	author := ""
	if item.Author != nil {
		author = item.Author.Name
	}

	summary := item.Description
	if summary == "" && item.Content != "" {
		summary = truncate(item.Content, 500)
	}

	var tags []string
	for _, c := range item.Categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			tags = append(tags, c)
		}
	}

	return model.Record{
		ID:         recordID(item),
		SourceID:   feed.SourceID,
		SourceName: feed.Name,
		Title:      item.Title,
		Summary:    summary,
		URL:        item.Link,
		Author:     author,
		ReceivedAt: received,
		TagIDs:     tags,
	}
}

// recordID creates a deterministic id for a feed item: GUID if present,
// else the link, else title plus published time.
func recordID(item *gofeed.Item) string {
	if item.GUID != "" {
		return hashString(item.GUID)
	}
	if item.Link != "" {
		return hashString(item.Link)
	}
	key := item.Title
	if item.PublishedParsed != nil {
		key += item.PublishedParsed.String()
	}
	return hashString(key)
}

// hashString creates a short hash of a string for use as an id.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// sortRecords orders records by the requested field and direction.
// Only receivedAt and title are meaningful for bridge contents; anything
// else sorts by receivedAt. Both directions compare strictly so the stable
// sort keeps feed order for equal keys.
func sortRecords(records []model.Record, orderBy, direction string) {
	asc := direction == "asc"
	sort.SliceStable(records, func(i, j int) bool {
		switch orderBy {
		case "title":
			if asc {
				return records[i].Title < records[j].Title
			}
			return records[i].Title > records[j].Title
		default: // receivedAt
			if asc {
				return records[i].ReceivedAt.Before(records[j].ReceivedAt)
			}
			return records[i].ReceivedAt.After(records[j].ReceivedAt)
		}
	})
}
