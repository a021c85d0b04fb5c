package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// QuerySpec is the normalized server-bound filter/sort descriptor derived
// from State. Nil pointer fields are omitted from the server query.
type QuerySpec struct {
	IsRead         *bool
	IsArchived     *bool
	IsLiked        *bool
	SourceIDs      []string
	TagIDs         []string
	DateFrom       *time.Time
	OrderBy        string
	OrderDirection SortOrder
}

// DeriveQuery derives the server query from the filter state against the
// local clock. When fallbackActive is true, tag ids are withheld from the
// query and applied client-side instead.
func DeriveQuery(s State, fallbackActive bool) QuerySpec {
	return DeriveQueryAt(s, fallbackActive, time.Now())
}

// DeriveQueryAt is DeriveQuery with an explicit current instant. Pure:
// the same state, flag, and instant always produce the same spec.
func DeriveQueryAt(s State, fallbackActive bool, now time.Time) QuerySpec {
	q := QuerySpec{
		OrderBy:        s.SortBy,
		OrderDirection: s.SortOrder,
	}
	if q.OrderBy == "" {
		q.OrderBy = DefaultSortBy
	}
	if q.OrderDirection != SortAsc && q.OrderDirection != SortDesc {
		q.OrderDirection = SortDesc
	}

	// Status mapping is exhaustive; anything unrecognized behaves as unread.
	switch s.Status {
	case StatusRead:
		q.IsRead = boolPtr(true)
		q.IsArchived = boolPtr(false)
	case StatusLiked:
		q.IsLiked = boolPtr(true)
		q.IsArchived = boolPtr(false)
	case StatusArchived:
		q.IsArchived = boolPtr(true)
	default: // StatusUnread
		q.IsRead = boolPtr(false)
		q.IsArchived = boolPtr(false)
	}

	if s.SourceID != "" {
		q.SourceIDs = []string{s.SourceID}
	}

	if !fallbackActive && len(s.TagIDs) > 0 {
		q.TagIDs = append([]string(nil), s.TagIDs...)
	}

	q.DateFrom = dateFromFor(s.TimeRange, now)

	return q
}

// dateFromFor computes the lower receive-date bound in the caller's local
// time zone. Returns nil for the all range.
//
// Unrecognized ranges intentionally fall back to the week computation rather
// than to all; read status behaves the other way around (unknown maps to the
// unread default). The asymmetry is preserved deliberately.
func dateFromFor(tr TimeRange, now time.Time) *time.Time {
	switch tr {
	case TimeRangeAll:
		return nil
	case TimeRangeDay:
		t := midnight(now)
		return &t
	case TimeRangeMonth:
		t := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &t
	case TimeRange2Days:
		t := now.AddDate(0, 0, -2)
		return &t
	case TimeRangeLast7:
		t := now.AddDate(0, 0, -7)
		return &t
	case TimeRangeLast30:
		t := now.AddDate(0, 0, -30)
		return &t
	default: // TimeRangeWeek and anything unrecognized
		// Midnight of the most recent Monday. Weekday is Sunday=0, so
		// Sunday maps to an offset of 6 days back.
		offset := (int(now.Weekday()) + 6) % 7
		t := midnight(now.AddDate(0, 0, -offset))
		return &t
	}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Key returns the query identity: the normalized spec plus a hash of the
// navigation-relevant subset. Two specs with the same key are the same
// logical query for single-flight and stale-completion purposes.
func (q QuerySpec) Key() string {
	var b strings.Builder
	b.WriteString(flagStr(q.IsRead))
	b.WriteByte('|')
	b.WriteString(flagStr(q.IsArchived))
	b.WriteByte('|')
	b.WriteString(flagStr(q.IsLiked))
	b.WriteByte('|')
	b.WriteString(strings.Join(q.SourceIDs, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(q.TagIDs, ","))
	b.WriteByte('|')
	if q.DateFrom != nil {
		fmt.Fprintf(&b, "%d", q.DateFrom.Unix())
	}
	b.WriteByte('|')
	b.WriteString(q.OrderBy)
	b.WriteByte('|')
	b.WriteString(string(q.OrderDirection))
	b.WriteByte('|')
	b.WriteString(q.navHash())
	return b.String()
}

// navHash digests the navigation-relevant subset (tag ids, source ids,
// read/archived/liked flags). Isolates concurrent queries that differ only
// in those dimensions so stale in-flight completions cannot be applied.
func (q QuerySpec) navHash() string {
	key := strings.Join(q.TagIDs, ",") + ";" +
		strings.Join(q.SourceIDs, ",") + ";" +
		flagStr(q.IsRead) + flagStr(q.IsArchived) + flagStr(q.IsLiked)
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// MajorChange reports whether the read/archived/liked flags or source ids
// changed between derivations. Major changes discard all cached pages;
// tag-only churn does not, so the list is not visibly cleared while the
// user is still selecting tags.
func MajorChange(prev, next QuerySpec) bool {
	return !equalFlag(prev.IsRead, next.IsRead) ||
		!equalFlag(prev.IsArchived, next.IsArchived) ||
		!equalFlag(prev.IsLiked, next.IsLiked) ||
		!equalStrings(prev.SourceIDs, next.SourceIDs)
}

func boolPtr(v bool) *bool { return &v }

func flagStr(p *bool) string {
	if p == nil {
		return "-"
	}
	if *p {
		return "t"
	}
	return "f"
}

func equalFlag(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
