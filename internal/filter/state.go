// Package filter holds the canonical user-selected filter state, its
// persisted mirror, the pure derivation into a server query spec, and the
// debounced tag edit buffer.
//
// # Concurrency
//
// The Store is safe for concurrent use. State is handed out as value
// snapshots; callers never observe mutation in place.
package filter

import "strings"

// Status is the read/like/archive view selector.
type Status string

const (
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusLiked    Status = "liked"
	StatusArchived Status = "archived"
)

// ParseStatus normalizes a status value. Unrecognized values map to unread;
// stale persisted state must never surface an error.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusUnread, StatusRead, StatusLiked, StatusArchived:
		return Status(s)
	default:
		return StatusUnread
	}
}

// TimeRange selects the receive-date window.
type TimeRange string

const (
	TimeRangeAll    TimeRange = "all"
	TimeRangeDay    TimeRange = "day"
	TimeRange2Days  TimeRange = "2days"
	TimeRangeWeek   TimeRange = "week"
	TimeRangeMonth  TimeRange = "month"
	TimeRangeLast7  TimeRange = "last7"
	TimeRangeLast30 TimeRange = "last30"
)

// ParseTimeRange normalizes a time range value. Unrecognized values are kept
// as-is; derivation maps them onto the week window (see dateFromFor).
func ParseTimeRange(s string) TimeRange {
	return TimeRange(s)
}

// SortOrder is the result ordering direction.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// DefaultSortBy is the field results are ordered by unless overridden.
const DefaultSortBy = "receivedAt"

// State is the canonical user-selected filter state.
//
// SourceID and GroupIDs are mutually exclusive selection modes: the Store
// clears one when the other is set. TagIDs is an ordered set (no duplicates).
type State struct {
	Status    Status
	SourceID  string // empty means no source filter
	TimeRange TimeRange
	TagIDs    []string
	GroupIDs  []string
	SortBy    string
	SortOrder SortOrder
}

// DefaultState returns the documented defaults: status=unread, timeRange=all,
// no source/tags/groups, sort=receivedAt desc.
func DefaultState() State {
	return State{
		Status:    StatusUnread,
		TimeRange: TimeRangeAll,
		SortBy:    DefaultSortBy,
		SortOrder: SortDesc,
	}
}

// Clone returns a deep copy; the slices are not shared.
func (s State) Clone() State {
	out := s
	out.TagIDs = append([]string(nil), s.TagIDs...)
	out.GroupIDs = append([]string(nil), s.GroupIDs...)
	return out
}

// Equal reports whether two states are identical, including tag order.
func (s State) Equal(o State) bool {
	if s.Status != o.Status || s.SourceID != o.SourceID || s.TimeRange != o.TimeRange ||
		s.SortBy != o.SortBy || s.SortOrder != o.SortOrder {
		return false
	}
	return equalStrings(s.TagIDs, o.TagIDs) && equalStrings(s.GroupIDs, o.GroupIDs)
}

// HasActiveFilters reports whether any filter differs from the defaults.
func (s State) HasActiveFilters() bool {
	def := DefaultState()
	return s.Status != def.Status ||
		s.SourceID != "" ||
		s.TimeRange != def.TimeRange ||
		len(s.TagIDs) > 0 ||
		len(s.GroupIDs) > 0
}

// IsFilterActive reports whether the named filter dimension is non-default.
// Recognized names: "status", "source", "time", "tags", "groups", "sort".
func (s State) IsFilterActive(name string) bool {
	def := DefaultState()
	switch strings.ToLower(name) {
	case "status":
		return s.Status != def.Status
	case "source":
		return s.SourceID != ""
	case "time":
		return s.TimeRange != def.TimeRange
	case "tags":
		return len(s.TagIDs) > 0
	case "groups":
		return len(s.GroupIDs) > 0
	case "sort":
		return s.SortBy != def.SortBy || s.SortOrder != def.SortOrder
	default:
		return false
	}
}

// dedupe removes duplicate ids preserving first-seen order.
func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
