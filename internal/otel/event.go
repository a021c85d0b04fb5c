// Package otel provides structured observability for the newsletter engine.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps recent events in memory for the health overlay.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Fetch path events
	KindFetchStart    EventKind = "fetch.start"
	KindFetchComplete EventKind = "fetch.complete"
	KindFetchTimeout  EventKind = "fetch.timeout"
	KindFetchRetry    EventKind = "fetch.retry"
	KindFetchError    EventKind = "fetch.error"
	KindFetchStale    EventKind = "fetch.stale" // completion for a superseded query, dropped

	// Health monitor events
	KindHealthOutcome  EventKind = "health.outcome"
	KindHealthFallback EventKind = "health.fallback"
	KindHealthRecover  EventKind = "health.recover"
	KindHealthSweep    EventKind = "health.sweep"

	// Filter events
	KindFilterChange EventKind = "filter.change"
	KindFilterCommit EventKind = "filter.commit" // debounced tag commit

	// Page list events
	KindPageAppend     EventKind = "page.append"
	KindPageInvalidate EventKind = "page.invalidate"

	// Store events
	KindStoreError EventKind = "store.error"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // component: "pager", "health", "filter", "fetch"
	SessionID string         `json:"session_id,omitempty"` // same for entire app run
	QueryKey  string         `json:"qk,omitempty"`         // query identity correlation
	Dur       time.Duration  `json:"-"`                    // not serialized directly
	DurMs     float64        `json:"dur_ms,omitempty"`     // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Offset    int            `json:"offset,omitempty"`
	Source    string         `json:"source,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`   // free text
	Extra     map[string]any `json:"extra,omitempty"` // escape hatch for unusual fields
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
