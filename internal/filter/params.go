package filter

import (
	"net/url"
	"strings"
	"sync"
)

// Params is the persisted key/value mirror of committed filter state.
// It behaves like a URL query string: missing keys mean defaults.
//
// Write applies a patch; a key with an empty value is removed so that
// default-valued dimensions do not accumulate in the mirror.
type Params interface {
	Read() (map[string]string, error)
	Write(patch map[string]string) error
	Clear() error
}

// Mirror keys. Comma-joined lists for tags and groups.
const (
	paramStatus = "status"
	paramSource = "source"
	paramTime   = "time"
	paramTags   = "tags"
	paramGroups = "groups"
	paramSort   = "sort"
	paramOrder  = "order"
)

// MemoryParams is an in-memory Params backed by url.Values.
// Used in tests and when no persistence is configured.
type MemoryParams struct {
	mu     sync.Mutex
	values url.Values
}

// NewMemoryParams creates an empty in-memory mirror.
func NewMemoryParams() *MemoryParams {
	return &MemoryParams{values: url.Values{}}
}

func (m *MemoryParams) Read() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k := range m.values {
		out[k] = m.values.Get(k)
	}
	return out, nil
}

func (m *MemoryParams) Write(patch map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range patch {
		if v == "" {
			m.values.Del(k)
			continue
		}
		m.values.Set(k, v)
	}
	return nil
}

func (m *MemoryParams) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = url.Values{}
	return nil
}

// Encode returns the mirror as a URL query string, for diagnostics.
func (m *MemoryParams) Encode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values.Encode()
}

// encodeState maps a State onto mirror keys. Default-valued dimensions
// encode as empty strings so Write removes them.
func encodeState(s State) map[string]string {
	def := DefaultState()
	patch := map[string]string{
		paramStatus: "",
		paramSource: s.SourceID,
		paramTime:   "",
		paramTags:   strings.Join(s.TagIDs, ","),
		paramGroups: strings.Join(s.GroupIDs, ","),
		paramSort:   "",
		paramOrder:  "",
	}
	if s.Status != def.Status {
		patch[paramStatus] = string(s.Status)
	}
	if s.TimeRange != def.TimeRange {
		patch[paramTime] = string(s.TimeRange)
	}
	if s.SortBy != def.SortBy {
		patch[paramSort] = s.SortBy
	}
	if s.SortOrder != def.SortOrder {
		patch[paramOrder] = string(s.SortOrder)
	}
	return patch
}

// decodeState rebuilds a State from mirror keys, silently normalizing
// anything unrecognized. Missing keys fall back to defaults.
func decodeState(m map[string]string) State {
	s := DefaultState()
	if v, ok := m[paramStatus]; ok && v != "" {
		s.Status = ParseStatus(v)
	}
	if v, ok := m[paramSource]; ok {
		s.SourceID = v
	}
	if v, ok := m[paramTime]; ok && v != "" {
		s.TimeRange = ParseTimeRange(v)
	}
	if v, ok := m[paramTags]; ok && v != "" {
		s.TagIDs = dedupe(strings.Split(v, ","))
	}
	if v, ok := m[paramGroups]; ok && v != "" {
		s.GroupIDs = dedupe(strings.Split(v, ","))
	}
	if v, ok := m[paramSort]; ok && v != "" {
		s.SortBy = v
	}
	if v, ok := m[paramOrder]; ok && v != "" {
		switch SortOrder(v) {
		case SortAsc, SortDesc:
			s.SortOrder = SortOrder(v)
		}
	}
	return s
}
