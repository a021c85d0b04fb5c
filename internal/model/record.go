// Package model defines the data types shared across the newsletter engine.
package model

import "time"

// Record is a single newsletter as returned by the fetch capability.
type Record struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	SourceName string    `json:"sourceName,omitempty"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	URL        string    `json:"url,omitempty"`
	Author     string    `json:"author,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
	IsRead     bool      `json:"isRead"`
	IsLiked    bool      `json:"isLiked"`
	IsArchived bool      `json:"isArchived"`
	TagIDs     []string  `json:"tagIds,omitempty"`
}

// HasTag reports whether the record carries the given tag id.
func (r Record) HasTag(id string) bool {
	for _, t := range r.TagIDs {
		if t == id {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the record carries every given tag id.
// An empty set matches everything.
func (r Record) HasAllTags(ids []string) bool {
	for _, id := range ids {
		if !r.HasTag(id) {
			return false
		}
	}
	return true
}

// Source identifies a newsletter sender.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Tag is a user-assigned label on records.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Page is one fetched page of results. Count is the server-side total for
// the whole query, not the page length. HasMore is authoritative from the
// server and never inferred from len(Data).
type Page struct {
	Data    []Record `json:"data"`
	Count   int      `json:"count"`
	HasMore bool     `json:"hasMore"`
}
