package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
)

func TestHTTPFetcherQueryEncoding(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(model.Page{
			Data:    []model.Record{{ID: "n1", Title: "Hello"}},
			Count:   41,
			HasMore: true,
		})
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "secret-token", 0)
	dateFrom := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	read := false
	archived := false
	req := Request{
		QuerySpec: filter.QuerySpec{
			IsRead:         &read,
			IsArchived:     &archived,
			SourceIDs:      []string{"src-1", "src-2"},
			TagIDs:         []string{"go"},
			DateFrom:       &dateFrom,
			OrderBy:        "receivedAt",
			OrderDirection: filter.SortDesc,
		},
		Limit:  20,
		Offset: 40,
	}

	page, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/newsletters" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	want := map[string]string{
		"isRead":         "false",
		"isArchived":     "false",
		"sourceIds":      "src-1,src-2",
		"tagIds":         "go",
		"dateFrom":       dateFrom.Format(time.RFC3339),
		"orderBy":        "receivedAt",
		"orderDirection": "desc",
		"limit":          "20",
		"offset":         "40",
	}
	for k, v := range want {
		if got := gotQuery[k]; len(got) != 1 || got[0] != v {
			t.Errorf("query[%s] = %v, want %q", k, got, v)
		}
	}
	if _, present := gotQuery["isLiked"]; present {
		t.Error("nil flag should be omitted from the query")
	}

	if page.Count != 41 || !page.HasMore || len(page.Data) != 1 {
		t.Errorf("page = %+v", page)
	}
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "", 0)
	if _, err := f.Fetch(context.Background(), Request{Limit: 10}); err == nil {
		t.Fatal("expected an error for HTTP 502")
	}
}

func TestHTTPFetcherHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Fetch(ctx, Request{Limit: 10}); err == nil {
		t.Fatal("expected a deadline error")
	}
}
