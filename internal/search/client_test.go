package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"logalert/internal/domain"
)

func esHit(index, id, message string) map[string]any {
	return map[string]any{
		"_index":  index,
		"_id":     id,
		"_source": map[string]any{"message": message},
	}
}

func writeES(w http.ResponseWriter, body map[string]any) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func TestQueryLogsDrainsScrollAndClears(t *testing.T) {
	t.Parallel()

	var (
		scrollCalls  atomic.Int32
		scrollClears atomic.Int32
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "_search/scroll") && r.Method == http.MethodDelete:
			scrollClears.Add(1)
			writeES(w, map[string]any{"succeeded": true})
		case strings.Contains(r.URL.Path, "_search/scroll"):
			call := scrollCalls.Add(1)
			hits := []any{}
			if call == 1 {
				hits = []any{esHit("app-2026.08.24", "3", "third")}
			}
			writeES(w, map[string]any{
				"_scroll_id": "scroll-1",
				"hits":       map[string]any{"hits": hits},
			})
		case strings.Contains(r.URL.Path, "_search"):
			writeES(w, map[string]any{
				"_scroll_id": "scroll-1",
				"hits": map[string]any{
					"hits": []any{
						esHit("app-2026.08.24", "1", "first"),
						esHit("app-2026.08.24", "2", "second"),
					},
				},
			})
		default:
			writeES(w, map[string]any{})
		}
	}))
	defer server.Close()

	client, err := NewClient(Options{URL: server.URL, QueryTimeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	docs, err := client.QueryLogs(
		context.Background(),
		"app-*",
		domain.QueryConditions{{Field: "message", Operator: "contains", Value: "err"}},
		windowFrom, windowTo,
		200,
	)
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}

	if len(docs) != 3 {
		t.Fatalf("expected 3 documents across pages, got %d", len(docs))
	}
	if docs[0]["_index"] != "app-2026.08.24" || docs[0]["_id"] != "1" {
		t.Fatalf("expected merged _index/_id, got %v", docs[0])
	}
	if docs[2]["message"] != "third" {
		t.Fatalf("expected scroll page document last, got %v", docs[2])
	}
	if scrollClears.Load() != 1 {
		t.Fatalf("expected scroll context cleared once, got %d", scrollClears.Load())
	}
}

func TestQueryLogsReportsSearchError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "parsing_exception"},
		})
	}))
	defer server.Close()

	client, err := NewClient(Options{URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.QueryLogs(context.Background(), "app-*", nil, windowFrom, windowTo, 10)
	if err == nil || !strings.Contains(err.Error(), "search error") {
		t.Fatalf("expected search error, got %v", err)
	}
}

func TestParseAddresses(t *testing.T) {
	t.Parallel()

	got := parseAddresses(" http://a:9200 ; ;http://b:9200;")
	if len(got) != 2 || got[0] != "http://a:9200" || got[1] != "http://b:9200" {
		t.Fatalf("unexpected addresses: %v", got)
	}
	if parseAddresses("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestFromDataSourceRejectsDisabled(t *testing.T) {
	t.Parallel()

	_, err := FromDataSource(domain.DataSource{URL: "http://es:9200", Enabled: false}, time.Second)
	if err != ErrDisabledSource {
		t.Fatalf("expected ErrDisabledSource, got %v", err)
	}

	opts, err := FromDataSource(domain.DataSource{URL: "http://es:9200", Enabled: true}, time.Second)
	if err != nil {
		t.Fatalf("from data source: %v", err)
	}
	if opts.URL != "http://es:9200" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}
