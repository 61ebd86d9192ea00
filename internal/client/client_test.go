package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/store"
)

func TestLogsSendsQuery(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]entry.Entry{
			{Level: entry.LevelError, Message: "db down", Timestamp: 3000, Source: "stderr"},
		})
	}))
	defer server.Close()

	c := New(server.URL)
	entries, err := c.Logs(context.Background(), Query{
		Level:  entry.LevelError,
		Search: "db",
		Since:  time.UnixMilli(1000),
	})
	if err != nil {
		t.Fatalf("Logs() error: %v", err)
	}

	if gotPath != "/api/logs" {
		t.Errorf("path = %q, want /api/logs", gotPath)
	}
	if gotQuery != "level=error&search=db&startTime=1000" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(entries) != 1 || entries[0].Message != "db down" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(store.Stats{
			Total:       4,
			ByLevel:     map[string]int{"info": 3, "error": 1},
			BySource:    map[string]int{"stdout": 3, "stderr": 1},
			RecentCount: 2,
		})
	}))
	defer server.Close()

	// Bare host:port addresses get an http scheme.
	st, err := New(strings.TrimPrefix(server.URL, "http://")).Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if st.Total != 4 || st.RecentCount != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestExport(t *testing.T) {
	var gotFormat string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormat = r.URL.Query().Get("format")
		_, _ = w.Write([]byte("[1970-01-01T00:00:01.000Z] INFO [stdout] hi"))
	}))
	defer server.Close()

	out, err := New(server.URL).Export(context.Background(), "txt")
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if gotFormat != "txt" {
		t.Errorf("format = %q, want txt", gotFormat)
	}
	if !strings.Contains(out, "INFO [stdout] hi") {
		t.Errorf("Export() = %q", out)
	}
}

func TestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid startTime"}`))
	}))
	defer server.Close()

	_, err := New(server.URL).Recent(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid startTime") {
		t.Errorf("error = %q", err)
	}
}

func TestUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	if _, err := New(addr).Stats(context.Background()); err == nil {
		t.Error("expected error for closed server")
	}
}
