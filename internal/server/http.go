package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/format"
	"github.com/setevik/logrelay/internal/store"
)

const defaultRecent = 50

// Handler returns the HTTP query API served by the query listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/logs/recent", s.handleRecent)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/export", s.handleExport)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleIndex serves a plain-text snapshot of the buffer.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries := s.store.All()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "logrelay: %d entries, stream on %s\n\n", len(entries), s.StreamAddr())
	if len(entries) > 0 {
		_, _ = fmt.Fprintln(w, format.Text(entries))
	}
}

// handleLogs handles GET /api/logs.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.store.Filter(f))
}

// handleRecent handles GET /api/logs/recent.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := defaultRecent
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid n %q", v))
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.store.Recent(n))
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleExport handles GET /api/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.URL.Query().Get("format"))
	out, err := s.store.Export(name)
	if errors.Is(err, store.ErrUnknownFormat) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	contentType := "application/json"
	if name == "text" || name == "txt" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Source: q.Get("source"),
		Search: q.Get("search"),
	}
	if v := q.Get("level"); v != "" {
		l, err := entry.ParseLevel(v)
		if err != nil {
			return f, err
		}
		f.Level = l
	}
	var err error
	if f.StartTime, err = parseMillis(q.Get("startTime")); err != nil {
		return f, fmt.Errorf("invalid startTime: %w", err)
	}
	if f.EndTime, err = parseMillis(q.Get("endTime")); err != nil {
		return f, fmt.Errorf("invalid endTime: %w", err)
	}
	return f, nil
}

func parseMillis(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
