// Package client queries a running logrelay server over its HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/setevik/logrelay/internal/entry"
	"github.com/setevik/logrelay/internal/store"
)

// Client talks to the query listener of a server.
type Client struct {
	base   string
	client *http.Client
}

// New creates a Client for addr, which may be "host:port" or a full URL.
func New(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: base,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Query selects entries for Logs. Zero fields are not sent.
type Query struct {
	Level  entry.Level
	Source string
	Search string
	Since  time.Time
	Until  time.Time
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Level != "" {
		v.Set("level", string(q.Level))
	}
	if q.Source != "" {
		v.Set("source", q.Source)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if !q.Since.IsZero() {
		v.Set("startTime", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}
	if !q.Until.IsZero() {
		v.Set("endTime", strconv.FormatInt(q.Until.UnixMilli(), 10))
	}
	return v
}

// Logs returns the entries matching q, oldest first.
func (c *Client) Logs(ctx context.Context, q Query) ([]entry.Entry, error) {
	var entries []entry.Entry
	if err := c.getJSON(ctx, "/api/logs", q.values(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Recent returns the last n entries.
func (c *Client) Recent(ctx context.Context, n int) ([]entry.Entry, error) {
	v := url.Values{}
	v.Set("n", strconv.Itoa(n))
	var entries []entry.Entry
	if err := c.getJSON(ctx, "/api/logs/recent", v, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats returns the server's store statistics.
func (c *Client) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := c.getJSON(ctx, "/api/stats", nil, &st)
	return st, err
}

// Export returns the store rendered in the given format.
func (c *Client) Export(ctx context.Context, format string) (string, error) {
	v := url.Values{}
	if format != "" {
		v.Set("format", format)
	}
	body, err := c.get(ctx, "/api/export", v)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v url.Values, out any) error {
	body, err := c.get(ctx, path, v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, v url.Values) ([]byte, error) {
	u := c.base + path
	if len(v) > 0 {
		u += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}
