package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/setevik/logrelay/internal/entry"
)

// Handler wraps inner so that every record it handles is also captured
// while the interceptor runs. Records go to inner untouched; inner's result
// is returned as-is. Capture only sees records inner has enabled.
func (i *Interceptor) Handler(inner slog.Handler) slog.Handler {
	return &handler{i: i, inner: inner}
}

type handler struct {
	i      *Interceptor
	inner  slog.Handler
	attrs  []slog.Attr // pre-qualified with groups
	groups []string
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)
	if h.i.running.Load() {
		h.capture(r)
	}
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	qualified = append(qualified, h.attrs...)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		qualified = append(qualified, a)
	}
	return &handler{i: h.i, inner: h.inner.WithAttrs(attrs), attrs: qualified, groups: h.groups}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &handler{i: h.i, inner: h.inner.WithGroup(name), attrs: h.attrs, groups: groups}
}

func (h *handler) capture(r slog.Record) {
	defer func() { _ = recover() }()

	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(fields, "", a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, prefix, a)
		return true
	})

	var data json.RawMessage
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			text := make(map[string]string, len(fields))
			for k, v := range fields {
				text[k] = fmt.Sprint(v)
			}
			b, _ = json.Marshal(text)
		}
		data = b
	}

	h.i.record(LevelFromSlog(r.Level), SourceSlog, r.Message, data, r.Time)
}

// addAttr flattens a into fields, joining group names with dots.
func addAttr(fields map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(fields, key, ga)
		}
		return
	}
	if key == "" {
		return
	}

	switch x := v.Any().(type) {
	case error:
		fields[key] = x.Error()
	case fmt.Stringer:
		fields[key] = x.String()
	default:
		fields[key] = x
	}
}

// LevelFromSlog maps a slog level onto the four entry levels.
func LevelFromSlog(l slog.Level) entry.Level {
	switch {
	case l < slog.LevelInfo:
		return entry.LevelDebug
	case l < slog.LevelWarn:
		return entry.LevelInfo
	case l < slog.LevelError:
		return entry.LevelWarn
	default:
		return entry.LevelError
	}
}
