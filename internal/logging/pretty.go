package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PrettyHandler renders records as single console lines:
//
//	15:04:05.000 INF [component] message key=value ...
//
// The "comp" (or "component") attr is pulled out of the attr list and
// shown as the bracketed component.
type PrettyHandler struct {
	out   io.Writer
	mu    *sync.Mutex
	level slog.Level

	// bound carries WithAttrs state; prefix carries WithGroup state.
	bound  []slog.Attr
	prefix string
}

func NewPrettyHandler(w io.Writer, level slog.Level) *PrettyHandler {
	return &PrettyHandler{out: w, mu: new(sync.Mutex), level: level}
}

func (h *PrettyHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = append(append([]slog.Attr(nil), h.bound...), attrs...)
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var comp string
	line := make([]slog.Attr, 0, len(h.bound)+r.NumAttrs())

	take := func(a slog.Attr) {
		if h.prefix == "" && (a.Key == "comp" || a.Key == "component") {
			comp = fmt.Sprint(a.Value.Any())
			return
		}
		line = append(line, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	for _, a := range h.bound {
		take(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		take(a)
		return true
	})

	var b strings.Builder
	b.WriteString(r.Time.Local().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelShort(r.Level))
	if comp != "" {
		fmt.Fprintf(&b, " [%s]", comp)
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range line {
		fmt.Fprintf(&b, " %s=%s", a.Key, attrValue(a.Value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func levelShort(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERR"
	case l >= slog.LevelWarn:
		return "WRN"
	case l >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func attrValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("%q", v.String())
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return fmt.Sprintf("%q", err.Error())
		}
	}
	return fmt.Sprint(v.Any())
}
