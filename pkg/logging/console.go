package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// consoleHandler renders one compile-run event per line:
//
//	15:04:05 INFO  compilation finished run=1f0c9a2b cycles=2 recompiled=2 duration=140ms
//
// The renderer knows the run vocabulary: run ids shorten to eight characters,
// millisecond durations get their unit back, errors are quoted, and list
// values (invalidated sources, changed classes) elide after a few entries so
// a big cycle cannot flood the console.
type consoleHandler struct {
	mu    *sync.Mutex // shared across WithAttrs/WithGroup copies
	out   io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

func newConsoleHandler(w io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, out: w, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// levelTag pads every level to the same width so messages line up; the trace
// level below debug gets its own name instead of slog's "DEBUG-4".
func levelTag(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO "
	case level < slog.LevelError:
		return "WARN "
	default:
		return "ERROR"
	}
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = r.Time.AppendFormat(buf, "15:04:05")
	buf = append(buf, ' ')
	buf = append(buf, levelTag(r.Level)...)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = h.qualify(a.Key)
		buf = h.appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *consoleHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	buf = append(buf, ' ')
	if a.Key == "durationMs" {
		buf = append(buf, "duration"...)
	} else {
		buf = append(buf, a.Key...)
	}
	buf = append(buf, '=')

	// Run-vocabulary keys render specially regardless of value kind.
	switch a.Key {
	case "run":
		if id, ok := a.Value.Any().(string); ok && len(id) > 8 {
			return append(buf, id[:8]...)
		}
	case "durationMs":
		buf = append(buf, a.Value.String()...)
		return append(buf, "ms"...)
	case "error":
		return fmt.Appendf(buf, "%q", a.Value.Any())
	}
	return h.appendValue(buf, a.Value)
}

// maxListed bounds list-valued attributes like changed classes or
// invalidated sources.
const maxListed = 4

func (h *consoleHandler) appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendQuoted(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		if list, ok := v.Any().([]string); ok {
			return appendList(buf, list)
		}
		return fmt.Appendf(buf, "%v", v.Any())
	}
}

func appendList(buf []byte, list []string) []byte {
	buf = append(buf, '[')
	for i, s := range list {
		if i == maxListed {
			return fmt.Appendf(buf, " +%d more]", len(list)-maxListed)
		}
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = appendQuoted(buf, s)
	}
	return append(buf, ']')
}

func appendQuoted(buf []byte, s string) []byte {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '"' || r == '=' {
			return strconv.AppendQuote(buf, s)
		}
	}
	return append(buf, s...)
}

// qualify prefixes a key with the open group path. Attrs bound by WithAttrs
// are qualified when attached, so an attr bound before a WithGroup stays
// outside the group, matching slog semantics.
func (h *consoleHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &c
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.group = c.qualify(name)
	return &c
}
