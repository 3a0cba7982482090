// Package logging builds the slog loggers used by the command line.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode controls the handler style used when constructing a logger.
type Mode int

const (
	// ModeText renders records as terse lines prefixed with the dependency
	// being processed.
	ModeText Mode = iota
	// ModeJSON renders records as JSON.
	ModeJSON
)

// DependencyKey is hoisted in front of the message by the text handler.
const DependencyKey = "dependency"

// ParseMode converts a --log-format value.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text", "cli":
		return ModeText, nil
	case "json":
		return ModeJSON, nil
	default:
		return ModeText, fmt.Errorf("unknown log format %q", value)
	}
}

// ParseLevel converts a --log-level value.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

// New constructs a logger targeting w. If level is nil, slog.LevelInfo is used.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}

	if mode == ModeJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&textHandler{out: &lockedWriter{w: w}, level: level})
}

// Ensure returns the provided logger or the process default if nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(line string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := io.WriteString(lw.w, line)
	return err
}

// textHandler writes "[dependency] LEVEL message key=value" lines. The level
// is omitted for info records. Handlers derived with WithAttrs/WithGroup share
// the writer lock.
type textHandler struct {
	out        *lockedWriter
	level      slog.Leveler
	dependency string
	prefix     string
	groups     []string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	dependency := h.dependency
	var attrs strings.Builder
	attrs.WriteString(h.prefix)
	record.Attrs(func(attr slog.Attr) bool {
		if len(h.groups) == 0 && attr.Key == DependencyKey {
			dependency = attr.Value.String()
			return true
		}
		writeAttr(&attrs, h.groups, attr)
		return true
	})

	var line strings.Builder
	if dependency != "" {
		line.WriteString("[" + dependency + "] ")
	}
	if record.Level != slog.LevelInfo {
		line.WriteString(strings.ToUpper(record.Level.String()))
		line.WriteByte(' ')
	}
	line.WriteString(record.Message)
	line.WriteString(attrs.String())
	line.WriteByte('\n')

	return h.out.write(line.String())
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.groups = append([]string(nil), h.groups...)

	var prefix strings.Builder
	prefix.WriteString(h.prefix)
	for _, attr := range attrs {
		if len(h.groups) == 0 && attr.Key == DependencyKey {
			next.dependency = attr.Value.String()
			continue
		}
		writeAttr(&prefix, h.groups, attr)
	}
	next.prefix = prefix.String()
	return &next
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func writeAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, inner := range value.Group() {
			writeAttr(b, nested, inner)
		}
		return
	}
	if attr.Key == "" {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(formatValue(value)))
}

func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return strconv.FormatInt(value.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(value.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(value.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(value.Bool())
	case slog.KindDuration:
		return value.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return err.Error()
		}
		return fmt.Sprint(value.Any())
	default:
		return value.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
