package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler is the console handler for `log_format: pretty`.
//
// A line reads "15:04:05.000 INFO  [session] restore.done result=restored ...":
// the first segment of the dotted event name is shown as the component.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteByte(' ')

	component, event := splitEvent(r.Message)
	if component != "" {
		b.WriteString(paint("["+component+"]", componentColor(component), h.color))
		b.WriteByte(' ')
	}
	b.WriteString(paint(event, ansiBright, h.color))

	for _, a := range h.attrs {
		h.appendAttr(&b, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, "")
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), ansiDim, h.color))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, parent string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" || a.Equal(slog.Attr{}) {
		return
	}

	fullKey := key
	switch {
	case parent != "":
		fullKey = parent + "." + key
	case len(h.groups) > 0:
		fullKey = strings.Join(h.groups, ".") + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, fullKey)
		}
		return
	}

	// Grouped keys keep their full name; known keys match on the leaf.
	label, value := fullKey, quoteIfNeeded(valueToString(a.Value))
	if pk, ok := prettyKeys[key]; ok {
		if pk.label != "" {
			label = strings.TrimSuffix(fullKey, key) + pk.label
		}
		if pk.render != nil {
			if s, ok := pk.render(a.Value, h.color); ok {
				value = s
			}
		}
	}

	b.WriteByte(' ')
	b.WriteString(label)
	b.WriteByte('=')
	b.WriteString(value)
}

// prettyKey controls how one attribute is printed. An empty label keeps
// the key; a render that reports false falls back to the plain value.
type prettyKey struct {
	label  string
	render func(v slog.Value, color bool) (string, bool)
}

var prettyKeys = map[string]prettyKey{
	"method": {render: func(v slog.Value, color bool) (string, bool) {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color), true
	}},
	"path":         {render: plainColor(ansiCyan)},
	"status":       {render: renderStatus},
	"status_class": {label: "class", render: stringColor(colorizeStatusClass)},
	"duration_ms":  {label: "duration", render: renderMillis},
	"dur_ms":       {label: "duration", render: renderMillis},
	"result":       {render: stringColor(colorizeResult)},
	"decision":     {render: stringColor(colorizeDecision)},
	"trigger":      {render: stringColor(colorizeTrigger)},
	"token_fp":     {label: "tok", render: renderFingerprint},
	"renewal_fp":   {label: "renew", render: renderFingerprint},
	"session_id":   {label: "sid", render: plainColor(ansiDim)},
	"expires_in":   {label: "ttl", render: renderDuration},
	"delay":        {render: renderDuration},
}

func plainColor(code string) func(slog.Value, bool) (string, bool) {
	return func(v slog.Value, color bool) (string, bool) {
		return paint(quoteIfNeeded(strings.TrimSpace(v.String())), code, color), true
	}
}

func stringColor(fn func(string, bool) string) func(slog.Value, bool) (string, bool) {
	return func(v slog.Value, color bool) (string, bool) {
		return fn(strings.ToLower(strings.TrimSpace(v.String())), color), true
	}
}

func renderStatus(v slog.Value, color bool) (string, bool) {
	n, ok := valueToInt64(v)
	if !ok {
		return "", false
	}
	return colorizeStatusCode(int(n), color), true
}

func renderMillis(v slog.Value, color bool) (string, bool) {
	n, ok := valueToInt64(v)
	if !ok {
		return "", false
	}
	return colorizeDurationMS(n, color), true
}

// renderFingerprint prints token fingerprints as "#abc123".
func renderFingerprint(v slog.Value, color bool) (string, bool) {
	fp := strings.TrimSpace(v.String())
	if fp == "" {
		return "-", true
	}
	return paint("#"+fp, ansiDim, color), true
}

func renderDuration(v slog.Value, color bool) (string, bool) {
	if v.Kind() != slog.KindDuration {
		return "", false
	}
	return paint(compactDuration(v.Duration()), ansiCyan, color), true
}

// compactDuration rounds to whole seconds and drops zero tails ("14m0s" -> "14m").
func compactDuration(d time.Duration) string {
	if d > 0 && d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	s := d.Round(time.Second).String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

// splitEvent splits "session.restore.done" into "session" and "restore.done".
func splitEvent(msg string) (component, event string) {
	msg = strings.TrimSpace(msg)
	i := strings.IndexByte(msg, '.')
	if i <= 0 || i == len(msg)-1 || strings.ContainsAny(msg[:i], " \t") {
		return "", msg
	}
	return msg[:i], msg[i+1:]
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// levelTag is padded to five columns so events line up.
func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERROR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WARN ", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("DEBUG", ansiMagenta, color)
	default:
		return paint("INFO ", ansiBlue, color)
	}
}
