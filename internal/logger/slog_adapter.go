package logger

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// ComponentKey is the slog attribute that selects the logger prefix instead of
// being rendered as key=value.
const ComponentKey = "component"

// NewSlogHandler returns a slog.Handler writing through l. Returns nil for a nil logger.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogHandler{log: l}
}

// NewStdLogger returns a *log.Logger forwarding to l at the given level, for APIs such as
// http.Server.ErrorLog that only accept the standard logger.
func NewStdLogger(l *Logger, level slog.Level) *log.Logger {
	if l == nil {
		l = Global()
	}
	return slog.NewLogLogger(NewSlogHandler(l), level)
}

// slogHandler renders attributes once, when they are attached, so Handle only has to
// append the per-record ones.
type slogHandler struct {
	log      *Logger
	group    string
	rendered string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlog(level) >= h.log.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	if h.rendered != "" {
		b.WriteByte(' ')
		b.WriteString(h.rendered)
	}
	r.Attrs(func(a slog.Attr) bool {
		render(&b, h.group, a)
		return true
	})
	msg := strings.TrimSpace(b.String())

	switch fromSlog(r.Level) {
	case LevelError:
		h.log.Error("%s", msg)
	case LevelWarn:
		h.log.Warn("%s", msg)
	case LevelInfo:
		h.log.Info("%s", msg)
	default:
		h.log.Debug("%s", msg)
	}
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.rendered)
	for _, a := range attrs {
		if a.Key == ComponentKey && h.group == "" {
			next.log = h.log.WithPrefix(a.Value.String())
			continue
		}
		render(&b, h.group, a)
	}
	next.rendered = strings.TrimSpace(b.String())
	return &next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = join(h.group, name)
	return &next
}

func fromSlog(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func render(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, nested := range a.Value.Group() {
			render(b, join(group, a.Key), nested)
		}
		return
	}
	key := a.Key
	if key == "" {
		key = "attr"
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(join(group, key))
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

func join(group, key string) string {
	if group == "" {
		return key
	}
	if key == "" {
		return group
	}
	return group + "." + key
}
