package processor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// LogSink is an slog.Handler that keeps the text of every record it
// handles, so one invocation's logs can be shipped to a log channel.
type LogSink struct {
	buf   *lockedBuffer
	inner slog.Handler
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// NewLogSink captures records at level and above.
func NewLogSink(level slog.Leveler) *LogSink {
	buf := &lockedBuffer{}
	return &LogSink{
		buf:   buf,
		inner: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level}),
	}
}

func (s *LogSink) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

func (s *LogSink) Handle(ctx context.Context, r slog.Record) error {
	return s.inner.Handle(ctx, r)
}

func (s *LogSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogSink{buf: s.buf, inner: s.inner.WithAttrs(attrs)}
}

func (s *LogSink) WithGroup(name string) slog.Handler {
	return &LogSink{buf: s.buf, inner: s.inner.WithGroup(name)}
}

// Logs returns the captured records, one per line, without a trailing
// newline.
func (s *LogSink) Logs() string {
	return strings.TrimRight(s.buf.String(), "\n")
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
