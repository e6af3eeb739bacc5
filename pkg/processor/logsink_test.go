package processor

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogSinkCapturesAtLevel(t *testing.T) {
	sink := NewLogSink(slog.LevelInfo)
	logger := slog.New(sink)

	logger.Debug("hidden")
	logger.Info("first", "n", 1)
	logger.Warn("second")

	lines := strings.Split(sink.Logs(), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "msg=first n=1")
	assert.Contains(t, lines[1], "level=WARN")
	assert.NotContains(t, sink.Logs(), "hidden")
}

func TestLogSinkDerivedHandlersShareBuffer(t *testing.T) {
	sink := NewLogSink(slog.LevelDebug)
	slog.New(sink).With("task", "t1").WithGroup("ui").Info("pushed", "keys", 2)
	slog.New(sink).Info("plain")

	logs := sink.Logs()
	assert.Contains(t, logs, "task=t1 ui.keys=2")
	assert.Contains(t, logs, "msg=plain")
}

func TestLogSinkEmpty(t *testing.T) {
	assert.Equal(t, "", NewLogSink(slog.LevelInfo).Logs())
}

func TestFanoutRespectsEachLevel(t *testing.T) {
	var console bytes.Buffer
	sink := NewLogSink(slog.LevelInfo)
	h := fanout{sink, slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelError})}

	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h).With("component", "processor")
	logger.Info("routine")
	logger.Error("broken")

	assert.Contains(t, sink.Logs(), "routine")
	assert.Contains(t, sink.Logs(), "broken")
	assert.NotContains(t, console.String(), "routine")
	assert.Contains(t, console.String(), "component=processor")
	assert.Contains(t, console.String(), "broken")
}
