package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func keepDefaultLogger(t *testing.T) {
	t.Helper()
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
}

func TestInstrumentText(t *testing.T) {
	keepDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), Config{Level: slog.LevelWarn, Format: "text", Output: &buf})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	slog.Info("hidden")
	slog.Warn("refresh failed", "status", 502)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="refresh failed"`)
	assert.Contains(t, out, "status=502")
}

func TestInstrumentJSONWithTraceContext(t *testing.T) {
	keepDefaultLogger(t)
	var buf bytes.Buffer

	_, err := Instrument(context.Background(), Config{Level: slog.LevelDebug, Format: "json", Output: &buf})
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	slog.DebugContext(ctx, "hydrated session")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hydrated session", record["msg"])
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", record["trace_id"])
	assert.Equal(t, "b7ad6b7169203331", record["span_id"])
}

func TestInstrumentRejectsUnknownSettings(t *testing.T) {
	keepDefaultLogger(t)

	_, err := Instrument(context.Background(), Config{Format: "xml"})
	assert.ErrorContains(t, err, "log format")

	_, err = Instrument(context.Background(), Config{Exporter: "kafka"})
	assert.ErrorContains(t, err, "telemetry exporter")
}

func TestInstrumentWithStdoutExporter(t *testing.T) {
	keepDefaultLogger(t)
	var buf bytes.Buffer

	shutdown, err := Instrument(context.Background(), Config{Exporter: ExporterStdout, Output: &buf})
	require.NoError(t, err)

	slog.Info("logged out")
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "logged out")
	_, isFanout := slog.Default().Handler().(fanout)
	assert.True(t, isFanout)
}

func TestFanout(t *testing.T) {
	var debug, errorsOnly bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorsOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	logger := slog.New(h).With("component", "session").WithGroup("tokens")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Debug("swapped", "state", "authenticated")
	logger.Error("persist failed")

	assert.Equal(t, 2, strings.Count(debug.String(), "component=session"))
	assert.Contains(t, debug.String(), "tokens.state=authenticated")
	assert.NotContains(t, errorsOnly.String(), "swapped")
	assert.Contains(t, errorsOnly.String(), "persist failed")
}
