// Package observability configures process-wide logging and optional OpenTelemetry log export.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ScopeName is the instrumentation scope of exported log records.
const ScopeName = "github.com/florianilch/dashauth"

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlphttp"
	ExporterOTLPGRPC = "otlpgrpc"
)

// Config selects log level, format and export.
type Config struct {
	Level  slog.Level
	Format string // text or json
	// Exporter additionally ships records via OpenTelemetry; empty or "none" disables export.
	Exporter string
	// Endpoint is the OTLP collector host:port. Empty falls back to OTEL_EXPORTER_OTLP_* variables.
	Endpoint string
	// Output receives local log lines. Defaults to os.Stderr.
	Output io.Writer
}

// Instrument installs the default slog logger.
// The returned shutdown function flushes exported records and must be called before exit.
func Instrument(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var local slog.Handler
	switch cfg.Format {
	case "", "text":
		local = slog.NewTextHandler(out, opts)
	case "json":
		local = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
	local = traceHandler{local}

	exporter, err := newExporter(ctx, cfg.Exporter, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		slog.SetDefault(slog.New(local))
		return func(context.Context) error { return nil }, nil
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), minsev.Severity(cfg.Level)),
		),
	)

	slog.SetDefault(slog.New(fanout{
		local,
		otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(provider)),
	}))

	return provider.Shutdown, nil
}

func newExporter(ctx context.Context, name, endpoint string) (sdklog.Exporter, error) {
	switch name {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdoutlog.New()
	case ExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpoint(endpoint), otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpoint(endpoint), otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", name)
	}
}

// fanout passes each record to every handler that accepts its level.
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
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
