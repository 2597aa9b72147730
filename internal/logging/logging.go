// Package logging owns the process-wide operational logger: a log/slog
// logger held behind an atomic pointer so Init can swap handlers at
// startup while every component reads it lock-free.
//
// Ctx is the preferred accessor on tick and routing paths: it annotates
// the logger with the calling context's active trace and span ids, so a
// warn line can be joined back to its autoscaler.tick or autoscaler.route
// span.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

var (
	op    atomic.Pointer[slog.Logger]
	level = new(slog.LevelVar)
)

func init() {
	level.Set(slog.LevelInfo)
	op.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// Init reconfigures the operational logger; cmd/autoscalerd calls it once
// before the autoscaler starts. format is "text" (default) or "json"
// (Loki/ELK compatible); lvl is "debug", "info", "warn" or "error",
// defaulting to info on anything unrecognized.
func Init(format, lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	op.Store(slog.New(handler))
}

// Op returns the operational logger.
func Op() *slog.Logger {
	return op.Load()
}

// Ctx returns the operational logger annotated with ctx's active span
// identifiers, or the plain logger when no span is in flight.
func Ctx(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return Op()
	}
	return Op().With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
