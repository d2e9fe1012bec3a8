// Package otelinit wires the OpenTelemetry tracer provider used by the
// Stage Executor (C5) and Worker Pool (C7) spans (SPEC_FULL.md §1.5).
// Grounded on the teacher's internal/observability/otel.go, trimmed to the
// subset this module's go.mod actually vendors: no OTLP HTTP exporter, no
// semconv package — just the stdout exporter the teacher falls back to
// when no collector endpoint is configured, since this module has no
// transport layer of its own to point a collector at.
package otelinit

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentforge/buildpipeline/internal/platform/envutil"
	"github.com/agentforge/buildpipeline/internal/platform/logger"
)

var once sync.Once

// Init installs a process-global TracerProvider exporting to stdout, and
// returns its Shutdown func for a deferred call at process exit. Disabled
// (returns a no-op shutdown) unless OTEL_ENABLED is truthy, matching the
// teacher's InitOTel opt-in default.
func Init(ctx context.Context, serviceName string, baseLog *logger.Logger) func(context.Context) error {
	var shutdown func(context.Context) error = func(context.Context) error { return nil }
	once.Do(func() {
		if !envutil.Bool("OTEL_ENABLED", false) {
			return
		}
		if strings.TrimSpace(serviceName) == "" {
			serviceName = "buildpipeline-orchestrator"
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			attribute.String("service.name", serviceName),
		))
		if err != nil {
			baseLog.Warn("otel resource init failed (continuing without resource attrs)", "error", err.Error())
			res = resource.Default()
		}
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			baseLog.Warn("otel stdout exporter init failed, tracing disabled", "error", err.Error())
			return
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
		baseLog.Info("otel tracing initialized", "service", serviceName, "exporter", "stdout")
	})
	return shutdown
}

// StartSpan opens a span named spanName under the process-global tracer
// provider (a no-op provider, and hence a no-op span, until Init has run
// with OTEL_ENABLED set). C5 wraps each stage attempt; C7 wraps each task
// claim, per SPEC_FULL.md §1.5.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}
