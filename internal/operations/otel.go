package operations

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName identifies spans emitted by the run manager.
	TracerName = "comovecli.operation"
)

// RunTracer provides OpenTelemetry instrumentation for analysis runs.
type RunTracer struct {
	tracer trace.Tracer
}

// NewRunTracer creates a tracer for run and step spans.
func NewRunTracer() *RunTracer {
	return &RunTracer{tracer: otel.Tracer(TracerName)}
}

// TraceRunExecution creates a span for the entire run.
func (t *RunTracer) TraceRunExecution(ctx context.Context, runID string, periods int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "run.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.periods", periods),
		),
	)
}

// TraceStepExecution creates a span for one step execution attempt.
func (t *RunTracer) TraceStepExecution(ctx context.Context, runID, stepID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("run.step.%s", stepID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.id", stepID),
			attribute.Int("step.attempt", attempt),
		),
	)
}

// RecordStepError marks the span as failed and records the error.
func RecordStepError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InitTracing installs a stdout span exporter as the global tracer
// provider and returns a shutdown function. When tracing is disabled
// the returned shutdown is a no-op and spans go to the default no-op
// provider.
func InitTracing(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("comovecli"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
