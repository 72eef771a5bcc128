// Package telemetry wires OpenTelemetry tracing into the task store and its
// blob backends. Until InitProvider runs, GetTracer hands out a no-op tracer.
package telemetry

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with store-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // include task titles and search queries in spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NoopTracer()
	}
	return globalTracer
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer bound to a specific provider
// instead of the global one.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Store Spans ---

// StoreSpanOptions contains attributes recorded when a task store span ends.
type StoreSpanOptions struct {
	Status  string // resulting status, if the operation touched it
	Scanned int    // documents read by scans
	Changed int    // documents or markers written or removed
	Detail  string // only included if debug=true
}

// StartStoreSpan starts a span for a task store operation.
func (t *Tracer) StartStoreSpan(ctx context.Context, op, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "tasks."+op, trace.WithSpanKind(trace.SpanKindInternal))
	if taskID != "" {
		span.SetAttributes(attribute.String("task.uid", taskID))
	}
	return ctx, span
}

// EndStoreSpan ends a task store span.
func (t *Tracer) EndStoreSpan(span trace.Span, opts StoreSpanOptions, err error) {
	var attrs []attribute.KeyValue
	if opts.Status != "" {
		attrs = append(attrs, attribute.String("task.status", opts.Status))
	}
	if opts.Scanned > 0 {
		attrs = append(attrs, attribute.Int("tasks.scanned", opts.Scanned))
	}
	if opts.Changed > 0 {
		attrs = append(attrs, attribute.Int("tasks.changed", opts.Changed))
	}
	if t.debug && opts.Detail != "" {
		attrs = append(attrs, attribute.String("tasks.detail", truncate(opts.Detail, 1000)))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Blob Spans ---

// StartBlobSpan starts a client span for a single backend call.
func (t *Tracer) StartBlobSpan(ctx context.Context, backend, op, path string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "blob."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("blob.backend", backend),
		attribute.String("blob.path", path),
	)
	return ctx, span
}

// EndBlobSpan ends a blob span, recording the payload size when known.
func (t *Tracer) EndBlobSpan(span trace.Span, size int, err error) {
	if size > 0 {
		span.SetAttributes(attribute.Int("blob.size", size))
	}
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// truncate cuts s to at most maxLen bytes without splitting a character.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
