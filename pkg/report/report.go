// Package report collects breadcrumbs and captured exceptions for a build run.
//
// A Reporter never changes control flow: it records, logs and forwards, and the caller
// keeps returning its own error.
package report

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"releasekit/pkg/telemetry"
)

// Breadcrumb is one entry of the diagnostic trail attached to a run.
type Breadcrumb struct {
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is a captured exception together with the trail recorded before it.
type Event struct {
	Message     string       `json:"message"`
	Cause       string       `json:"cause,omitempty"`
	TraceID     string       `json:"trace_id,omitempty"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Sink receives captured events, e.g. to forward them to a message bus.
type Sink interface {
	Send(ctx context.Context, evt Event) error
}

// Reporter is safe for concurrent use. The zero value is not usable; a nil *Reporter is a no-op.
type Reporter struct {
	logger *log.Logger
	sink   Sink
	now    func() time.Time

	mu     sync.Mutex
	trail  []Breadcrumb
	events []Event
}

// New creates a Reporter. logger and sink may be nil.
func New(logger *log.Logger, sink Sink) *Reporter {
	return &Reporter{logger: logger, sink: sink, now: time.Now}
}

// AddBreadcrumb appends b to the trail and to the transaction span in ctx.
func (r *Reporter) AddBreadcrumb(ctx context.Context, b Breadcrumb) {
	if r == nil {
		return
	}
	if b.Level == "" {
		b.Level = "info"
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	r.trail = append(r.trail, b)
	r.mu.Unlock()

	telemetry.Transaction(ctx).AddEvent("breadcrumb", trace.WithAttributes(
		attribute.String("breadcrumb.category", b.Category),
		attribute.String("breadcrumb.level", b.Level),
		attribute.String("breadcrumb.message", b.Message),
	))
}

// CaptureException records description as a new exception. cause is the error that
// triggered it and is kept for context only; it is neither wrapped nor consumed.
func (r *Reporter) CaptureException(ctx context.Context, description string, cause error) {
	if r == nil {
		return
	}
	defer func() {
		// Never propagate a sink panic.
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Printf("ERROR report: sink panicked: %v", rec)
		}
	}()

	evt := Event{
		Message:   description,
		TraceID:   telemetry.TraceID(ctx),
		Timestamp: r.now().UTC(),
	}
	if cause != nil {
		evt.Cause = cause.Error()
	}

	r.mu.Lock()
	evt.Breadcrumbs = append([]Breadcrumb(nil), r.trail...)
	r.events = append(r.events, evt)
	r.mu.Unlock()

	exception := errors.New(description)
	attrs := []attribute.KeyValue{attribute.String("exception.cause", evt.Cause)}
	telemetry.Transaction(ctx).RecordError(exception, trace.WithAttributes(attrs...))
	if span := trace.SpanFromContext(ctx); span.SpanContext().SpanID() != telemetry.Transaction(ctx).SpanContext().SpanID() {
		span.RecordError(exception, trace.WithAttributes(attrs...))
	}

	if r.logger != nil {
		if cause != nil {
			r.logger.Printf("ERROR %s: %v", description, cause)
		} else {
			r.logger.Printf("ERROR %s", description)
		}
	}

	if r.sink != nil {
		if err := r.sink.Send(ctx, evt); err != nil && r.logger != nil {
			r.logger.Printf("WARN report: forward event: %v", err)
		}
	}
}

// Breadcrumbs returns a copy of the trail recorded so far.
func (r *Reporter) Breadcrumbs() []Breadcrumb {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Breadcrumb(nil), r.trail...)
}

// Events returns a copy of the captured events.
func (r *Reporter) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
