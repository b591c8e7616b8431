package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "releasekit"

type transactionKey struct{}

// StartTransaction opens the build-scoped root span. Spans started through StartSpan or
// WithSpan with the returned context become its children, and Transaction returns it.
// The returned finish func ends the transaction and is safe to call more than once.
func StartTransaction(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithNewRoot(),
		trace.WithAttributes(attrs...),
	)
	ctx = context.WithValue(ctx, transactionKey{}, span)
	return ctx, func() { span.End() }
}

// Transaction returns the transaction span carried by ctx. When telemetry is disabled or no
// transaction was started it returns a non-recording span, so callers never nil-check.
func Transaction(ctx context.Context) trace.Span {
	if ctx != nil {
		if span, ok := ctx.Value(transactionKey{}).(trace.Span); ok {
			return span
		}
	}
	return trace.SpanFromContext(ctx)
}

// StartSpan starts a span named op attached to the transaction in ctx. The finish func
// records err (when non-nil) and ends the span.
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracerFor(ctx).Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// WithSpan runs fn inside a span named op. The span ends when fn returns, whatever the outcome.
func WithSpan(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	spanCtx, finish := StartSpan(ctx, op)
	defer func() { finish(err) }()
	return fn(spanCtx)
}

func tracerFor(ctx context.Context) trace.Tracer {
	if span := Transaction(ctx); span.SpanContext().IsValid() {
		return span.TracerProvider().Tracer(instrumentationName)
	}
	return otel.Tracer(instrumentationName)
}
