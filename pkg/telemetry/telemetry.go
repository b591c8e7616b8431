package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const endpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Option customises Init.
type Option func(*settings)

type settings struct {
	level string
	out   io.Writer
}

// WithLogLevel drops log lines below level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(s *settings) { s.level = level }
}

// WithLogOutput redirects structured log lines to out.
func WithLogOutput(out io.Writer) Option {
	return func(s *settings) { s.out = out }
}

// Init configures OpenTelemetry tracing, propagation, and structured logging for a service.
// Without OTEL_EXPORTER_OTLP_ENDPOINT the global tracer provider is left untouched, so
// spans started through this package are no-ops.
func Init(ctx context.Context, serviceName string, opts ...Option) (func(context.Context) error, func(http.Handler) http.Handler, *log.Logger, error) {
	if serviceName == "" {
		return nil, nil, nil, errors.New("telemetry: service name is required")
	}

	s := settings{level: "INFO", out: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	logWriter := newJSONLogWriter(serviceName, s.out, s.level)
	logger := log.New(logWriter, "", 0)

	shutdown := func(context.Context) error { return nil }
	if endpoint := os.Getenv(endpointEnv); endpoint != "" {
		exporter, err := newTraceExporter(ctx, endpoint)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("telemetry: create exporter: %w", err)
		}

		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("telemetry: create resource: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		shutdown = tracerProvider.Shutdown
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	middleware := func(next http.Handler) http.Handler {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r)

			msg := fmt.Sprintf("%s %s %d %s", r.Method, r.URL.Path, recorder.status, time.Since(start))
			if err := logWriter.Log("INFO", msg, TraceID(r.Context())); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry: failed to write request log: %v\n", err)
			}
		})

		return otelhttp.NewHandler(handler, serviceName)
	}

	return shutdown, middleware, logger, nil
}

// NewLogger returns a logger emitting JSON lines for service, without touching tracing.
func NewLogger(serviceName string, out io.Writer, level string) *log.Logger {
	return log.New(newJSONLogWriter(serviceName, out, level), "", 0)
}

// TraceID returns the hex trace id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func newTraceExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	var opts []otlptracehttp.Option

	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid OTLP endpoint: %s", endpoint)
		}
		opts = append(opts, otlptracehttp.WithEndpoint(parsed.Host))
		if parsed.Path != "" && parsed.Path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(parsed.Path))
		}
		if parsed.Scheme == "http" {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}

	return otlptracehttp.New(ctx, opts...)
}

type jsonLogWriter struct {
	mu       sync.Mutex
	service  string
	minLevel int
	out      io.Writer
}

func newJSONLogWriter(service string, out io.Writer, level string) *jsonLogWriter {
	if out == nil {
		out = os.Stdout
	}
	rank, ok := levelRank[strings.ToUpper(strings.TrimSpace(level))]
	if !ok {
		rank = levelRank["INFO"]
	}
	return &jsonLogWriter{service: service, out: out, minLevel: rank}
}

func (w *jsonLogWriter) Write(p []byte) (int, error) {
	level, message := parseLevel(strings.TrimSpace(string(p)))
	if err := w.Log(level, message, ""); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *jsonLogWriter) Log(level, message, traceID string) error {
	if levelRank[level] < w.minLevel {
		return nil
	}

	entry := map[string]string{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"service": w.service,
		"msg":     message,
	}
	if traceID != "" {
		entry["trace_id"] = traceID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

var levelRank = map[string]int{
	"DEBUG":   0,
	"INFO":    1,
	"WARN":    2,
	"WARNING": 2,
	"ERROR":   3,
}

func parseLevel(message string) (string, string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "INFO", ""
	}

	if strings.HasPrefix(trimmed, "[") {
		if idx := strings.Index(trimmed, "]"); idx > 1 {
			level := strings.ToUpper(trimmed[1:idx])
			if isLevel(level) {
				return level, strings.TrimSpace(trimmed[idx+1:])
			}
		}
	}

	if idx := strings.Index(trimmed, ":"); idx > 0 {
		level := strings.ToUpper(strings.TrimSpace(trimmed[:idx]))
		if isLevel(level) {
			return level, strings.TrimSpace(trimmed[idx+1:])
		}
	}

	fields := strings.Fields(trimmed)
	if len(fields) > 1 {
		level := strings.ToUpper(fields[0])
		if isLevel(level) {
			return level, strings.TrimSpace(trimmed[len(fields[0]):])
		}
	}

	return "INFO", trimmed
}

func isLevel(level string) bool {
	_, ok := levelRank[level]
	return ok
}
