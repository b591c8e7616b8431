package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLevel string
		wantMsg   string
	}{
		{name: "empty", input: "", wantLevel: "INFO", wantMsg: ""},
		{name: "bracketed", input: "[debug] Skipping artifact cleanup.", wantLevel: "DEBUG", wantMsg: "Skipping artifact cleanup."},
		{name: "colon", input: "error: upload failed", wantLevel: "ERROR", wantMsg: "upload failed"},
		{name: "leading word", input: "WARN no files matched", wantLevel: "WARN", wantMsg: "no files matched"},
		{name: "no level", input: "Successfully created release.", wantLevel: "INFO", wantMsg: "Successfully created release."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, msg := parseLevel(tt.input)
			if level != tt.wantLevel || msg != tt.wantMsg {
				t.Fatalf("parseLevel(%q) = (%q, %q), want (%q, %q)", tt.input, level, msg, tt.wantLevel, tt.wantMsg)
			}
		})
	}
}

func TestLoggerDropsLinesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("releasectl", &buf, "info")

	logger.Printf("DEBUG Skipping source maps upload.")
	logger.Printf("INFO Successfully created release.")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["level"] != "INFO" || entry["msg"] != "Successfully created release." || entry["service"] != "releasectl" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestWithSpanAttachesToTransaction(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, finish := StartTransaction(context.Background(), "releasekit.release")
	boom := errors.New("boom")

	if err := WithSpan(ctx, "function.plugin.create_release", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("WithSpan returned %v", err)
	}
	if err := WithSpan(ctx, "function.plugin.finalize_release", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithSpan error = %v, want %v", err, boom)
	}
	finish()

	ended := recorder.Ended()
	if len(ended) != 3 {
		t.Fatalf("expected 3 ended spans, got %d", len(ended))
	}

	root := ended[2]
	if root.Name() != "releasekit.release" {
		t.Fatalf("last ended span = %q, want transaction", root.Name())
	}
	for _, span := range ended[:2] {
		if span.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Fatalf("span %q is not a child of the transaction", span.Name())
		}
	}
	if ended[1].Status().Code != codes.Error {
		t.Fatalf("failed span status = %v, want error", ended[1].Status().Code)
	}
}

func TestSpansWithoutProviderAreNoops(t *testing.T) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	called := false
	err := WithSpan(context.Background(), "function.plugin.deploy", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("WithSpan() = %v, called = %v", err, called)
	}
	if TraceID(context.Background()) != "" {
		t.Fatal("expected empty trace id without a span")
	}
}
