package trackerd

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"releasekit/pkg/telemetry"
	"releasekit/services/release"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type fakeSubscriber struct {
	subject string
	durable string
	handler func(ctx context.Context, data []byte) error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	f.subject, f.durable, f.handler = subj, durable, fn
	return nopCloser{}, nil
}

func TestConsumeStepEvents(t *testing.T) {
	server, err := NewServer(Options{
		Store:      NewMemoryStore(),
		Logger:     telemetry.NewLogger("trackerd", io.Discard, "ERROR"),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatal(err)
	}

	sub := &fakeSubscriber{}
	if _, err := server.ConsumeStepEvents(context.Background(), sub); err != nil {
		t.Fatalf("ConsumeStepEvents() error = %v", err)
	}
	if sub.subject != release.StepsSubject || sub.durable != stepsDurable {
		t.Fatalf("subscribed to %q as %q", sub.subject, sub.durable)
	}

	events := []release.StepEvent{
		{Release: "web@1.0.0", Step: "create", Outcome: "success"},
		{Release: "web@1.0.0", Step: "upload", Outcome: "failure", Error: "boom"},
		{Release: "web@1.1.0", Step: "create", Outcome: "success"},
	}
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			t.Fatal(err)
		}
		if err := sub.handler(context.Background(), data); err != nil {
			t.Fatalf("handler error = %v", err)
		}
	}

	if got := testutil.ToFloat64(server.metrics.steps.WithLabelValues("create", "success")); got != 2 {
		t.Fatalf("create/success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(server.metrics.steps.WithLabelValues("upload", "failure")); got != 1 {
		t.Fatalf("upload/failure = %v, want 1", got)
	}

	if err := sub.handler(context.Background(), []byte(`{"release":"web"}`)); err == nil {
		t.Fatal("expected incomplete event to be rejected")
	}
	if err := sub.handler(context.Background(), []byte(`not json`)); err == nil {
		t.Fatal("expected malformed event to be rejected")
	}
	if _, err := server.ConsumeStepEvents(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil subscriber")
	}
}
