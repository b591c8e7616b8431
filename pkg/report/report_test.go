package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"releasekit/pkg/telemetry"
)

type recordingPublisher struct {
	subjects []string
	payloads []any
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, v any) error {
	p.subjects = append(p.subjects, subj)
	p.payloads = append(p.payloads, v)
	return p.err
}

type panickingSink struct{}

func (panickingSink) Send(context.Context, Event) error { panic("sink exploded") }

func TestCaptureExceptionKeepsTrail(t *testing.T) {
	var logs bytes.Buffer
	pub := &recordingPublisher{}
	r := New(telemetry.NewLogger("test", &logs, "DEBUG"), BusSink{Publisher: pub})

	ctx := context.Background()
	r.AddBreadcrumb(ctx, Breadcrumb{Category: "release-pipeline", Message: "Successfully created release."})
	r.CaptureException(ctx, "CLI Error: Uploading source maps failed", errors.New("503 service unavailable"))

	events := r.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Message != "CLI Error: Uploading source maps failed" {
		t.Fatalf("event message = %q", evt.Message)
	}
	if evt.Cause != "503 service unavailable" {
		t.Fatalf("event cause = %q", evt.Cause)
	}
	if len(evt.Breadcrumbs) != 1 || evt.Breadcrumbs[0].Level != "info" {
		t.Fatalf("unexpected breadcrumbs %+v", evt.Breadcrumbs)
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != CapturedSubject {
		t.Fatalf("unexpected published subjects %v", pub.subjects)
	}
	if !strings.Contains(logs.String(), `"level":"ERROR"`) {
		t.Fatalf("expected an ERROR log line, got %q", logs.String())
	}
}

func TestCaptureExceptionNeverFails(t *testing.T) {
	tests := []struct {
		name string
		sink Sink
	}{
		{name: "sink error", sink: BusSink{Publisher: &recordingPublisher{err: errors.New("nats down")}}},
		{name: "nil publisher", sink: BusSink{}},
		{name: "sink panic", sink: panickingSink{}},
		{name: "no sink", sink: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil, tt.sink)
			r.CaptureException(context.Background(), "CLI Error: Setting commits failed", nil)
			if got := len(r.Events()); got != 1 {
				t.Fatalf("expected event to be recorded, got %d", got)
			}
		})
	}
}

func TestNilReporterIsNoop(t *testing.T) {
	var r *Reporter
	r.AddBreadcrumb(context.Background(), Breadcrumb{Message: "ignored"})
	r.CaptureException(context.Background(), "ignored", errors.New("ignored"))
	if r.Breadcrumbs() != nil || r.Events() != nil {
		t.Fatal("nil reporter should not record anything")
	}
}
