package release

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"releasekit/pkg/report"
	"releasekit/pkg/telemetry"
)

type fakeService struct {
	calls   []string
	errs    map[string]error
	upload  UploadOptions
	commits CommitOptions
	deploy  DeployOptions
}

func (f *fakeService) do(call string) error {
	f.calls = append(f.calls, call)
	return f.errs[call]
}

func (f *fakeService) Create(_ context.Context, _ string) error { return f.do("create") }

func (f *fakeService) DeleteAllFiles(_ context.Context, _ string) error { return f.do("delete_all_files") }

func (f *fakeService) UploadFiles(_ context.Context, _ string, opts UploadOptions) error {
	f.upload = opts
	return f.do("upload_files")
}

func (f *fakeService) SetCommits(_ context.Context, _ string, opts CommitOptions) error {
	f.commits = opts
	return f.do("set_commits")
}

func (f *fakeService) Finalize(_ context.Context, _ string) error { return f.do("finalize") }

func (f *fakeService) NewDeploy(_ context.Context, _ string, opts DeployOptions) error {
	f.deploy = opts
	return f.do("new_deploy")
}

type recordingPublisher struct {
	subjects []string
	events   []StepEvent
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, v any) error {
	p.subjects = append(p.subjects, subj)
	if evt, ok := v.(StepEvent); ok {
		p.events = append(p.events, evt)
	}
	return nil
}

func allSteps() Options {
	return Options{
		Release:          "web@1.4.0",
		CleanArtifacts:   true,
		UploadSourceMaps: true,
		Include:          []string{"dist"},
		Dist:             "42",
		SetCommits:       &CommitOptions{Repo: "acme/web", Commit: "abc123"},
		Finalize:         true,
		Deploy:           &DeployOptions{Env: "production", Time: 90 * time.Second},
	}
}

type harness struct {
	svc      *fakeService
	reporter *report.Reporter
	logs     *bytes.Buffer
	orch     *Orchestrator
}

func newHarness(t *testing.T, opts Options, errs map[string]error) harness {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := telemetry.NewLogger("releasectl", logs, "DEBUG")
	h := harness{
		svc:      &fakeService{errs: errs},
		reporter: report.New(logger, nil),
		logs:     logs,
	}
	orch, err := New(PipelineConfig{Options: opts, Service: h.svc, Reporter: h.reporter, Logger: logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch
	return h
}

func breadcrumbMessages(r *report.Reporter) []string {
	var out []string
	for _, b := range r.Breadcrumbs() {
		out = append(out, b.Message)
	}
	return out
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	h := newHarness(t, allSteps(), nil)

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"create", "delete_all_files", "upload_files", "set_commits", "finalize", "new_deploy"}
	if !reflect.DeepEqual(h.svc.calls, want) {
		t.Fatalf("calls = %v, want %v", h.svc.calls, want)
	}
	if !reflect.DeepEqual(h.svc.upload, UploadOptions{Include: []string{"dist"}, Dist: "42"}) {
		t.Fatalf("upload options = %+v", h.svc.upload)
	}
	if h.svc.commits.Commit != "abc123" || h.svc.deploy.Env != "production" {
		t.Fatalf("commits = %+v, deploy = %+v", h.svc.commits, h.svc.deploy)
	}

	wantCrumbs := []string{
		"Successfully created release.",
		"Successfully cleaned previous artifacts.",
		"Successfully uploaded source maps.",
		"Successfully finalized release.",
		"Successfully added deploy.",
	}
	if got := breadcrumbMessages(h.reporter); !reflect.DeepEqual(got, wantCrumbs) {
		t.Fatalf("breadcrumbs = %v, want %v", got, wantCrumbs)
	}
	for _, b := range h.reporter.Breadcrumbs() {
		if b.Category != "release-pipeline" {
			t.Fatalf("breadcrumb category = %q", b.Category)
		}
	}
	if !strings.Contains(h.logs.String(), "Successfully set commits.") {
		t.Fatalf("set commits success not logged: %s", h.logs.String())
	}
}

func TestDisabledStepsMakeNoCalls(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   []string
		logged string
	}{
		{
			name:   "clean disabled",
			mutate: func(o *Options) { o.CleanArtifacts = false },
			want:   []string{"create", "upload_files", "set_commits", "finalize", "new_deploy"},
			logged: "Skipping artifact cleanup.",
		},
		{
			name:   "upload disabled",
			mutate: func(o *Options) { o.UploadSourceMaps = false },
			want:   []string{"create", "delete_all_files", "set_commits", "finalize", "new_deploy"},
			logged: "Skipping source maps upload.",
		},
		{
			name:   "commits absent",
			mutate: func(o *Options) { o.SetCommits = nil },
			want:   []string{"create", "delete_all_files", "upload_files", "finalize", "new_deploy"},
			logged: "Skipping setting commits to release.",
		},
		{
			name:   "only create",
			mutate: func(o *Options) { *o = Options{Release: o.Release} },
			want:   []string{"create"},
			logged: "Skipping adding deploy info to release.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := allSteps()
			tt.mutate(&opts)
			h := newHarness(t, opts, nil)

			if err := h.orch.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !reflect.DeepEqual(h.svc.calls, tt.want) {
				t.Fatalf("calls = %v, want %v", h.svc.calls, tt.want)
			}
			if !strings.Contains(h.logs.String(), `"level":"DEBUG"`) || !strings.Contains(h.logs.String(), tt.logged) {
				t.Fatalf("expected DEBUG %q in logs: %s", tt.logged, h.logs.String())
			}
		})
	}
}

func TestFailingStepAbortsPipeline(t *testing.T) {
	tests := []struct {
		failing string
		message string
		calls   []string
	}{
		{"create", "CLI Error: Creating new release failed", []string{"create"}},
		{"delete_all_files", "CLI Error: Deleting release files failed", []string{"create", "delete_all_files"}},
		{"upload_files", "CLI Error: Uploading source maps failed", []string{"create", "delete_all_files", "upload_files"}},
		{"set_commits", "CLI Error: Setting commits failed", []string{"create", "delete_all_files", "upload_files", "set_commits"}},
		{"finalize", "CLI Error: Finalizing release failed", []string{"create", "delete_all_files", "upload_files", "set_commits", "finalize"}},
		{"new_deploy", "CLI Error: Adding deploy info failed", []string{"create", "delete_all_files", "upload_files", "set_commits", "finalize", "new_deploy"}},
	}

	for _, tt := range tests {
		t.Run(tt.failing, func(t *testing.T) {
			boom := errors.New("401 unauthorized")
			h := newHarness(t, allSteps(), map[string]error{tt.failing: boom})

			err := h.orch.Run(context.Background())
			if err != boom {
				t.Fatalf("Run() error = %v, want the original error", err)
			}
			if !reflect.DeepEqual(h.svc.calls, tt.calls) {
				t.Fatalf("calls = %v, want %v", h.svc.calls, tt.calls)
			}

			events := h.reporter.Events()
			if len(events) != 1 {
				t.Fatalf("expected 1 captured event, got %d", len(events))
			}
			if events[0].Message != tt.message || events[0].Cause != boom.Error() {
				t.Fatalf("captured %+v, want message %q", events[0], tt.message)
			}
		})
	}
}

func TestFinalizeAndDeploySkipsLeaveBreadcrumbs(t *testing.T) {
	opts := allSteps()
	opts.Finalize = false
	opts.Deploy = nil
	h := newHarness(t, opts, nil)

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, call := range h.svc.calls {
		if call == "finalize" || call == "new_deploy" {
			t.Fatalf("unexpected %s call", call)
		}
	}

	crumbs := breadcrumbMessages(h.reporter)
	for _, want := range []string{"Skipping release finalization.", "Skipping adding deploy info to release."} {
		found := false
		for _, got := range crumbs {
			found = found || got == want
		}
		if !found {
			t.Fatalf("breadcrumb %q missing from %v", want, crumbs)
		}
	}
}

func TestStepsAreSpannedUnderTransaction(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	boom := errors.New("finalize rejected")
	h := newHarness(t, Options{Release: "web@1.4.0", Finalize: true}, map[string]error{"finalize": boom})

	if err := h.orch.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v", err)
	}

	ended := recorder.Ended()
	var names []string
	for _, span := range ended {
		names = append(names, span.Name())
	}
	want := []string{"function.plugin.create_release", "function.plugin.finalize_release", TransactionName}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("spans = %v, want %v", names, want)
	}

	root := ended[2]
	for _, span := range ended[:2] {
		if span.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Fatalf("%s is not a child of the transaction", span.Name())
		}
	}
	if ended[1].Status().Code != codes.Error {
		t.Fatalf("finalize span status = %v", ended[1].Status().Code)
	}
}

func TestDisabledStepsNeverCallServiceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 64
	properties := gopter.NewProperties(parameters)

	properties.Property("a step runs iff it is enabled, in pipeline order", prop.ForAll(
		func(mask int) bool {
			opts := Options{Release: "web@1.4.0"}
			want := []string{"create"}
			if mask&1 != 0 {
				opts.CleanArtifacts = true
				want = append(want, "delete_all_files")
			}
			if mask&2 != 0 {
				opts.UploadSourceMaps = true
				want = append(want, "upload_files")
			}
			if mask&4 != 0 {
				opts.SetCommits = &CommitOptions{Auto: true}
				want = append(want, "set_commits")
			}
			if mask&8 != 0 {
				opts.Finalize = true
				want = append(want, "finalize")
			}
			if mask&16 != 0 {
				opts.Deploy = &DeployOptions{Env: "staging"}
				want = append(want, "new_deploy")
			}

			svc := &fakeService{}
			orch, err := New(PipelineConfig{Options: opts, Service: svc, Logger: telemetry.NewLogger("test", &bytes.Buffer{}, "ERROR")})
			if err != nil {
				return false
			}
			if err := orch.Run(context.Background()); err != nil {
				return false
			}
			return reflect.DeepEqual(svc.calls, want)
		},
		gen.IntRange(0, 31),
	))

	properties.TestingRun(t)
}

func TestMetricsAndEventsPerStep(t *testing.T) {
	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	pub := &recordingPublisher{}
	opts := allSteps()
	opts.CleanArtifacts = false
	svc := &fakeService{errs: map[string]error{"finalize": errors.New("conflict")}}

	orch, err := New(PipelineConfig{
		Options: opts,
		Service: svc,
		Logger:  telemetry.NewLogger("test", &bytes.Buffer{}, "ERROR"),
		Metrics: metrics,
		Events:  pub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = orch.Run(context.Background())

	counts := map[[2]string]float64{
		{"create", outcomeSuccess}:      1,
		{"clean", outcomeSkipped}:       1,
		{"upload", outcomeSuccess}:      1,
		{"set_commits", outcomeSuccess}: 1,
		{"finalize", outcomeFailure}:    1,
		{"deploy", outcomeSuccess}:      0,
	}
	for labels, want := range counts {
		if got := testutil.ToFloat64(metrics.steps.WithLabelValues(labels[0], labels[1])); got != want {
			t.Fatalf("steps_total%v = %v, want %v", labels, got, want)
		}
	}

	if len(pub.events) != 5 {
		t.Fatalf("expected 5 step events, got %d", len(pub.events))
	}
	last := pub.events[4]
	if last.Step != "finalize" || last.Outcome != outcomeFailure || last.Error != "conflict" || last.Release != "web@1.4.0" {
		t.Fatalf("unexpected last event %+v", last)
	}
	for _, subj := range pub.subjects {
		if subj != StepsSubject {
			t.Fatalf("published on %q", subj)
		}
	}
}

func TestUploadDefaultsIncludeToArtifacts(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.js")
	b := filepath.Join(dir, "b.js")
	for _, path := range []string{a, a + ".map", b} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h := newHarness(t, Options{Release: "web@1.4.0", UploadSourceMaps: true}, nil)
	if err := h.orch.Upload(context.Background(), []string{a, b}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if want := []string{a, b, a + ".map"}; !reflect.DeepEqual(h.svc.upload.Include, want) {
		t.Fatalf("include = %v, want %v", h.svc.upload.Include, want)
	}

	configured := newHarness(t, Options{Release: "web@1.4.0", UploadSourceMaps: true, Include: []string{"dist/**/*.js"}}, nil)
	if err := configured.orch.Upload(context.Background(), []string{a}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if want := []string{"dist/**/*.js"}; !reflect.DeepEqual(configured.svc.upload.Include, want) {
		t.Fatalf("include = %v, want %v", configured.svc.upload.Include, want)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(PipelineConfig{Options: Options{Release: "x"}}); err == nil {
		t.Fatal("expected error without service")
	}
	if _, err := New(PipelineConfig{Service: &fakeService{}, Options: Options{Release: "  "}}); err == nil {
		t.Fatal("expected error without release name")
	}

	opts := allSteps()
	orch, err := New(PipelineConfig{Service: &fakeService{}, Options: opts})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	opts.Include[0] = "mutated"
	opts.Deploy.Env = "mutated"
	if got := orch.Options(); got.Include[0] != "dist" || got.Deploy.Env != "production" {
		t.Fatalf("orchestrator options changed with caller's copy: %+v", got)
	}
}
