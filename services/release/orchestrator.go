package release

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"releasekit/pkg/report"
	"releasekit/pkg/telemetry"
)

const (
	// TransactionName names the root span of a release run.
	TransactionName = "releasekit.release"
	// StepsSubject receives one StepEvent per executed step.
	StepsSubject = "releasekit.release.steps"

	breadcrumbCategory = "release-pipeline"
)

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// StepEvent is published after a step runs or is skipped.
type StepEvent struct {
	Release string    `json:"release"`
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
	At      time.Time `json:"at"`
}

// PipelineConfig wires an Orchestrator. Only Service and Options.Release are required.
type PipelineConfig struct {
	Options  Options
	Service  Service
	Reporter *report.Reporter
	Logger   *log.Logger
	Metrics  *Metrics
	Events   Publisher
}

// Orchestrator drives a release through create, clean, upload, set commits, finalize and
// deploy. Steps run sequentially and the first failure aborts the run.
type Orchestrator struct {
	opts     Options
	service  Service
	reporter *report.Reporter
	logger   *log.Logger
	metrics  *Metrics
	events   Publisher
	now      func() time.Time
}

// New validates cfg and returns an Orchestrator bound to a private copy of cfg.Options.
func New(cfg PipelineConfig) (*Orchestrator, error) {
	if cfg.Service == nil {
		return nil, errors.New("release service is required")
	}
	if strings.TrimSpace(cfg.Options.Release) == "" {
		return nil, errors.New("release name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewLogger("releasekit", os.Stderr, "INFO")
	}
	return &Orchestrator{
		opts:     cfg.Options.clone(),
		service:  cfg.Service,
		reporter: cfg.Reporter,
		logger:   logger,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		now:      time.Now,
	}, nil
}

// Options returns a copy of the options the orchestrator runs with.
func (o *Orchestrator) Options() Options {
	if o == nil {
		return Options{}
	}
	return o.opts.clone()
}

// Run executes every configured step inside a release transaction. It returns the error of
// the first failing step unchanged.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o == nil {
		return errors.New("nil orchestrator")
	}
	return o.run(ctx, o.opts)
}

// Upload is an inject.UploadFunc: it runs the pipeline for the artifacts of a finished build.
// When no include patterns are configured the artifacts and their source maps are uploaded.
func (o *Orchestrator) Upload(ctx context.Context, artifacts []string) error {
	if o == nil {
		return errors.New("nil orchestrator")
	}
	opts := o.opts.clone()
	if len(opts.Include) == 0 {
		opts.Include = includeFor(artifacts)
	}
	return o.run(ctx, opts)
}

func (o *Orchestrator) run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, finish := telemetry.StartTransaction(ctx, TransactionName,
		attribute.String("release", opts.Release),
		attribute.String("dist", opts.Dist),
	)
	defer finish()

	for _, s := range pipeline(opts) {
		if err := o.runStep(ctx, opts.Release, s); err != nil {
			return err
		}
	}
	return nil
}

type step struct {
	name string
	span string

	skip      bool
	skipped   string
	skipCrumb bool

	call    func(ctx context.Context, svc Service) error
	failure string
	success string
	crumb   bool
}

func pipeline(opts Options) []step {
	name := opts.Release
	return []step{
		{
			name:    "create",
			span:    "function.plugin.create_release",
			call:    func(ctx context.Context, svc Service) error { return svc.Create(ctx, name) },
			failure: "CLI Error: Creating new release failed",
			success: "Successfully created release.",
			crumb:   true,
		},
		{
			name:    "clean",
			span:    "function.plugin.clean_artifacts",
			skip:    !opts.CleanArtifacts,
			skipped: "Skipping artifact cleanup.",
			call:    func(ctx context.Context, svc Service) error { return svc.DeleteAllFiles(ctx, name) },
			failure: "CLI Error: Deleting release files failed",
			success: "Successfully cleaned previous artifacts.",
			crumb:   true,
		},
		{
			name:    "upload",
			span:    "function.plugin.upload_sourcemaps",
			skip:    !opts.UploadSourceMaps,
			skipped: "Skipping source maps upload.",
			call: func(ctx context.Context, svc Service) error {
				return svc.UploadFiles(ctx, name, UploadOptions{
					Include: append([]string(nil), opts.Include...),
					Dist:    opts.Dist,
				})
			},
			failure: "CLI Error: Uploading source maps failed",
			success: "Successfully uploaded source maps.",
			crumb:   true,
		},
		{
			name:    "set_commits",
			span:    "function.plugin.set_commits",
			skip:    opts.SetCommits == nil,
			skipped: "Skipping setting commits to release.",
			call: func(ctx context.Context, svc Service) error {
				return svc.SetCommits(ctx, name, *opts.SetCommits)
			},
			failure: "CLI Error: Setting commits failed",
			success: "Successfully set commits.",
		},
		{
			name:      "finalize",
			span:      "function.plugin.finalize_release",
			skip:      !opts.Finalize,
			skipped:   "Skipping release finalization.",
			skipCrumb: true,
			call:      func(ctx context.Context, svc Service) error { return svc.Finalize(ctx, name) },
			failure:   "CLI Error: Finalizing release failed",
			success:   "Successfully finalized release.",
			crumb:     true,
		},
		{
			name:      "deploy",
			span:      "function.plugin.deploy",
			skip:      opts.Deploy == nil,
			skipped:   "Skipping adding deploy info to release.",
			skipCrumb: true,
			call: func(ctx context.Context, svc Service) error {
				return svc.NewDeploy(ctx, name, *opts.Deploy)
			},
			failure: "CLI Error: Adding deploy info failed",
			success: "Successfully added deploy.",
			crumb:   true,
		},
	}
}

func (o *Orchestrator) runStep(ctx context.Context, release string, s step) error {
	if s.skip {
		o.logger.Printf("DEBUG %s", s.skipped)
		if s.skipCrumb {
			o.reporter.AddBreadcrumb(ctx, report.Breadcrumb{Category: breadcrumbCategory, Message: s.skipped})
		}
		o.record(ctx, release, s.name, outcomeSkipped, nil)
		return nil
	}

	err := telemetry.WithSpan(ctx, s.span, func(spanCtx context.Context) error {
		err := s.call(spanCtx, o.service)
		if err != nil {
			o.reporter.CaptureException(spanCtx, s.failure, err)
		}
		return err
	})
	if err != nil {
		o.record(ctx, release, s.name, outcomeFailure, err)
		return err
	}

	if s.crumb {
		o.reporter.AddBreadcrumb(ctx, report.Breadcrumb{Category: breadcrumbCategory, Message: s.success})
	}
	o.logger.Printf("INFO %s", s.success)
	o.record(ctx, release, s.name, outcomeSuccess, nil)
	return nil
}

func (o *Orchestrator) record(ctx context.Context, release, name, outcome string, stepErr error) {
	o.metrics.observe(name, outcome)
	if o.events == nil {
		return
	}
	evt := StepEvent{
		Release: release,
		Step:    name,
		Outcome: outcome,
		TraceID: telemetry.TraceID(ctx),
		At:      o.now().UTC(),
	}
	if stepErr != nil {
		evt.Error = stepErr.Error()
	}
	if err := o.events.Publish(ctx, StepsSubject, evt); err != nil {
		o.logger.Printf("WARN release: publish %s event: %v", name, err)
	}
}

// includeFor lists artifacts followed by any source map written next to them.
func includeFor(artifacts []string) []string {
	seen := make(map[string]bool, len(artifacts))
	out := make([]string, 0, len(artifacts))
	add := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, path)
	}
	for _, artifact := range artifacts {
		add(artifact)
	}
	for _, artifact := range artifacts {
		if strings.HasSuffix(artifact, ".map") {
			continue
		}
		sibling := artifact + ".map"
		if seen[sibling] {
			continue
		}
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			add(sibling)
		}
	}
	return out
}
