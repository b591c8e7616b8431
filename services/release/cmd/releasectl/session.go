package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"releasekit/pkg/bus"
	"releasekit/pkg/report"
	"releasekit/pkg/telemetry"
	"releasekit/services/bundler"
	"releasekit/services/release"
	"releasekit/services/tracker"
)

// session holds everything a release command needs for one invocation.
type session struct {
	cfg      release.Config
	logger   *log.Logger
	reporter *report.Reporter
	registry *prometheus.Registry
	metrics  *release.Metrics
	events   *bus.Bus

	metricsFile       string
	shutdownTelemetry func(context.Context) error
}

func openSession(ctx context.Context, flags *rootFlags, stderr io.Writer) (*session, error) {
	cfg, err := release.LoadConfig(ctx, flags.configPath, nil)
	if err != nil {
		return nil, err
	}
	if flags.debug {
		cfg.Debug = true
	}

	shutdown, _, logger, err := telemetry.Init(ctx, "releasectl",
		telemetry.WithLogLevel(cfg.LogLevel()),
		telemetry.WithLogOutput(stderr),
	)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	s := &session{
		cfg:               cfg,
		logger:            logger,
		registry:          prometheus.NewRegistry(),
		metricsFile:       flags.metricsFile,
		shutdownTelemetry: shutdown,
	}
	if s.metrics, err = release.NewMetrics(s.registry); err != nil {
		return nil, err
	}

	var sink report.Sink
	if cfg.NATSURL != "" {
		if s.events, err = bus.New(cfg.NATSURL); err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		sink = report.BusSink{Publisher: s.events}
	}
	s.reporter = report.New(logger, sink)
	return s, nil
}

// Close flushes metrics and telemetry and disconnects from the bus.
func (s *session) Close() error {
	var errs []error
	if s.metricsFile != "" {
		if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	s.events.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// orchestrator resolves the release name and connects the pipeline to the tracker.
func (s *session) orchestrator(ctx context.Context, releaseName string) (*release.Orchestrator, error) {
	opts := s.cfg.Options
	if name := strings.TrimSpace(releaseName); name != "" {
		opts.Release = name
	}
	if opts.Release == "" {
		detected, err := release.DetectRelease(ctx, nil, ".")
		if err != nil {
			return nil, err
		}
		s.logger.Printf("DEBUG detected release %s", detected)
		opts.Release = detected
	}

	signer, err := bundler.NewSignerFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := tracker.New(tracker.Config{
		BaseURL: s.cfg.URL,
		Project: s.cfg.Project,
		Token:   s.cfg.AuthToken,
		Signer:  signer,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, err
	}

	cfg := release.PipelineConfig{
		Options:  opts,
		Service:  client,
		Reporter: s.reporter,
		Logger:   s.logger,
		Metrics:  s.metrics,
	}
	if s.events != nil {
		cfg.Events = s.events
	}
	return release.New(cfg)
}
