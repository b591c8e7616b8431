package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"releasekit/pkg/bus"
	"releasekit/pkg/db"
	gos3 "releasekit/pkg/s3"
	"releasekit/pkg/telemetry"
	"releasekit/services/trackerd"
)

func main() {
	if err := run("trackerd"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := trackerd.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, telemetry.WithLogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	opts := trackerd.Options{
		Bucket:     cfg.Bucket,
		Tokens:     cfg.Tokens,
		PresignTTL: cfg.PresignTTL,
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()

		if err := db.WithTimeout(ctx, time.Minute, func(ctx context.Context) error { return db.Migrate(ctx, pool) }); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		orm, err := db.OpenORM(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open orm: %w", err)
		}
		defer func() { _ = db.CloseORM(orm) }()

		if opts.Store, err = trackerd.NewGormStore(orm, pool); err != nil {
			return err
		}
	} else {
		logger.Printf("WARN DATABASE_URL not set; releases are kept in memory")
		opts.Store = trackerd.NewMemoryStore()
	}

	if cfg.ObjectStore {
		s3Client, err := gos3.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("init s3 client: %w", err)
		}
		opts.Blobs = s3Client
	}

	if cfg.NATSURL != "" {
		eventBus, err := bus.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
		opts.Events = eventBus
	}

	server, err := trackerd.NewServer(opts)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	if eventBus, ok := opts.Events.(*bus.Bus); ok {
		steps, err := server.ConsumeStepEvents(ctx, eventBus)
		if err != nil {
			logger.Printf("WARN consume step events: %v", err)
		} else {
			defer steps.Close()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Routes())

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", httpServer.Addr)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}
