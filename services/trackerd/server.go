// Package trackerd serves the release-tracking HTTP API used by the tracker client.
package trackerd

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"releasekit/pkg/telemetry"
)

const (
	defaultPresignTTL = 15 * time.Minute

	releaseCreatedTopic   = "releasekit.releases.created"
	releaseFinalizedTopic = "releasekit.releases.finalized"
	filesDeletedTopic     = "releasekit.releases.files_deleted"
	deployCreatedTopic    = "releasekit.deploys.created"
)

// BlobStore presigns object uploads and downloads. *s3.Client satisfies it.
type BlobStore interface {
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)
}

// Publisher is satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Options configures a Server. Only Store is required.
type Options struct {
	Store  Store
	Blobs  BlobStore
	Bucket string
	Events Publisher
	// Tokens lists the accepted bearer tokens. Empty disables authentication.
	Tokens     []string
	PresignTTL time.Duration
	Logger     *log.Logger
	Registerer prometheus.Registerer
}

// Server implements the release-tracking API.
type Server struct {
	store   Store
	blobs   BlobStore
	bucket  string
	events  Publisher
	tokens  [][]byte
	ttl     time.Duration
	logger  *log.Logger
	metrics *metrics
	now     func() time.Time
}

// NewServer validates opts and returns a Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Blobs != nil && strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("bucket is required with an object store")
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = defaultPresignTTL
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewLogger("trackerd", os.Stdout, "INFO")
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:   opts.Store,
		blobs:   opts.Blobs,
		bucket:  strings.TrimSpace(opts.Bucket),
		events:  opts.Events,
		ttl:     opts.PresignTTL,
		logger:  opts.Logger,
		metrics: m,
		now:     time.Now,
	}
	for _, token := range opts.Tokens {
		if token = strings.TrimSpace(token); token != "" {
			s.tokens = append(s.tokens, []byte(token))
		}
	}
	if len(s.tokens) == 0 {
		s.logger.Printf("WARN no API tokens configured; authentication is disabled")
	}
	return s, nil
}

// Routes constructs the chi router containing all API endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", s.handleReady)

	r.Route("/v1/projects/{project}/releases", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleCreateRelease)
		r.Route("/{release}", func(r chi.Router) {
			r.Get("/", s.handleGetRelease)
			r.Delete("/files", s.handleDeleteFiles)
			r.Post("/files", s.handleRegisterFile)
			r.Get("/files/{file}", s.handleDownloadFile)
			r.Post("/commits", s.handleSetCommits)
			r.Post("/finalize", s.handleFinalize)
			r.Post("/deploys", s.handleNewDeploy)
		})
	})

	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			respondError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		for _, known := range s.tokens {
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), known) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		respondError(w, http.StatusUnauthorized, errors.New("invalid bearer token"))
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) publish(ctx context.Context, subject string, payload map[string]any) {
	if s.events == nil || subject == "" {
		return
	}
	payload["trace_id"] = telemetry.TraceID(ctx)
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		s.logger.Printf("WARN publish %s: %v", subject, err)
	}
}
