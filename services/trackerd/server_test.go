package trackerd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"releasekit/pkg/telemetry"
	"releasekit/services/bundler"
	"releasekit/services/inject"
	"releasekit/services/release"
	"releasekit/services/tracker"
)

type fakeBlobs struct {
	mu       sync.Mutex
	base     string
	objects  map[string][]byte
	deleted  []string
	presigns []string
}

func (b *fakeBlobs) PresignPut(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presigns = append(b.presigns, bucket+"/"+key)
	return b.base + "/" + key, nil
}

func (b *fakeBlobs) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + bucket + "/" + key, nil
}

func (b *fakeBlobs) DeletePrefix(_ context.Context, _ string, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, prefix)
	n := 0
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			delete(b.objects, key)
			n++
		}
	}
	return n, nil
}

func (b *fakeBlobs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.objects[strings.TrimPrefix(r.URL.Path, "/")] = data
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subj string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subj)
	return nil
}

type harness struct {
	server *Server
	url    string
	blobs  *fakeBlobs
	events *recordingPublisher
	store  *MemoryStore
}

func newHarness(t *testing.T, tokens ...string) *harness {
	t.Helper()

	blobs := &fakeBlobs{objects: make(map[string][]byte)}
	blobServer := httptest.NewServer(blobs)
	t.Cleanup(blobServer.Close)
	blobs.base = blobServer.URL

	h := &harness{blobs: blobs, events: &recordingPublisher{}, store: NewMemoryStore()}
	server, err := NewServer(Options{
		Store:      h.store,
		Blobs:      blobs,
		Bucket:     "releases",
		Events:     h.events,
		Tokens:     tokens,
		Logger:     telemetry.NewLogger("trackerd", io.Discard, "ERROR"),
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	h.server = server

	api := httptest.NewServer(server.Routes())
	t.Cleanup(api.Close)
	h.url = api.URL
	return h
}

func (h *harness) client(t *testing.T, token, workDir string) *tracker.Client {
	t.Helper()
	client, err := tracker.New(tracker.Config{
		BaseURL: h.url,
		Project: "web",
		Token:   token,
		WorkDir: workDir,
		Logger:  telemetry.NewLogger("test", io.Discard, "ERROR"),
	})
	if err != nil {
		t.Fatalf("tracker.New() error = %v", err)
	}
	return client
}

func writeBuild(t *testing.T, dir string) string {
	t.Helper()
	const id = "7d3f1c2a-9b8e-4f6d-a5c4-3b2a1f0e9d8c"
	stub, err := inject.GenerateStub(id)
	if err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"dist/main.js":     stub + "\nexport default 1;",
		"dist/main.js.map": `{"version":3,"sources":["main.ts"],"mappings":""}`,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return id
}

func TestPipelineAgainstServer(t *testing.T) {
	h := newHarness(t, "s3cret")
	work := t.TempDir()
	debugID := writeBuild(t, work)
	client := h.client(t, "s3cret", work)
	ctx := context.Background()

	if err := client.Create(ctx, "web@0.9.0"); err != nil {
		t.Fatal(err)
	}
	if err := client.SetCommits(ctx, "web@0.9.0", release.CommitOptions{Repo: "acme/web", Commit: "aaa111", IgnoreMissing: true}); err != nil {
		t.Fatalf("seed commits: %v", err)
	}

	orch, err := release.New(release.PipelineConfig{
		Options: release.Options{
			Release:          "web@1.0.0",
			CleanArtifacts:   true,
			UploadSourceMaps: true,
			Include:          []string{"dist"},
			SetCommits:       &release.CommitOptions{Repo: "acme/web", Commit: "bbb222"},
			Finalize:         true,
			Deploy:           &release.DeployOptions{Env: "production", Time: 2 * time.Minute},
		},
		Service: client,
		Logger:  telemetry.NewLogger("test", io.Discard, "ERROR"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rel, err := client.Get(ctx, "web@1.0.0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !rel.Finalized || rel.FinalizedAt == nil {
		t.Fatalf("release not finalized: %+v", rel)
	}
	if len(rel.Files) != 1 || rel.Files[0].Kind != tracker.BundleKind {
		t.Fatalf("files = %+v", rel.Files)
	}
	if got := rel.Files[0].DebugIDs; len(got) != 1 || got[0] != debugID {
		t.Fatalf("debug ids = %v, want [%s]", got, debugID)
	}
	if len(rel.Commits) != 1 || rel.Commits[0].PreviousCommit != "aaa111" || rel.Commits[0].Commit != "bbb222" {
		t.Fatalf("commits = %+v", rel.Commits)
	}
	if len(rel.Deploys) != 1 || rel.Deploys[0].Env != "production" || rel.Deploys[0].TimeSeconds != 120 {
		t.Fatalf("deploys = %+v", rel.Deploys)
	}

	key := "releases/web/web@1.0.0/" + rel.Files[0].ID
	bundle, ok := h.blobs.objects[key]
	if !ok {
		t.Fatalf("bundle not uploaded to %s; have %v", key, h.blobs.presigns)
	}
	path := filepath.Join(t.TempDir(), "bundle.tar.zst")
	if err := os.WriteFile(path, bundle, 0o644); err != nil {
		t.Fatal(err)
	}
	manifest, err := bundler.Verify(ctx, bundler.VerifyConfig{BundlePath: path, Stdout: io.Discard})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if manifest.Release != "web@1.0.0" || len(manifest.Files) != 2 {
		t.Fatalf("manifest = %+v", manifest)
	}

	if len(h.blobs.deleted) != 1 || h.blobs.deleted[0] != "releases/web/web@1.0.0/" {
		t.Fatalf("deleted prefixes = %v", h.blobs.deleted)
	}
	wantSubjects := []string{releaseCreatedTopic, releaseCreatedTopic, filesDeletedTopic, releaseFinalizedTopic, deployCreatedTopic}
	if strings.Join(h.events.subjects, ",") != strings.Join(wantSubjects, ",") {
		t.Fatalf("events = %v, want %v", h.events.subjects, wantSubjects)
	}
	if got := testutil.ToFloat64(h.server.metrics.events.WithLabelValues(eventReleaseCreated)); got != 2 {
		t.Fatalf("release_created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(h.server.metrics.events.WithLabelValues(eventFileRegistered)); got != 1 {
		t.Fatalf("file_registered = %v, want 1", got)
	}
}

func TestCreateReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)

	for i, want := range []int{http.StatusCreated, http.StatusOK} {
		resp, err := http.Post(h.url+"/v1/projects/web/releases", "application/json", strings.NewReader(`{"name":"web@1.0.0"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("attempt %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, "alpha", "beta")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic alpha", want: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer gamma", want: http.StatusUnauthorized},
		{name: "first token", header: "Bearer alpha", want: http.StatusNotFound},
		{name: "second token", header: "Bearer beta", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, h.url+"/v1/projects/web/releases/missing", nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Get(h.url + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestSetCommitsRules(t *testing.T) {
	tests := []struct {
		name       string
		seed       string
		opts       release.CommitOptions
		wantStatus int
	}{
		{
			name:       "no previous release",
			opts:       release.CommitOptions{Repo: "acme/web", Commit: "bbb"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing previous ignored",
			opts: release.CommitOptions{Repo: "acme/web", Commit: "bbb", IgnoreMissing: true},
		},
		{
			name:       "empty range",
			seed:       "bbb",
			opts:       release.CommitOptions{Repo: "acme/web", Commit: "bbb"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "empty range ignored",
			seed: "bbb",
			opts: release.CommitOptions{Repo: "acme/web", Commit: "bbb", IgnoreEmpty: true},
		},
		{
			name: "explicit previous",
			opts: release.CommitOptions{Repo: "acme/web", Commit: "bbb", PreviousCommit: "aaa"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			client := h.client(t, "", t.TempDir())
			ctx := context.Background()

			if tt.seed != "" {
				if err := client.Create(ctx, "web@0.1.0"); err != nil {
					t.Fatal(err)
				}
				if err := client.SetCommits(ctx, "web@0.1.0", release.CommitOptions{Repo: "acme/web", Commit: tt.seed, IgnoreMissing: true}); err != nil {
					t.Fatal(err)
				}
			}
			if err := client.Create(ctx, "web@0.2.0"); err != nil {
				t.Fatal(err)
			}

			err := client.SetCommits(ctx, "web@0.2.0", tt.opts)
			if tt.wantStatus == 0 {
				if err != nil {
					t.Fatalf("SetCommits() error = %v", err)
				}
				return
			}
			var apiErr *tracker.APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.wantStatus {
				t.Fatalf("SetCommits() error = %v, want status %d", err, tt.wantStatus)
			}
		})
	}
}

func TestDownloadFileRedirectsToObjectStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, _, err := h.store.CreateRelease(ctx, "web", "web@1.0.0"); err != nil {
		t.Fatal(err)
	}
	file := FileRecord{File: tracker.File{ID: "f-1", Name: "bundle.tar.zst", Kind: tracker.BundleKind}, ObjectKey: "releases/web/web@1.0.0/f-1"}
	if err := h.store.AddFile(ctx, "web", "web@1.0.0", file); err != nil {
		t.Fatal(err)
	}

	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := noRedirect.Get(h.url + "/v1/projects/web/releases/web@1.0.0/files/f-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "https://blobs.test/releases/releases/web/web@1.0.0/f-1" {
		t.Fatalf("location = %q", got)
	}

	resp, err = noRedirect.Get(h.url + "/v1/projects/web/releases/web@1.0.0/files/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing file status = %d, want 404", resp.StatusCode)
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.store.CreateRelease(context.Background(), "web", "web@1.0.0"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "create without name", path: "/v1/projects/web/releases", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown field", path: "/v1/projects/web/releases", body: `{"name":"x","version":"1"}`, want: http.StatusBadRequest},
		{name: "deploy without env", path: "/v1/projects/web/releases/web@1.0.0/deploys", body: `{"name":"blue"}`, want: http.StatusBadRequest},
		{name: "deploy finished before started", path: "/v1/projects/web/releases/web@1.0.0/deploys", body: `{"env":"prod","started":"2026-01-02T00:00:00Z","finished":"2026-01-01T00:00:00Z"}`, want: http.StatusBadRequest},
		{name: "deploy unknown release", path: "/v1/projects/web/releases/web@9.9.9/deploys", body: `{"env":"prod"}`, want: http.StatusNotFound},
		{name: "file without sha", path: "/v1/projects/web/releases/web@1.0.0/files", body: `{"name":"bundle.tar.zst"}`, want: http.StatusBadRequest},
		{name: "finalize unknown release", path: "/v1/projects/web/releases/web@9.9.9/finalize", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(h.url+tt.path, "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestReadyReflectsStore(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.url + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(Options{}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := NewServer(Options{Store: NewMemoryStore(), Blobs: &fakeBlobs{}, Logger: telemetry.NewLogger("t", io.Discard, "ERROR")}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
