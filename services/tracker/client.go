// Package tracker is an HTTP client for the release-tracking API. *Client implements
// release.Service.
package tracker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"releasekit/pkg/telemetry"
	"releasekit/services/bundler"
	"releasekit/services/release"
)

var _ release.Service = (*Client)(nil)

// Config configures a Client.
type Config struct {
	BaseURL string
	Project string
	Token   string
	// WorkDir anchors include patterns and git lookups. Defaults to the current directory.
	WorkDir    string
	HTTPClient *http.Client
	Signer     *bundler.Signer
	Logger     *log.Logger
}

// Client talks to the release-tracking API.
type Client struct {
	base    *url.URL
	project string
	token   string
	workDir string
	http    *http.Client
	signer  *bundler.Signer
	logger  *log.Logger
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracker: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("tracker: %d: %s", e.Status, e.Message)
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("tracker url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid tracker url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, errors.New("project is required")
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolve working dir: %w", err)
		}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewLogger("releasekit", os.Stderr, "INFO")
	}

	return &Client{
		base:    base,
		project: cfg.Project,
		token:   cfg.Token,
		workDir: workDir,
		http:    httpClient,
		signer:  cfg.Signer,
		logger:  logger,
	}, nil
}

// Create registers release. An existing release is not an error.
func (c *Client) Create(ctx context.Context, name string) error {
	if c == nil {
		return errors.New("nil client")
	}
	return c.do(ctx, http.MethodPost, c.releasesPath(), CreateReleaseRequest{Name: name}, nil)
}

// Get returns the release with its files, commits and deploys.
func (c *Client) Get(ctx context.Context, name string) (*Release, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}
	var rel Release
	if err := c.do(ctx, http.MethodGet, c.releasePath(name), nil, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// DeleteAllFiles removes every file previously uploaded for release.
func (c *Client) DeleteAllFiles(ctx context.Context, name string) error {
	if c == nil {
		return errors.New("nil client")
	}
	return c.do(ctx, http.MethodDelete, c.releasePath(name, "files"), nil, nil)
}

// UploadFiles bundles the files matched by opts.Include and uploads the bundle.
func (c *Client) UploadFiles(ctx context.Context, name string, opts release.UploadOptions) error {
	if c == nil {
		return errors.New("nil client")
	}

	files, err := ExpandInclude(c.workDir, opts.Include)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		c.logger.Printf("WARN no files matched %v; nothing to upload", opts.Include)
		return nil
	}

	tmp, err := os.MkdirTemp("", "releasekit-bundle-*")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	bundlePath := filepath.Join(tmp, "bundle.tar.zst")
	manifest, err := bundler.Build(ctx, bundler.BuildConfig{
		Files:   files,
		Root:    c.workDir,
		Release: name,
		Dist:    opts.Dist,
		Output:  bundlePath,
		Signer:  c.signer,
		Stdout:  io.Discard,
	})
	if err != nil {
		return fmt.Errorf("build bundle: %w", err)
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	sum := sha256.Sum256(data)

	var registered RegisterFileResponse
	err = c.do(ctx, http.MethodPost, c.releasePath(name, "files"), RegisterFileRequest{
		Name:     fmt.Sprintf("bundle-%s.tar.zst", hex.EncodeToString(sum[:4])),
		Dist:     opts.Dist,
		Kind:     BundleKind,
		SHA256:   hex.EncodeToString(sum[:]),
		Size:     int64(len(data)),
		DebugIDs: manifest.DebugIDs(),
	}, &registered)
	if err != nil {
		return err
	}
	if registered.UploadURL == "" {
		return errors.New("tracker response missing upload_url")
	}

	if err := c.put(ctx, registered.UploadURL, data); err != nil {
		return err
	}
	c.logger.Printf("DEBUG uploaded bundle with %d files and %d debug ids", len(manifest.Files), len(manifest.DebugIDs()))
	return nil
}

// SetCommits associates a commit range with release. With Auto set, missing commit and repo
// values are read from the local git checkout.
func (c *Client) SetCommits(ctx context.Context, name string, opts release.CommitOptions) error {
	if c == nil {
		return errors.New("nil client")
	}

	req := SetCommitsRequest{
		Repo:           opts.Repo,
		Commit:         opts.Commit,
		PreviousCommit: opts.PreviousCommit,
		IgnoreMissing:  opts.IgnoreMissing,
		IgnoreEmpty:    opts.IgnoreEmpty,
	}
	if opts.Auto {
		if req.Commit == "" {
			head, err := release.GitHead(ctx, c.workDir)
			if err != nil {
				return fmt.Errorf("resolve commit: %w", err)
			}
			req.Commit = head
		}
		if req.Repo == "" {
			remote, err := release.GitRemoteURL(ctx, c.workDir, "origin")
			if err != nil {
				return fmt.Errorf("resolve repository: %w", err)
			}
			req.Repo = remote
		}
	}
	if req.Commit == "" || req.Repo == "" {
		return errors.New("repo and commit are required unless auto is set")
	}

	return c.do(ctx, http.MethodPost, c.releasePath(name, "commits"), req, nil)
}

// Finalize marks release as released.
func (c *Client) Finalize(ctx context.Context, name string) error {
	if c == nil {
		return errors.New("nil client")
	}
	return c.do(ctx, http.MethodPost, c.releasePath(name, "finalize"), nil, nil)
}

// NewDeploy records a deployment of release.
func (c *Client) NewDeploy(ctx context.Context, name string, opts release.DeployOptions) error {
	if c == nil {
		return errors.New("nil client")
	}
	if strings.TrimSpace(opts.Env) == "" {
		return errors.New("deploy env is required")
	}

	req := NewDeployRequest{
		Env:         opts.Env,
		Name:        opts.Name,
		URL:         opts.URL,
		Started:     timePtr(opts.Started),
		Finished:    timePtr(opts.Finished),
		TimeSeconds: int64(opts.Time / time.Second),
	}
	return c.do(ctx, http.MethodPost, c.releasePath(name, "deploys"), req, nil)
}

func (c *Client) releasesPath() string {
	return "/v1/projects/" + url.PathEscape(c.project) + "/releases"
}

func (c *Client) releasePath(name string, rest ...string) string {
	p := c.releasesPath() + "/" + url.PathEscape(name)
	for _, segment := range rest {
		p += "/" + segment
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := strings.TrimRight(c.base.String(), "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/zstd")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
