package release

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sethvargo/go-envconfig"
)

func TestDetectReleaseFromEnvironment(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "explicit wins", env: map[string]string{"RELEASEKIT_RELEASE": "web@1.0.0", "GITHUB_SHA": "abc"}, want: "web@1.0.0"},
		{name: "github", env: map[string]string{"GITHUB_SHA": "abc"}, want: "abc"},
		{name: "gitlab before circle", env: map[string]string{"CIRCLE_SHA1": "circle", "CI_COMMIT_SHA": "gitlab"}, want: "gitlab"},
		{name: "blank values ignored", env: map[string]string{"RELEASEKIT_RELEASE": "  ", "HEROKU_SLUG_COMMIT": "heroku"}, want: "heroku"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectRelease(context.Background(), envconfig.MapLookuper(tt.env), t.TempDir())
			if err != nil {
				t.Fatalf("DetectRelease() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("DetectRelease() = %q, want %q", got, tt.want)
			}
		})
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func TestDetectReleaseFallsBackToGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "-c", "user.name=ci", "-c", "user.email=ci@example.com", "commit", "-q", "--allow-empty", "-m", "init")
	runGit(t, dir, "remote", "add", "origin", "https://example.com/acme/web.git")

	got, err := DetectRelease(context.Background(), envconfig.MapLookuper(map[string]string{}), dir)
	if err != nil {
		t.Fatalf("DetectRelease() error = %v", err)
	}
	if len(got) != 40 || strings.Trim(got, "0123456789abcdef") != "" {
		t.Fatalf("DetectRelease() = %q, want a commit sha", got)
	}

	remote, err := GitRemoteURL(context.Background(), dir, "")
	if err != nil || remote != "https://example.com/acme/web.git" {
		t.Fatalf("GitRemoteURL() = (%q, %v)", remote, err)
	}
}

func TestDetectReleaseOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
	_, err := DetectRelease(context.Background(), envconfig.MapLookuper(map[string]string{}), dir)
	var gitErr *GitError
	if !errors.As(err, &gitErr) || gitErr.ExitCode == 0 {
		t.Fatalf("DetectRelease() error = %v, want a GitError", err)
	}
}
