package release

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// ReleaseEnv overrides every other source of the release name.
const ReleaseEnv = "RELEASEKIT_RELEASE"

// ciCommitVars lists the commit variables exported by common CI providers, in lookup order.
var ciCommitVars = []string{
	"GITHUB_SHA",
	"CI_COMMIT_SHA",
	"CIRCLE_SHA1",
	"VERCEL_GIT_COMMIT_SHA",
	"BITBUCKET_COMMIT",
	"SOURCE_VERSION",
	"HEROKU_SLUG_COMMIT",
	"CODEBUILD_RESOLVED_SOURCE_VERSION",
}

// DetectRelease derives a release name from RELEASEKIT_RELEASE, then CI commit variables,
// then the HEAD commit of the git checkout at dir. A nil env reads the process environment.
func DetectRelease(ctx context.Context, env envconfig.Lookuper, dir string) (string, error) {
	if env == nil {
		env = envconfig.OsLookuper()
	}
	for _, key := range append([]string{ReleaseEnv}, ciCommitVars...) {
		if v, ok := env.Lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}

	head, err := GitHead(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("detect release: %w", err)
	}
	return head, nil
}

// GitHead returns the commit checked out at dir.
func GitHead(ctx context.Context, dir string) (string, error) {
	return git(ctx, dir, "rev-parse", "HEAD")
}

// GitRemoteURL returns the configured URL of remote at dir.
func GitRemoteURL(ctx context.Context, dir, remote string) (string, error) {
	if remote == "" {
		remote = "origin"
	}
	return git(ctx, dir, "config", "--get", "remote."+remote+".url")
}

// GitError carries the output of a failed git invocation.
type GitError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *GitError) Unwrap() error { return e.Err }

func git(ctx context.Context, dir string, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &GitError{Args: args, Stderr: stderr.String(), ExitCode: exitCode, Err: err}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", &GitError{Args: args, Err: errors.New("empty output")}
	}
	return out, nil
}
