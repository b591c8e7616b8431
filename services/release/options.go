package release

import (
	"context"
	"time"
)

// Options selects which lifecycle steps run for one release. It is copied when the
// orchestrator is constructed and never mutated afterwards.
type Options struct {
	Release          string         `yaml:"release"`
	CleanArtifacts   bool           `yaml:"clean_artifacts"`
	UploadSourceMaps bool           `yaml:"upload_source_maps"`
	Include          []string       `yaml:"include"`
	Dist             string         `yaml:"dist"`
	SetCommits       *CommitOptions `yaml:"set_commits"`
	Finalize         bool           `yaml:"finalize"`
	Deploy           *DeployOptions `yaml:"deploy"`
}

// CommitOptions describes the commit range associated with a release.
type CommitOptions struct {
	Auto           bool   `yaml:"auto" json:"auto"`
	Repo           string `yaml:"repo" json:"repo,omitempty"`
	Commit         string `yaml:"commit" json:"commit,omitempty"`
	PreviousCommit string `yaml:"previous_commit" json:"previous_commit,omitempty"`
	IgnoreMissing  bool   `yaml:"ignore_missing" json:"ignore_missing"`
	IgnoreEmpty    bool   `yaml:"ignore_empty" json:"ignore_empty"`
}

// DeployOptions describes a deployment of the release. Zero times and durations are unset.
type DeployOptions struct {
	Env      string        `yaml:"env" json:"env"`
	Name     string        `yaml:"name" json:"name,omitempty"`
	URL      string        `yaml:"url" json:"url,omitempty"`
	Started  time.Time     `yaml:"started" json:"started,omitempty"`
	Finished time.Time     `yaml:"finished" json:"finished,omitempty"`
	Time     time.Duration `yaml:"time" json:"-"`
}

// UploadOptions is passed to Service.UploadFiles.
type UploadOptions struct {
	Include []string
	Dist    string
}

// Service is the release-tracking backend driven by the orchestrator.
type Service interface {
	Create(ctx context.Context, release string) error
	DeleteAllFiles(ctx context.Context, release string) error
	UploadFiles(ctx context.Context, release string, opts UploadOptions) error
	SetCommits(ctx context.Context, release string, opts CommitOptions) error
	Finalize(ctx context.Context, release string) error
	NewDeploy(ctx context.Context, release string, opts DeployOptions) error
}

func (o Options) clone() Options {
	out := o
	out.Include = append([]string(nil), o.Include...)
	if o.SetCommits != nil {
		commits := *o.SetCommits
		out.SetCommits = &commits
	}
	if o.Deploy != nil {
		deploy := *o.Deploy
		out.Deploy = &deploy
	}
	return out
}
