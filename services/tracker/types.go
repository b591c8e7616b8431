package tracker

import "time"

// BundleKind is the kind recorded for artifact bundles registered by the client.
const BundleKind = "artifact_bundle"

// Release is a release record as returned by the tracking API.
type Release struct {
	Project     string     `json:"project"`
	Name        string     `json:"name"`
	Finalized   bool       `json:"finalized"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Files       []File     `json:"files"`
	Commits     []Commit   `json:"commits"`
	Deploys     []Deploy   `json:"deploys"`
}

// File is an uploaded artifact attached to a release.
type File struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dist      string    `json:"dist,omitempty"`
	Kind      string    `json:"kind"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	DebugIDs  []string  `json:"debug_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Commit is the commit range associated with a release.
type Commit struct {
	Repo           string    `json:"repo"`
	Commit         string    `json:"commit"`
	PreviousCommit string    `json:"previous_commit,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Deploy records a deployment of a release to an environment.
type Deploy struct {
	ID          string     `json:"id"`
	Env         string     `json:"env"`
	Name        string     `json:"name,omitempty"`
	URL         string     `json:"url,omitempty"`
	Started     *time.Time `json:"started,omitempty"`
	Finished    *time.Time `json:"finished,omitempty"`
	TimeSeconds int64      `json:"time_seconds,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateReleaseRequest is the body of POST /v1/projects/{project}/releases.
type CreateReleaseRequest struct {
	Name string `json:"name"`
}

// RegisterFileRequest is the body of POST .../releases/{name}/files.
type RegisterFileRequest struct {
	Name     string   `json:"name"`
	Dist     string   `json:"dist,omitempty"`
	Kind     string   `json:"kind"`
	SHA256   string   `json:"sha256"`
	Size     int64    `json:"size"`
	DebugIDs []string `json:"debug_ids,omitempty"`
}

// RegisterFileResponse carries the registered file and where to PUT its contents.
type RegisterFileResponse struct {
	File      File   `json:"file"`
	UploadURL string `json:"upload_url"`
}

// SetCommitsRequest is the body of POST .../releases/{name}/commits.
type SetCommitsRequest struct {
	Repo           string `json:"repo"`
	Commit         string `json:"commit"`
	PreviousCommit string `json:"previous_commit,omitempty"`
	IgnoreMissing  bool   `json:"ignore_missing"`
	IgnoreEmpty    bool   `json:"ignore_empty"`
}

// NewDeployRequest is the body of POST .../releases/{name}/deploys.
type NewDeployRequest struct {
	Env         string     `json:"env"`
	Name        string     `json:"name,omitempty"`
	URL         string     `json:"url,omitempty"`
	Started     *time.Time `json:"started,omitempty"`
	Finished    *time.Time `json:"finished,omitempty"`
	TimeSeconds int64      `json:"time_seconds,omitempty"`
}
