package trackerd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"releasekit/services/tracker"
)

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	project := urlParam(r, "project")

	var req tracker.CreateReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rel, created, err := s.store.CreateRelease(ctx, project, req.Name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !created {
		respondJSON(w, http.StatusOK, rel)
		return
	}

	s.metrics.observe(eventReleaseCreated)
	s.publish(ctx, releaseCreatedTopic, map[string]any{
		"project":    rel.Project,
		"release":    rel.Name,
		"created_at": rel.CreatedAt,
	})
	respondJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rel, err := s.store.GetRelease(ctx, urlParam(r, "project"), urlParam(r, "release"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rel)
}

func (s *Server) handleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	project, name := urlParam(r, "project"), urlParam(r, "release")

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	removed, err := s.store.DeleteFiles(ctx, project, name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if s.blobs != nil {
		if _, err := s.blobs.DeletePrefix(ctx, s.bucket, objectPrefix(project, name)); err != nil {
			respondError(w, http.StatusBadGateway, fmt.Errorf("delete stored files: %w", err))
			return
		}
	}

	s.metrics.observe(eventFilesDeleted)
	s.publish(ctx, filesDeletedTopic, map[string]any{
		"project": project,
		"release": name,
		"removed": removed,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterFile(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		respondError(w, http.StatusFailedDependency, errors.New("object store not configured"))
		return
	}
	project, name := urlParam(r, "project"), urlParam(r, "release")

	var req tracker.RegisterFileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.SHA256 = strings.TrimSpace(req.SHA256)
	if req.Name == "" || req.SHA256 == "" {
		respondError(w, http.StatusBadRequest, errors.New("name and sha256 are required"))
		return
	}
	if req.Size < 0 {
		respondError(w, http.StatusBadRequest, errors.New("size must not be negative"))
		return
	}
	if req.Kind == "" {
		req.Kind = tracker.BundleKind
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	id := uuid.NewString()
	key := objectPrefix(project, name) + id
	record := FileRecord{
		File: tracker.File{
			ID:        id,
			Name:      req.Name,
			Dist:      req.Dist,
			Kind:      req.Kind,
			SHA256:    req.SHA256,
			Size:      req.Size,
			DebugIDs:  req.DebugIDs,
			CreatedAt: s.now().UTC(),
		},
		ObjectKey: key,
	}
	if err := s.store.AddFile(ctx, project, name, record); err != nil {
		s.storeError(w, err)
		return
	}

	uploadURL, err := s.blobs.PresignPut(ctx, s.bucket, key, s.ttl)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign put: %w", err))
		return
	}

	s.metrics.observe(eventFileRegistered)
	respondJSON(w, http.StatusCreated, tracker.RegisterFileResponse{File: record.File, UploadURL: uploadURL})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		respondError(w, http.StatusFailedDependency, errors.New("object store not configured"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	file, err := s.store.GetFile(ctx, urlParam(r, "project"), urlParam(r, "release"), urlParam(r, "file"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	location, err := s.blobs.PresignGet(ctx, s.bucket, file.ObjectKey, s.ttl)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign get: %w", err))
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

func (s *Server) handleSetCommits(w http.ResponseWriter, r *http.Request) {
	project, name := urlParam(r, "project"), urlParam(r, "release")

	var req tracker.SetCommitsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Repo = strings.TrimSpace(req.Repo)
	req.Commit = strings.TrimSpace(req.Commit)
	req.PreviousCommit = strings.TrimSpace(req.PreviousCommit)
	if req.Repo == "" || req.Commit == "" {
		respondError(w, http.StatusBadRequest, errors.New("repo and commit are required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if _, err := s.store.GetRelease(ctx, project, name); err != nil {
		s.storeError(w, err)
		return
	}

	if req.PreviousCommit == "" {
		previous, err := s.store.PreviousCommit(ctx, project, name)
		switch {
		case errors.Is(err, ErrNotFound):
			if !req.IgnoreMissing {
				respondError(w, http.StatusBadRequest, fmt.Errorf("no previous commit found for project %s", project))
				return
			}
		case err != nil:
			s.storeError(w, err)
			return
		default:
			req.PreviousCommit = previous
		}
	}
	if req.PreviousCommit == req.Commit && !req.IgnoreEmpty {
		respondError(w, http.StatusBadRequest, fmt.Errorf("commit range %s..%s is empty", req.PreviousCommit, req.Commit))
		return
	}

	commit := tracker.Commit{
		Repo:           req.Repo,
		Commit:         req.Commit,
		PreviousCommit: req.PreviousCommit,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.SetCommits(ctx, project, name, commit); err != nil {
		s.storeError(w, err)
		return
	}

	s.metrics.observe(eventCommitsSet)
	respondJSON(w, http.StatusOK, commit)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	project, name := urlParam(r, "project"), urlParam(r, "release")

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rel, err := s.store.Finalize(ctx, project, name, s.now())
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.metrics.observe(eventReleaseFinalized)
	s.publish(ctx, releaseFinalizedTopic, map[string]any{
		"project":      rel.Project,
		"release":      rel.Name,
		"finalized_at": rel.FinalizedAt,
	})
	respondJSON(w, http.StatusOK, rel)
}

func (s *Server) handleNewDeploy(w http.ResponseWriter, r *http.Request) {
	project, name := urlParam(r, "project"), urlParam(r, "release")

	var req tracker.NewDeployRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Env = strings.TrimSpace(req.Env)
	if req.Env == "" {
		respondError(w, http.StatusBadRequest, errors.New("env is required"))
		return
	}
	if req.TimeSeconds < 0 {
		respondError(w, http.StatusBadRequest, errors.New("time_seconds must not be negative"))
		return
	}
	if req.Started != nil && req.Finished != nil && req.Finished.Before(*req.Started) {
		respondError(w, http.StatusBadRequest, errors.New("finished is before started"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	deploy := tracker.Deploy{
		ID:          uuid.NewString(),
		Env:         req.Env,
		Name:        req.Name,
		URL:         req.URL,
		Started:     req.Started,
		Finished:    req.Finished,
		TimeSeconds: req.TimeSeconds,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.AddDeploy(ctx, project, name, deploy); err != nil {
		s.storeError(w, err)
		return
	}

	s.metrics.observe(eventDeployCreated)
	s.publish(ctx, deployCreatedTopic, map[string]any{
		"project": project,
		"release": name,
		"env":     deploy.Env,
		"name":    deploy.Name,
		"url":     deploy.URL,
	})
	respondJSON(w, http.StatusCreated, deploy)
}

func objectPrefix(project, release string) string {
	return fmt.Sprintf("releases/%s/%s/", project, release)
}
