package trackerd

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"releasekit/services/tracker"
)

// ErrNotFound is returned when a release, file or commit does not exist.
var ErrNotFound = errors.New("not found")

// FileRecord is a stored release file together with its object key.
type FileRecord struct {
	tracker.File
	ObjectKey string
}

// Store persists releases and everything attached to them.
type Store interface {
	// CreateRelease returns the release, reporting whether it was newly created.
	CreateRelease(ctx context.Context, project, name string) (tracker.Release, bool, error)
	GetRelease(ctx context.Context, project, name string) (tracker.Release, error)
	// DeleteFiles removes every file of the release and returns how many were removed.
	DeleteFiles(ctx context.Context, project, name string) (int, error)
	AddFile(ctx context.Context, project, name string, file FileRecord) error
	GetFile(ctx context.Context, project, name, fileID string) (FileRecord, error)
	SetCommits(ctx context.Context, project, name string, commit tracker.Commit) error
	// PreviousCommit returns the most recent commit recorded for another release of project.
	PreviousCommit(ctx context.Context, project, excludeRelease string) (string, error)
	Finalize(ctx context.Context, project, name string, at time.Time) (tracker.Release, error)
	AddDeploy(ctx context.Context, project, name string, deploy tracker.Deploy) error
	Ping(ctx context.Context) error
}

type memRelease struct {
	release tracker.Release
	files   []FileRecord
	commit  *tracker.Commit
	deploys []tracker.Deploy
}

// MemoryStore keeps everything in process memory. It backs trackerd when no database is
// configured.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	releases map[string]*memRelease
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, releases: make(map[string]*memRelease)}
}

func memKey(project, name string) string { return project + "\x00" + name }

func (s *MemoryStore) lookup(project, name string) (*memRelease, error) {
	rel, ok := s.releases[memKey(project, name)]
	if !ok {
		return nil, ErrNotFound
	}
	return rel, nil
}

func (s *MemoryStore) snapshot(rel *memRelease) tracker.Release {
	out := rel.release
	out.Files = make([]tracker.File, 0, len(rel.files))
	for _, f := range rel.files {
		file := f.File
		file.DebugIDs = append([]string(nil), f.DebugIDs...)
		out.Files = append(out.Files, file)
	}
	out.Commits = []tracker.Commit{}
	if rel.commit != nil {
		out.Commits = append(out.Commits, *rel.commit)
	}
	out.Deploys = append([]tracker.Deploy{}, rel.deploys...)
	return out
}

func (s *MemoryStore) CreateRelease(_ context.Context, project, name string) (tracker.Release, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rel, err := s.lookup(project, name); err == nil {
		return s.snapshot(rel), false, nil
	}
	rel := &memRelease{release: tracker.Release{Project: project, Name: name, CreatedAt: s.now().UTC()}}
	s.releases[memKey(project, name)] = rel
	return s.snapshot(rel), true, nil
}

func (s *MemoryStore) GetRelease(_ context.Context, project, name string) (tracker.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return tracker.Release{}, err
	}
	return s.snapshot(rel), nil
}

func (s *MemoryStore) DeleteFiles(_ context.Context, project, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return 0, err
	}
	n := len(rel.files)
	rel.files = nil
	return n, nil
}

func (s *MemoryStore) AddFile(_ context.Context, project, name string, file FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return err
	}
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = s.now().UTC()
	}
	rel.files = append(rel.files, file)
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, project, name, fileID string) (FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return FileRecord{}, err
	}
	for _, f := range rel.files {
		if f.ID == fileID {
			return f, nil
		}
	}
	return FileRecord{}, ErrNotFound
}

func (s *MemoryStore) SetCommits(_ context.Context, project, name string, commit tracker.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return err
	}
	if commit.CreatedAt.IsZero() {
		commit.CreatedAt = s.now().UTC()
	}
	rel.commit = &commit
	return nil
}

func (s *MemoryStore) PreviousCommit(_ context.Context, project, excludeRelease string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var commits []tracker.Commit
	for _, rel := range s.releases {
		if rel.release.Project != project || rel.release.Name == excludeRelease || rel.commit == nil {
			continue
		}
		commits = append(commits, *rel.commit)
	}
	if len(commits) == 0 {
		return "", ErrNotFound
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i].CreatedAt.After(commits[j].CreatedAt) })
	return commits[0].Commit, nil
}

func (s *MemoryStore) Finalize(_ context.Context, project, name string, at time.Time) (tracker.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return tracker.Release{}, err
	}
	if !rel.release.Finalized {
		at = at.UTC()
		rel.release.Finalized = true
		rel.release.FinalizedAt = &at
	}
	return s.snapshot(rel), nil
}

func (s *MemoryStore) AddDeploy(_ context.Context, project, name string, deploy tracker.Deploy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := s.lookup(project, name)
	if err != nil {
		return err
	}
	if deploy.ID == "" {
		deploy.ID = uuid.NewString()
	}
	if deploy.CreatedAt.IsZero() {
		deploy.CreatedAt = s.now().UTC()
	}
	rel.deploys = append(rel.deploys, deploy)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
