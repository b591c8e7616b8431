package trackerd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"releasekit/pkg/db"
	"releasekit/pkg/db/migrations"
	"releasekit/services/tracker"
)

// GormStore persists releases in Postgres. Writes go through gorm, listings through pgx.
type GormStore struct {
	ORM  *gorm.DB
	Pool *pgxpool.Pool
}

var _ Store = (*GormStore)(nil)

// NewGormStore validates and returns a GormStore.
func NewGormStore(orm *gorm.DB, pool *pgxpool.Pool) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("store ORM is required")
	}
	if pool == nil {
		return nil, errors.New("store pool is required")
	}
	return &GormStore{ORM: orm, Pool: pool}, nil
}

type fileRow struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Dist      string    `db:"dist"`
	Kind      string    `db:"kind"`
	SHA256    string    `db:"sha256"`
	Size      int64     `db:"size"`
	DebugIDs  []byte    `db:"debug_ids"`
	ObjectKey string    `db:"object_key"`
	CreatedAt time.Time `db:"created_at"`
}

func (r fileRow) toRecord() (FileRecord, error) {
	rec := FileRecord{
		File: tracker.File{
			ID:        r.ID.String(),
			Name:      r.Name,
			Dist:      r.Dist,
			Kind:      r.Kind,
			SHA256:    r.SHA256,
			Size:      r.Size,
			CreatedAt: r.CreatedAt,
		},
		ObjectKey: r.ObjectKey,
	}
	if len(r.DebugIDs) > 0 {
		if err := json.Unmarshal(r.DebugIDs, &rec.DebugIDs); err != nil {
			return FileRecord{}, fmt.Errorf("decode debug ids of %s: %w", r.Name, err)
		}
	}
	return rec, nil
}

type commitRow struct {
	Repo              string    `db:"repo"`
	CommitSHA         string    `db:"commit_sha"`
	PreviousCommitSHA string    `db:"previous_commit_sha"`
	CreatedAt         time.Time `db:"created_at"`
}

type deployRow struct {
	ID          uuid.UUID  `db:"id"`
	Env         string     `db:"env"`
	Name        string     `db:"name"`
	URL         string     `db:"url"`
	StartedAt   *time.Time `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`
	TimeSeconds int64      `db:"time_seconds"`
	CreatedAt   time.Time  `db:"created_at"`
}

func (s *GormStore) findRelease(ctx context.Context, project, name string) (migrations.Release, error) {
	var model migrations.Release
	err := s.ORM.WithContext(ctx).Where("project = ? AND name = ?", project, name).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return migrations.Release{}, ErrNotFound
	}
	return model, err
}

func (s *GormStore) CreateRelease(ctx context.Context, project, name string) (tracker.Release, bool, error) {
	model := migrations.Release{ID: uuid.New(), Project: project, Name: name}
	res := s.ORM.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "project"}, {Name: "name"}}, DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return tracker.Release{}, false, res.Error
	}
	rel, err := s.GetRelease(ctx, project, name)
	return rel, res.RowsAffected > 0, err
}

func (s *GormStore) GetRelease(ctx context.Context, project, name string) (tracker.Release, error) {
	model, err := s.findRelease(ctx, project, name)
	if err != nil {
		return tracker.Release{}, err
	}

	rel := tracker.Release{
		Project:     model.Project,
		Name:        model.Name,
		Finalized:   model.FinalizedAt != nil,
		FinalizedAt: model.FinalizedAt,
		CreatedAt:   model.CreatedAt,
		Files:       []tracker.File{},
		Commits:     []tracker.Commit{},
		Deploys:     []tracker.Deploy{},
	}

	var files []fileRow
	if err := db.Select(ctx, s.Pool, &files,
		`SELECT id, name, dist, kind, sha256, size, debug_ids, object_key, created_at
		 FROM release_files WHERE release_id = $1 ORDER BY created_at, name`, model.ID); err != nil {
		return tracker.Release{}, fmt.Errorf("list files: %w", err)
	}
	for _, row := range files {
		rec, err := row.toRecord()
		if err != nil {
			return tracker.Release{}, err
		}
		rel.Files = append(rel.Files, rec.File)
	}

	var commits []commitRow
	if err := db.Select(ctx, s.Pool, &commits,
		`SELECT repo, commit_sha, previous_commit_sha, created_at
		 FROM release_commits WHERE release_id = $1`, model.ID); err != nil {
		return tracker.Release{}, fmt.Errorf("list commits: %w", err)
	}
	for _, row := range commits {
		rel.Commits = append(rel.Commits, tracker.Commit{
			Repo:           row.Repo,
			Commit:         row.CommitSHA,
			PreviousCommit: row.PreviousCommitSHA,
			CreatedAt:      row.CreatedAt,
		})
	}

	var deploys []deployRow
	if err := db.Select(ctx, s.Pool, &deploys,
		`SELECT id, env, name, url, started_at, finished_at, time_seconds, created_at
		 FROM deploys WHERE release_id = $1 ORDER BY created_at`, model.ID); err != nil {
		return tracker.Release{}, fmt.Errorf("list deploys: %w", err)
	}
	for _, row := range deploys {
		rel.Deploys = append(rel.Deploys, tracker.Deploy{
			ID:          row.ID.String(),
			Env:         row.Env,
			Name:        row.Name,
			URL:         row.URL,
			Started:     row.StartedAt,
			Finished:    row.FinishedAt,
			TimeSeconds: row.TimeSeconds,
			CreatedAt:   row.CreatedAt,
		})
	}

	return rel, nil
}

func (s *GormStore) DeleteFiles(ctx context.Context, project, name string) (int, error) {
	model, err := s.findRelease(ctx, project, name)
	if err != nil {
		return 0, err
	}
	tag, err := db.Exec(ctx, s.Pool, `DELETE FROM release_files WHERE release_id = $1`, model.ID)
	if err != nil {
		return 0, fmt.Errorf("delete files: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *GormStore) AddFile(ctx context.Context, project, name string, file FileRecord) error {
	model, err := s.findRelease(ctx, project, name)
	if err != nil {
		return err
	}

	id := uuid.New()
	if file.ID != "" {
		if id, err = uuid.Parse(file.ID); err != nil {
			return fmt.Errorf("parse file id: %w", err)
		}
	}
	debugIDs, err := json.Marshal(file.DebugIDs)
	if err != nil {
		return err
	}

	row := migrations.ReleaseFile{
		ID:        id,
		ReleaseID: model.ID,
		Name:      file.Name,
		Dist:      file.Dist,
		Kind:      file.Kind,
		SHA256:    file.SHA256,
		Size:      file.Size,
		DebugIDs:  datatypes.JSON(debugIDs),
		ObjectKey: file.ObjectKey,
	}
	return s.ORM.WithContext(ctx).Omit("Release").Create(&row).Error
}

func (s *GormStore) GetFile(ctx context.Context, project, name, fileID string) (FileRecord, error) {
	id, err := uuid.Parse(fileID)
	if err != nil {
		return FileRecord{}, ErrNotFound
	}

	var row fileRow
	err = db.Get(ctx, s.Pool, &row,
		`SELECT f.id, f.name, f.dist, f.kind, f.sha256, f.size, f.debug_ids, f.object_key, f.created_at
		 FROM release_files f JOIN releases r ON r.id = f.release_id
		 WHERE r.project = $1 AND r.name = $2 AND f.id = $3`, project, name, id)
	if pgxscan.NotFound(err) {
		return FileRecord{}, ErrNotFound
	}
	if err != nil {
		return FileRecord{}, err
	}
	return row.toRecord()
}

func (s *GormStore) SetCommits(ctx context.Context, project, name string, commit tracker.Commit) error {
	model, err := s.findRelease(ctx, project, name)
	if err != nil {
		return err
	}

	row := migrations.ReleaseCommit{
		ID:                uuid.New(),
		ReleaseID:         model.ID,
		Repo:              commit.Repo,
		CommitSHA:         commit.Commit,
		PreviousCommitSHA: commit.PreviousCommit,
	}
	return s.ORM.WithContext(ctx).Omit("Release").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "release_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"repo", "commit_sha", "previous_commit_sha", "created_at"}),
		}).
		Create(&row).Error
}

func (s *GormStore) PreviousCommit(ctx context.Context, project, excludeRelease string) (string, error) {
	var sha string
	err := db.Get(ctx, s.Pool, &sha,
		`SELECT c.commit_sha
		 FROM release_commits c JOIN releases r ON r.id = c.release_id
		 WHERE r.project = $1 AND r.name <> $2
		 ORDER BY c.created_at DESC
		 LIMIT 1`, project, excludeRelease)
	if pgxscan.NotFound(err) {
		return "", ErrNotFound
	}
	return sha, err
}

func (s *GormStore) Finalize(ctx context.Context, project, name string, at time.Time) (tracker.Release, error) {
	model, err := s.findRelease(ctx, project, name)
	if err != nil {
		return tracker.Release{}, err
	}
	if model.FinalizedAt == nil {
		at = at.UTC()
		if err := s.ORM.WithContext(ctx).Model(&model).Update("finalized_at", at).Error; err != nil {
			return tracker.Release{}, err
		}
	}
	return s.GetRelease(ctx, project, name)
}

func (s *GormStore) AddDeploy(ctx context.Context, project, name string, deploy tracker.Deploy) error {
	model, err := s.findRelease(ctx, project, name)
	if err != nil {
		return err
	}

	row := migrations.Deploy{
		ID:          uuid.New(),
		ReleaseID:   model.ID,
		Env:         deploy.Env,
		Name:        deploy.Name,
		URL:         deploy.URL,
		StartedAt:   deploy.Started,
		FinishedAt:  deploy.Finished,
		TimeSeconds: deploy.TimeSeconds,
	}
	return s.ORM.WithContext(ctx).Omit("Release").Create(&row).Error
}

func (s *GormStore) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.Pool)
}
