package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Release struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Project     string     `gorm:"type:text;not null;uniqueIndex:idx_releases_project_name"`
	Name        string     `gorm:"type:text;not null;uniqueIndex:idx_releases_project_name"`
	FinalizedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type ReleaseFile struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ReleaseID uuid.UUID      `gorm:"type:uuid;not null;index"`
	Name      string         `gorm:"type:text;not null"`
	Dist      string         `gorm:"type:text"`
	Kind      string         `gorm:"type:text;not null"`
	SHA256    string         `gorm:"column:sha256;type:text;not null"`
	Size      int64          `gorm:"type:bigint;not null"`
	DebugIDs  datatypes.JSON `gorm:"column:debug_ids;type:jsonb"`
	ObjectKey string         `gorm:"type:text;not null"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Release   Release        `gorm:"foreignKey:ReleaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type ReleaseCommit struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	ReleaseID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Repo              string    `gorm:"type:text;not null"`
	CommitSHA         string    `gorm:"type:text;not null"`
	PreviousCommitSHA string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Release           Release   `gorm:"foreignKey:ReleaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Deploy struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ReleaseID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	Env         string     `gorm:"type:text;not null"`
	Name        string     `gorm:"type:text"`
	URL         string     `gorm:"type:text"`
	StartedAt   *time.Time `gorm:"type:timestamptz"`
	FinishedAt  *time.Time `gorm:"type:timestamptz"`
	TimeSeconds int64      `gorm:"type:bigint"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Release     Release    `gorm:"foreignKey:ReleaseID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func openGorm(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Release{},
		&ReleaseFile{},
		&ReleaseCommit{},
		&Deploy{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openGorm(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Deploy{},
		&ReleaseCommit{},
		&ReleaseFile{},
		&Release{},
	)
}
