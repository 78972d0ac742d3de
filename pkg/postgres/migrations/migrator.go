package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	_202610190900_initialSchema "github.com/Layr-Labs/runtime-indexer/pkg/postgres/migrations/202610190900_initialSchema"
	_202610191400_failureIndexes "github.com/Layr-Labs/runtime-indexer/pkg/postgres/migrations/202610191400_failureIndexes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Migration interface {
	Up(db *sql.DB, grm *gorm.DB, cfg *config.Config) error
	GetName() string
}

// Migrations are applied in slice order; never reorder or remove an entry.
var Migrations = []Migration{
	&_202610190900_initialSchema.Migration{},
	&_202610191400_failureIndexes.Migration{},
}

type Migrator struct {
	Db           *sql.DB
	GDb          *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
	migrations   []Migration
}

type appliedMigration struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (appliedMigration) TableName() string {
	return "migrations"
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger, cfg *config.Config) *Migrator {
	return &Migrator{
		Db:           db,
		GDb:          gDb,
		Logger:       l,
		GlobalConfig: cfg,
		migrations:   Migrations,
	}
}

func (m *Migrator) createMigrationsTable() error {
	query := `
	create table if not exists migrations (
		name text primary key,
		created_at timestamp with time zone default current_timestamp,
		updated_at timestamp with time zone default null
	)`
	return m.GDb.Exec(query).Error
}

func (m *Migrator) MigrateAll() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range m.migrations {
		if err := m.Migrate(migration); err != nil {
			return err
		}
	}
	return nil
}

// Migrate applies a single migration unless it has been recorded as applied already.
func (m *Migrator) Migrate(migration Migration) error {
	name := migration.GetName()

	existing := &appliedMigration{}
	res := m.GDb.Model(&appliedMigration{}).Where("name = ?", name).First(existing)
	if res.Error == nil {
		m.Logger.Sugar().Debugw("Migration already run", zap.String("migrationName", name))
		return nil
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up migration '%s': %w", name, res.Error)
	}

	m.Logger.Sugar().Infow("Running migration", zap.String("migrationName", name))
	if err := migration.Up(m.Db, m.GDb, m.GlobalConfig); err != nil {
		m.Logger.Sugar().Errorw("Failed to run migration", zap.String("migrationName", name), zap.Error(err))
		return fmt.Errorf("failed to run migration '%s': %w", name, err)
	}

	res = m.GDb.Create(&appliedMigration{Name: name, CreatedAt: time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to record migration '%s': %w", name, res.Error)
	}
	return nil
}

// AppliedMigrations lists recorded migrations, oldest first.
func (m *Migrator) AppliedMigrations() ([]string, error) {
	names := make([]string, 0)
	res := m.GDb.Model(&appliedMigration{}).Order("created_at asc, name asc").Pluck("name", &names)
	if res.Error != nil {
		return nil, res.Error
	}
	return names, nil
}
