package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Layr-Labs/runtime-indexer/internal/config"
	"github.com/Layr-Labs/runtime-indexer/internal/tests"
	"github.com/Layr-Labs/runtime-indexer/pkg/postgres/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultSSLMode      = "disable"
	uniqueViolationCode = "23505"
)

var duplicateKeyPattern = regexp.MustCompile(`duplicate key value violates unique constraint`)

var validSSLModes = []string{
	"disable",
	"require",
	"verify-ca",
	"verify-full",
}

// PostgresConfig contains the parameters needed to connect to a PostgreSQL database.
type PostgresConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DbName   string
	// CreateDbIfNotExists creates DbName through the root "postgres" database first
	CreateDbIfNotExists bool
	SchemaName          string
	SSLMode             string
	SSLCert             string
	SSLKey              string
	SSLRootCert         string
}

type Postgres struct {
	Db *sql.DB
}

func PostgresConfigFromDbConfig(dbCfg *config.DatabaseConfig) *PostgresConfig {
	return &PostgresConfig{
		Host:        dbCfg.Host,
		Port:        dbCfg.Port,
		Username:    dbCfg.User,
		Password:    dbCfg.Password,
		DbName:      dbCfg.DbName,
		SchemaName:  dbCfg.SchemaName,
		SSLMode:     dbCfg.SSLMode,
		SSLCert:     dbCfg.SSLCert,
		SSLKey:      dbCfg.SSLKey,
		SSLRootCert: dbCfg.SSLRootCert,
	}
}

func getPostgresConnectionString(cfg *PostgresConfig) (string, error) {
	sslMode := defaultSSLMode
	if cfg.SSLMode != "" {
		if !slices.Contains(validSSLModes, cfg.SSLMode) {
			return "", fmt.Errorf("invalid ssl mode: %s. Must be one of: %s", cfg.SSLMode, strings.Join(validSSLModes, ", "))
		}
		sslMode = cfg.SSLMode
	}

	parts := []string{fmt.Sprintf("host=%s", cfg.Host)}
	if cfg.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.Username))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}
	parts = append(parts,
		fmt.Sprintf("dbname=%s", cfg.DbName),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("sslmode=%s", sslMode),
		"TimeZone=UTC",
	)
	if cfg.SchemaName != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", cfg.SchemaName))
	}
	if sslMode != defaultSSLMode {
		for key, value := range map[string]string{"sslcert": cfg.SSLCert, "sslkey": cfg.SSLKey, "sslrootcert": cfg.SSLRootCert} {
			if value != "" {
				parts = append(parts, fmt.Sprintf("%s=%s", key, value))
			}
		}
	}
	return strings.Join(parts, " "), nil
}

// getPostgresRootConnection connects to the server's "postgres" database for
// administrative statements.
func getPostgresRootConnection(cfg *PostgresConfig) (*sql.DB, error) {
	rootCfg := *cfg
	rootCfg.DbName = "postgres"
	rootCfg.SchemaName = ""

	connStr, err := getPostgresConnectionString(&rootCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection string: %w", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres database: %w", err)
	}
	return db, nil
}

func CreateDatabaseIfNotExists(cfg *PostgresConfig) error {
	rootDb, err := getPostgresRootConnection(cfg)
	if err != nil {
		return err
	}
	defer rootDb.Close()

	var exists bool
	err = rootDb.QueryRow(`SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)`, cfg.DbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("error checking if database exists: %w", err)
	}
	if exists {
		return nil
	}
	if _, err = rootDb.Exec(fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(cfg.DbName))); err != nil {
		return fmt.Errorf("error creating database: %w", err)
	}
	return nil
}

func DeleteTestDatabase(cfg *PostgresConfig, dbName string) error {
	rootDb, err := getPostgresRootConnection(cfg)
	if err != nil {
		return err
	}
	defer rootDb.Close()

	if _, err = rootDb.Exec(fmt.Sprintf("DROP DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
		return fmt.Errorf("error dropping database: %w", err)
	}
	return nil
}

func NewPostgres(cfg *PostgresConfig) (*Postgres, error) {
	if cfg.CreateDbIfNotExists {
		if err := CreateDatabaseIfNotExists(cfg); err != nil {
			return nil, fmt.Errorf("failed to create database if not exists: %w", err)
		}
	}
	connectString, err := getPostgresConnectionString(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection string: %w", err)
	}

	db, err := sql.Open("postgres", connectString)
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}
	return &Postgres{Db: db}, nil
}

func NewGormFromPostgresConnection(pgDb *sql.DB) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: pgDb,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup database: %w", err)
	}
	return db, nil
}

// ConnectAndMigrate opens the configured database and applies all pending migrations.
func ConnectAndMigrate(cfg *config.Config, l *zap.Logger) (*Postgres, *gorm.DB, error) {
	pg, err := NewPostgres(PostgresConfigFromDbConfig(&cfg.DatabaseConfig))
	if err != nil {
		return nil, nil, err
	}
	grm, err := NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.NewMigrator(pg.Db, grm, l, cfg).MigrateAll(); err != nil {
		return nil, nil, err
	}
	return pg, grm, nil
}

// GetTestPostgresDatabase creates a uniquely named database with all migrations applied.
func GetTestPostgresDatabase(cfg config.DatabaseConfig, gCfg *config.Config, l *zap.Logger) (string, *sql.DB, *gorm.DB, error) {
	testDbName, pg, grm, err := GetTestPostgresDatabaseWithoutMigrations(cfg, l)
	if err != nil {
		return testDbName, nil, nil, err
	}

	migrator := migrations.NewMigrator(pg, grm, l, gCfg)
	if err = migrator.MigrateAll(); err != nil {
		return testDbName, nil, nil, err
	}
	return testDbName, pg, grm, nil
}

func GetTestPostgresDatabaseWithoutMigrations(cfg config.DatabaseConfig, l *zap.Logger) (string, *sql.DB, *gorm.DB, error) {
	testDbName, err := tests.GenerateTestDbName()
	if err != nil {
		return testDbName, nil, nil, err
	}
	cfg.DbName = testDbName

	pgConfig := PostgresConfigFromDbConfig(&cfg)
	pgConfig.CreateDbIfNotExists = true

	pg, err := NewPostgres(pgConfig)
	if err != nil {
		return testDbName, nil, nil, err
	}
	if err := pg.Db.Ping(); err != nil {
		return testDbName, nil, nil, err
	}

	grm, err := NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return testDbName, nil, nil, err
	}
	l.Sugar().Debugw("Created test database", zap.String("dbName", testDbName))
	return testDbName, pg.Db, grm, nil
}

func TeardownTestDatabase(dbname string, cfg *config.Config, db *gorm.DB, l *zap.Logger) {
	rawDb, _ := db.DB()
	_ = rawDb.Close()

	pgConfig := PostgresConfigFromDbConfig(&cfg.DatabaseConfig)
	if err := DeleteTestDatabase(pgConfig, dbname); err != nil {
		l.Sugar().Errorw("Failed to delete test database", "error", err)
	}
}

// IsDuplicateKeyError reports whether err is a unique constraint violation, whichever
// driver produced it.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return duplicateKeyPattern.MatchString(err.Error())
}
