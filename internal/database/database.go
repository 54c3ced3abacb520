package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"sync"

	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/constants"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	// driverName is go-sqlite3 with connPragmas applied on every new connection.
	driverName = "sqlite3_stronghold"
	// sqlxDriver only selects the bind variable style.
	sqlxDriver = "sqlite3"
)

type pragma struct {
	name  string
	value string
}

// Connection-scoped settings. Database-scoped ones (WAL, foreign keys, busy
// timeout, tx lock mode) go in the DSN.
var connPragmas = []pragma{
	{"synchronous", "NORMAL"},
	{"cache_size", "-64000"},
	{"temp_store", "MEMORY"},
	{"mmap_size", "268435456"}, // 256MB https://sqlite.org/mmap.html
}

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				for _, p := range connPragmas {
					if _, err := conn.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value), nil); err != nil {
						return fmt.Errorf("failed to set PRAGMA %s: %w", p.name, err)
					}
				}
				return nil
			},
		})
	})
}

func dsn(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", strconv.Itoa(constants.DBBusyTimeoutMs))
	// writers take the lock up front and wait on busy_timeout instead of
	// failing when a read transaction upgrades
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

func New(cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	return Open(cfg.DBPath, logger)
}

// Open connects to the SQLite file at path and applies pending migrations.
func Open(path string, logger zerolog.Logger) (*sql.DB, error) {
	logger.Info().Str("path", path).Msg("connecting to database")
	registerDriver()

	db, err := sql.Open(driverName, dsn(path))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(constants.DBMaxOpenConns)
	db.SetMaxIdleConns(constants.DBMaxIdleConns)
	db.SetConnMaxLifetime(constants.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(constants.DBMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()

	// the first connection runs the hook, so a bad pragma fails here
	if err := db.PingContext(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to open SQLite connection")
		db.Close()
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := migrate(ctx, db, logger); err != nil {
		logger.Error().Err(err).Msg("failed to run migrations")
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Int("pragmas", len(connPragmas)).Msg("database ready")
	return db, nil
}

// NewSQLX wraps the pool for the repositories.
func NewSQLX(sqlDB *sql.DB) *sqlx.DB {
	return sqlx.NewDb(sqlDB, sqlxDriver)
}

func migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		logger.Info().
			Int64("version", r.Source.Version).
			Str("file", r.Source.Path).
			Dur("took", r.Duration).
			Msg("migration applied")
	}
	if len(results) == 0 {
		logger.Debug().Msg("schema up to date")
	}
	return nil
}
