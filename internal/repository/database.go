package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/util/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	migrationsTable    = "ledger_schema_migrations"
	defaultPingTimeout = 5 * time.Second
)

var ErrMissingDSN = errors.New("database URI is required for postgres storage")

// accountTxOptions is used for the locked read-modify-write of one account.
// Row locks taken by FOR UPDATE make read committed sufficient.
var accountTxOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// Database owns the postgres pool behind the ledger store.
type Database struct {
	conn *sql.DB
}

type DatabaseConfig struct {
	DSN             string
	MigrationsPath  string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// NewDatabase connects, checks the server is reachable and brings the
// ledger schema up to date. The pool is closed if any step fails.
func NewDatabase(cfg DatabaseConfig) (_ *Database, err error) {
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}

	conn, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dir, err := migrationsDir(cfg.MigrationsPath)
	if err != nil {
		return nil, err
	}

	database := &Database{conn: conn}
	if err := database.Migrate(dir); err != nil {
		return nil, err
	}
	return database, nil
}

func migrationsDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("migrations directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations path %s is not a directory", abs)
	}
	return abs, nil
}

// Migrate applies pending migrations from dir. The version table is kept
// apart from other services sharing the database.
func (d *Database) Migrate(dir string) error {
	driver, err := postgres.WithInstance(d.conn, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Log.Info("Ledger schema ready", zap.Uint("version", version))
	return nil
}

func (d *Database) Close() error {
	return d.conn.Close()
}

func (d *Database) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return d.conn.BeginTx(ctx, opts)
}

// InTx runs fn inside a transaction and commits when it returns nil.
// Errors from fn are returned unwrapped.
func (d *Database) InTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
