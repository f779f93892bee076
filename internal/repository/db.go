package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver           string // sqlite or postgres
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is the run history database. Queries go through ent's SQL driver so
// the same builders serve both dialects.
type DB struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool
	log     *slog.Logger
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		d   *DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite", dialect.SQLite:
		d, err = openSQLite(cfg, logger)
	case dialect.Postgres:
		d, err = openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported run history driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, err
	}
	logger.Info("successfully connected to database", "driver", d.dialect)
	return d, nil
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("opening sqlite database", "dsn", cfg.DSN)
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{drv: entsql.OpenDB(dialect.SQLite, db), dialect: dialect.SQLite, log: logger}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "doc-enricher"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout(cfg.DialTimeout))
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, err
	}

	// Wrap pool as *sql.DB for ent
	db := stdlib.OpenDBFromPool(pool)
	return &DB{drv: entsql.OpenDB(dialect.Postgres, db), dialect: dialect.Postgres, pool: pool, log: logger}, nil
}

func dialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 3 * time.Second
	}
	return d
}

const schemaStageRuns = `CREATE TABLE IF NOT EXISTS stage_runs (
	id            TEXT PRIMARY KEY,
	document      TEXT NOT NULL,
	stage         TEXT NOT NULL,
	status        TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at    BIGINT NOT NULL,
	finished_at   BIGINT
)`

const schemaStageRunsIndex = `CREATE INDEX IF NOT EXISTS stage_runs_document_idx ON stage_runs (document, started_at)`

// Migrate creates the tables if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schemaStageRuns, schemaStageRunsIndex} {
		if err := d.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("migrate run history: %w", err)
		}
	}
	return nil
}

// Dialect is the ent dialect name of the connection.
func (d *DB) Dialect() string { return d.dialect }

// Close closes the database connections gracefully
func (d *DB) Close() {
	d.log.Info("closing database connections")
	if err := d.drv.Close(); err != nil {
		d.log.Error("failed to close database driver", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.log.Info("database connections closed")
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	d.log.Debug("pinging database")
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.drv.DB().PingContext(ctx)
}
