package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/repository"
)

// ConnectRunHistory opens the stage run database. An empty DSN disables run
// history and returns nil values.
func ConnectRunHistory(ctx context.Context, cfg common.RunHistoryConfig, logger *slog.Logger) (*repository.DB, repository.StageRunRepository, error) {
	if cfg.DSN == "" {
		logger.Info("run history disabled")
		return nil, nil, nil
	}

	logger.Info("connecting to run history database", "driver", cfg.Driver)
	db, err := repository.Open(ctx, repository.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     cfg.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to run history database", "error", err)
		return nil, nil, err
	}

	logger.Info("successfully connected to run history database", "dialect", db.Dialect())
	return db, repository.NewStageRunRepository(db, logger), nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repository.DB, logger *slog.Logger, timeout time.Duration) error {
	if db == nil {
		return nil
	}
	logger.Debug("pinging database")
	if err := db.HealthCheck(ctx, timeout); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repository.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	logger.Info("closing database connections")
	db.Close()
	logger.Info("database connections closed")
}
