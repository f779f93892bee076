package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/entity"
)

const stageRunsTable = "stage_runs"

type StageRunRepository interface {
	Start(ctx context.Context, document, stage, model string) (uuid.UUID, error)
	FinishSuccess(ctx context.Context, id uuid.UUID) error
	FinishFailure(ctx context.Context, id uuid.UUID, kind, message string) error
	ListByDocument(ctx context.Context, document string, limit int) ([]entity.StageRun, error)
}

type stageRunRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

func NewStageRunRepository(db *DB, log *slog.Logger) StageRunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &stageRunRepo{db: db, log: log, now: time.Now}
}

func (r *stageRunRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.dialect)
}

func (r *stageRunRepo) Start(ctx context.Context, document, stage, model string) (uuid.UUID, error) {
	id := uuid.New()
	query, args := r.builder().
		Insert(stageRunsTable).
		Columns("id", "document", "stage", "status", "model", "started_at").
		Values(id.String(), document, stage, string(constants.StageRunStarted), model, r.now().UnixMilli()).
		Query()
	if err := r.db.drv.Exec(ctx, query, args, nil); err != nil {
		r.log.Error("stage_run start failed", "document", document, "stage", stage, "err", err)
		return uuid.Nil, err
	}
	r.log.Info("stage_run started", "run_id", id, "document", document, "stage", stage)
	return id, nil
}

func (r *stageRunRepo) FinishSuccess(ctx context.Context, id uuid.UUID) error {
	if err := r.finish(ctx, id, constants.StageRunSucceeded, "", ""); err != nil {
		r.log.Error("stage_run finish(OK) failed", "run_id", id, "err", err)
		return err
	}
	r.log.Info("stage_run finished (SUCCEEDED)", "run_id", id)
	return nil
}

func (r *stageRunRepo) FinishFailure(ctx context.Context, id uuid.UUID, kind, message string) error {
	if err := r.finish(ctx, id, constants.StageRunFailed, kind, message); err != nil {
		r.log.Error("stage_run finish(FAILED) failed", "run_id", id, "err", err)
		return err
	}
	r.log.Warn("stage_run finished (FAILED)", "run_id", id, "kind", kind, "error", message)
	return nil
}

// finish closes a STARTED run. A run is finished at most once.
func (r *stageRunRepo) finish(ctx context.Context, id uuid.UUID, status constants.StageRunStatus, kind, message string) error {
	query, args := r.builder().
		Update(stageRunsTable).
		Set("status", string(status)).
		Set("error_kind", kind).
		Set("error_message", message).
		Set("finished_at", r.now().UnixMilli()).
		Where(entsql.And(
			entsql.EQ("id", id.String()),
			entsql.EQ("status", string(constants.StageRunStarted)),
		)).
		Query()
	var res sql.Result
	if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stage run %s not open: %w", id, common.ErrNotFound)
	}
	return nil
}

// ListByDocument returns the newest runs first.
func (r *stageRunRepo) ListByDocument(ctx context.Context, document string, limit int) ([]entity.StageRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := r.builder().
		Select("id", "document", "stage", "status", "model", "error_kind", "error_message", "started_at", "finished_at").
		From(entsql.Table(stageRunsTable)).
		Where(entsql.EQ("document", document)).
		OrderBy(entsql.Desc("started_at"), entsql.Desc("id")).
		Limit(limit).
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, query, args, &rows); err != nil {
		r.log.Error("stage_run list failed", "document", document, "err", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []entity.StageRun
	for rows.Next() {
		var (
			run      entity.StageRun
			id       string
			status   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&id, &run.Document, &run.Stage, &status, &run.Model, &run.ErrorKind, &run.ErrorMessage, &started, &finished); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("stage run id %q: %w", id, err)
		}
		run.ID = parsed
		run.Status = constants.StageRunStatus(status)
		run.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
