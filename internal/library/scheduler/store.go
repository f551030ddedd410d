package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"LIBRA-backend/internal/platform/db"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/jmoiron/sqlx"
)

var dialect = goqu.Dialect("mysql")

var runColumns = []any{
	"id", "run_ulid", "job_id", "job_name", "trigger_kind", "started_at",
	"finished_at", "status", "result", "error",
}

type Store struct {
	db *sqlx.DB
}

func NewStore(conn *sqlx.DB) *Store { return &Store{db: conn} }

func (s *Store) Begin(ctx context.Context, r *Run) error {
	res, err := db.Conn(ctx, s.db).ExecContext(ctx, `
INSERT INTO reminder_runs (run_ulid, job_id, job_name, trigger_kind, started_at, status)
VALUES (?, ?, ?, ?, ?, ?)`,
		r.ULID, r.JobID, r.JobName, r.Trigger, r.StartedAt, RunRunning)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	r.Status = RunRunning
	return nil
}

func (s *Store) Finish(ctx context.Context, id int64, status RunStatus, result, errText string, at time.Time) error {
	_, err := db.Conn(ctx, s.db).ExecContext(ctx, `
UPDATE reminder_runs
SET status = ?, result = NULLIF(?, ''), error = NULLIF(?, ''), finished_at = ?
WHERE id = ? AND finished_at IS NULL`,
		status, result, errText, at, id)
	return err
}

func (s *Store) LatestSuccess(ctx context.Context, jobID string) (*Run, error) {
	q, args, err := dialect.From("reminder_runs").
		Select(runColumns...).
		Where(goqu.C("job_id").Eq(jobID), goqu.C("status").Eq(RunSuccess)).
		Order(goqu.C("started_at").Desc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var r Run
	err = sqlx.GetContext(ctx, db.Conn(ctx, s.db), &r, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecent は新しい順。jobID が空なら全ジョブ。
func (s *Store) ListRecent(ctx context.Context, jobID string, limit int) ([]Run, error) {
	ds := dialect.From("reminder_runs").
		Select(runColumns...).
		Order(goqu.C("started_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit))
	if jobID != "" {
		ds = ds.Where(goqu.C("job_id").Eq(jobID))
	}
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := []Run{}
	if err := sqlx.SelectContext(ctx, db.Conn(ctx, s.db), &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AbandonUnfinished(ctx context.Context, at time.Time) (int64, error) {
	res, err := db.Conn(ctx, s.db).ExecContext(ctx, `
UPDATE reminder_runs
SET status = ?, error = ?, finished_at = ?
WHERE finished_at IS NULL`,
		RunFailure, abandonedError, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
