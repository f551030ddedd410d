package scheduler

import (
	"context"
	"database/sql"
	"time"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerCatchUp   Trigger = "catch_up"
)

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// 起動時に見つかった未完了の実行に付けるエラー
const abandonedError = "abandoned: process exited before the run finished"

// Run は reminder_runs の1行。ジョブ1回の実行に対応する。
type Run struct {
	ID         int64          `db:"id"`
	ULID       string         `db:"run_ulid"`
	JobID      string         `db:"job_id"`
	JobName    string         `db:"job_name"`
	Trigger    Trigger        `db:"trigger_kind"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
	Status     RunStatus      `db:"status"`
	Result     sql.NullString `db:"result"`
	Error      sql.NullString `db:"error"`
}

// RunStore は実行履歴の永続化。
type RunStore interface {
	Begin(ctx context.Context, r *Run) error
	// Finish は未完了の実行だけを確定する。
	Finish(ctx context.Context, id int64, status RunStatus, result, errText string, at time.Time) error
	// LatestSuccess は成功した最新の実行。無ければ nil。
	LatestSuccess(ctx context.Context, jobID string) (*Run, error)
	ListRecent(ctx context.Context, jobID string, limit int) ([]Run, error)
	AbandonUnfinished(ctx context.Context, at time.Time) (int64, error)
}

// RunSummary は API とログ向けの実行結果。
type RunSummary struct {
	RunID      string     `json:"run_id"`
	JobID      string     `json:"job_id"`
	JobName    string     `json:"job_name"`
	Trigger    Trigger    `json:"trigger"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func summaryOf(r Run) RunSummary {
	s := RunSummary{
		RunID:     r.ULID,
		JobID:     r.JobID,
		JobName:   r.JobName,
		Trigger:   r.Trigger,
		Status:    r.Status,
		StartedAt: r.StartedAt,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		s.FinishedAt = &t
	}
	if r.Result.Valid && r.Result.String != "" {
		var v any
		if err := json.UnmarshalFromString(r.Result.String, &v); err == nil {
			s.Result = v
		} else {
			s.Result = r.Result.String
		}
	}
	if r.Error.Valid {
		s.Error = r.Error.String
	}
	return s
}
