// Package scheduler runs the reminder sweep and the report jobs on a cron
// schedule and records every invocation as a reminder run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"LIBRA-backend/internal/library/loans"
	"LIBRA-backend/internal/library/reminders"
	"LIBRA-backend/internal/platform/apierr"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/ids"

	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	JobDailyReminder = "daily_reminder"
	JobDailyReport   = "daily_report"
	JobMaintenance   = "maintenance"
	JobBatchRemind   = "batch_remind"
)

var jobNames = map[string]string{
	JobDailyReminder: "每日还书提醒",
	JobDailyReport:   "每日统计报告",
	JobMaintenance:   "逾期巡检",
	JobBatchRemind:   "批量催还",
}

var ErrSweepInProgress = apierr.New(apierr.CodeConflict, apierr.ReasonSweepInProgress, "a reminder sweep is already running")

// ErrStopped は Stop 後の手動実行。
var ErrStopped = apierr.New(apierr.CodeUnavailable, apierr.ReasonSchedulerStopped, "scheduler is shutting down")

// Sweeper は *reminders.Engine が実装する。
type Sweeper interface {
	Sweep(ctx context.Context) (reminders.Result, error)
	SweepOverdue(ctx context.Context) (reminders.Result, error)
}

// Reporter は *loans.Service が実装する。
type Reporter interface {
	Counts(ctx context.Context) (loans.Counts, error)
	DailyStats(ctx context.Context, from, to time.Time) (loans.DailyStats, error)
}

type Config struct {
	Location       *time.Location
	SweepHour      int
	SweepMinute    int
	ReportHour     int
	ReportMinute   int
	CatchUpOnStart bool
	// OverdueIntervalDays はレポートに載せるだけ
	OverdueIntervalDays int
}

type jobFunc func(ctx context.Context) (any, error)

type job struct {
	id      string
	spec    string
	entryID cron.EntryID
}

type JobInfo struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	PrevRun  *time.Time `json:"prev_run,omitempty"`
}

type Health struct {
	Running        bool                 `json:"running"`
	ActiveJobCount int                  `json:"active_job_count"`
	NextRunTimes   map[string]time.Time `json:"next_run_times"`
	SweepRunning   bool                 `json:"sweep_running"`
	LastRun        *RunSummary          `json:"last_run,omitempty"`
}

// Driver は main が生成して Start/Stop する。
type Driver struct {
	cfg      Config
	sweeper  Sweeper
	reporter Reporter
	runs     RunStore
	ids      ids.Generator
	clock    clock.Clock
	logger   *slog.Logger
	cron     *cron.Cron

	mu      sync.Mutex
	jobs    []job
	inited  bool
	started bool
	stopped bool

	// スイープは同時に1つだけ
	sweepMu  sync.Mutex
	sweeping atomic.Bool

	// Stop でキャンセルされる。スイープは貸出の区切りで止まる
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastRun atomic.Pointer[RunSummary]
}

type Option func(*Driver)

func WithClock(c clock.Clock) Option { return func(d *Driver) { d.clock = c } }
func WithIDGen(g ids.Generator) Option { return func(d *Driver) { d.ids = g } }
func WithLogger(l *slog.Logger) Option { return func(d *Driver) { d.logger = l } }

func NewDriver(cfg Config, sweeper Sweeper, reporter Reporter, runs RunStore, opts ...Option) *Driver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	d := &Driver{
		cfg:      cfg,
		sweeper:  sweeper,
		reporter: reporter,
		runs:     runs,
		ids:      ids.NewULID(),
		clock:    clock.NewSystem(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	cl := cronLogger{l: d.logger}
	d.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return d
}

// Init はジョブを登録する。2回目以降は何もしない。
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inited {
		return nil
	}

	specs := []struct {
		id   string
		spec string
		run  func()
	}{
		{JobDailyReminder, fmt.Sprintf("%d %d * * *", d.cfg.SweepMinute, d.cfg.SweepHour), d.scheduledSweep},
		{JobDailyReport, fmt.Sprintf("%d %d * * *", d.cfg.ReportMinute, d.cfg.ReportHour), func() {
			d.runJob(d.ctx, JobDailyReport, TriggerScheduled, d.dailyReport)
		}},
		{JobMaintenance, "@hourly", func() {
			d.runJob(d.ctx, JobMaintenance, TriggerScheduled, d.maintenance)
		}},
	}

	jobs := make([]job, 0, len(specs))
	for _, s := range specs {
		id, err := d.cron.AddFunc(s.spec, s.run)
		if err != nil {
			for _, j := range jobs {
				d.cron.Remove(j.entryID)
			}
			return fmt.Errorf("register job %s (%q): %w", s.id, s.spec, err)
		}
		jobs = append(jobs, job{id: s.id, spec: s.spec, entryID: id})
	}
	d.jobs = jobs
	d.inited = true
	return nil
}

// Start は前回プロセスの未完了実行を片付け、cron を開始し、必要なら取りこぼしたスイープを1回流す。
func (d *Driver) Start(ctx context.Context) error {
	if err := d.Init(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	now := d.clock.Now()
	if n, err := d.runs.AbandonUnfinished(ctx, now); err != nil {
		d.logger.Error("finalize unfinished runs", "err", err)
	} else if n > 0 {
		d.logger.Warn("unfinished runs marked as failed", "count", n)
	}

	d.cron.Start()
	d.logger.Info("scheduler started", "location", d.cfg.Location.String(), "jobs", len(d.jobs))

	if d.cfg.CatchUpOnStart {
		d.catchUp(ctx, now)
	}
	return nil
}

// lastScheduledSweep は now 以前で最後にスイープが予定されていた時刻。
func (d *Driver) lastScheduledSweep(now time.Time) time.Time {
	local := now.In(d.cfg.Location)
	t := time.Date(local.Year(), local.Month(), local.Day(), d.cfg.SweepHour, d.cfg.SweepMinute, 0, 0, d.cfg.Location)
	if t.After(local) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

func (d *Driver) catchUp(ctx context.Context, now time.Time) {
	due := d.lastScheduledSweep(now)
	last, err := d.runs.LatestSuccess(ctx, JobDailyReminder)
	if err != nil {
		d.logger.Error("catch-up check failed", "err", err)
		return
	}
	if last != nil && !last.StartedAt.Before(due) {
		return
	}
	d.logger.Info("missed daily reminder, running catch-up", "scheduled_at", due)

	if !d.enter() {
		return
	}
	go func() {
		defer d.wg.Done()
		if !d.sweepMu.TryLock() {
			return
		}
		defer d.sweepMu.Unlock()
		d.runJob(d.ctx, JobDailyReminder, TriggerCatchUp, d.sweep)
	}()
}

// Stop は実行中のスイープにキャンセルを伝え、ジョブの終了か ctx の期限まで待つ。
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	cronDone := d.cron.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		<-cronDone.Done()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (d *Driver) ListJobs() []JobInfo {
	d.mu.Lock()
	jobs := append([]job(nil), d.jobs...)
	d.mu.Unlock()

	now := d.clock.Now()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		e := d.cron.Entry(j.entryID)
		info := JobInfo{ID: j.id, Name: jobNames[j.id], Schedule: j.spec}
		next := e.Next
		if next.IsZero() && e.Schedule != nil {
			next = e.Schedule.Next(now.In(d.cfg.Location))
		}
		if !next.IsZero() {
			info.NextRun = &next
		}
		if !e.Prev.IsZero() {
			prev := e.Prev
			info.PrevRun = &prev
		}
		out = append(out, info)
	}
	return out
}

func (d *Driver) Health() Health {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()

	jobs := d.ListJobs()
	h := Health{
		Running:        started,
		ActiveJobCount: len(jobs),
		NextRunTimes:   make(map[string]time.Time, len(jobs)),
		SweepRunning:   d.sweeping.Load(),
		LastRun:        d.lastRun.Load(),
	}
	for _, j := range jobs {
		if j.NextRun != nil {
			h.NextRunTimes[j.ID] = *j.NextRun
		}
	}
	return h
}

// TriggerSweepNow は手動スイープ。実行中なら ErrSweepInProgress。
// リクエストが切れても止めないよう、スイープはドライバのコンテキストで走らせる。
func (d *Driver) TriggerSweepNow(ctx context.Context) (RunSummary, error) {
	return d.triggerManual(ctx, JobDailyReminder, d.sweep)
}

// TriggerOverdueNow は延滞分だけの一括催促。
func (d *Driver) TriggerOverdueNow(ctx context.Context) (RunSummary, error) {
	return d.triggerManual(ctx, JobBatchRemind, func(ctx context.Context) (any, error) {
		res, err := d.sweeper.SweepOverdue(ctx)
		return res, err
	})
}

func (d *Driver) triggerManual(ctx context.Context, jobID string, fn jobFunc) (RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return RunSummary{}, err
	}
	if !d.enter() {
		return RunSummary{}, ErrStopped
	}
	defer d.wg.Done()
	if !d.sweepMu.TryLock() {
		return RunSummary{}, ErrSweepInProgress
	}
	defer d.sweepMu.Unlock()
	return d.runJob(d.ctx, jobID, TriggerManual, fn), nil
}

// enter は Stop 前なら wg に登録して true を返す。true のときは呼び出し側が wg.Done する。
// Stop と同じロックで判定するので、Wait 開始後に Add することはない。
func (d *Driver) enter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.ctx.Err() != nil {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *Driver) ListRuns(ctx context.Context, jobID string, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	runs, err := d.runs.ListRecent(ctx, jobID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, summaryOf(r))
	}
	return out, nil
}

func (d *Driver) scheduledSweep() {
	if !d.sweepMu.TryLock() {
		d.logger.Warn("daily reminder skipped: a sweep is already running")
		return
	}
	defer d.sweepMu.Unlock()
	d.runJob(d.ctx, JobDailyReminder, TriggerScheduled, d.sweep)
}

func (d *Driver) sweep(ctx context.Context) (any, error) {
	res, err := d.sweeper.Sweep(ctx)
	return res, err
}

// dailyReport は前日分（設定タイムゾーンの暦日）の集計をログに出す。
func (d *Driver) dailyReport(ctx context.Context) (any, error) {
	local := d.clock.Now().In(d.cfg.Location)
	to := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.cfg.Location)
	from := to.AddDate(0, 0, -1)

	stats, err := d.reporter.DailyStats(ctx, from, to)
	if err != nil {
		return nil, err
	}
	d.logger.Info("daily report",
		"date", from.Format("2006-01-02"),
		"new_borrows", stats.NewBorrows,
		"returns", stats.Returns,
		"overdue", stats.Overdue,
		"total_books", stats.TotalBooks,
		"overdue_interval_days", d.cfg.OverdueIntervalDays,
	)
	return stats, nil
}

func (d *Driver) maintenance(ctx context.Context) (any, error) {
	c, err := d.reporter.Counts(ctx)
	if err != nil {
		return nil, err
	}
	if c.Overdue > 0 {
		d.logger.Warn("overdue loans present", "overdue", c.Overdue, "active", c.Active)
	} else {
		d.logger.Info("maintenance check", "active", c.Active, "overdue", 0)
	}
	return c, nil
}

// runJob はジョブ1回を実行履歴で包む。記録の失敗でジョブ自体は止めない。
func (d *Driver) runJob(ctx context.Context, jobID string, trigger Trigger, fn jobFunc) RunSummary {
	isSweep := jobID == JobDailyReminder || jobID == JobBatchRemind
	if isSweep {
		d.sweeping.Store(true)
		defer d.sweeping.Store(false)
	}

	// 履歴の書き込みは停止要求の影響を受けない
	bg := context.WithoutCancel(ctx)
	start := d.clock.Now()
	run := Run{
		ULID:      d.ids.New(start),
		JobID:     jobID,
		JobName:   jobNames[jobID],
		Trigger:   trigger,
		StartedAt: start,
		Status:    RunRunning,
	}
	log := d.logger.With("job", jobID, "run", run.ULID, "trigger", trigger)
	if err := d.runs.Begin(bg, &run); err != nil {
		log.Error("record run start", "err", err)
	}
	log.Info("job started")

	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		result, err = fn(ctx)
	}()

	finished := d.clock.Now()
	run.FinishedAt.Time, run.FinishedAt.Valid = finished, true
	run.Status = RunSuccess
	if err != nil {
		run.Status = RunFailure
		run.Error.String, run.Error.Valid = err.Error(), true
	}
	if result != nil {
		if b, merr := json.MarshalToString(result); merr == nil {
			run.Result.String, run.Result.Valid = b, true
		}
	}

	if run.ID != 0 {
		if ferr := d.runs.Finish(bg, run.ID, run.Status, run.Result.String, run.Error.String, finished); ferr != nil {
			log.Error("record run finish", "err", ferr)
		}
	}

	sum := summaryOf(run)
	sum.Result = result
	d.lastRun.Store(&sum)

	if err != nil {
		level := slog.LevelError
		if errors.Is(err, reminders.ErrSweepInterrupted) {
			level = slog.LevelWarn
		}
		log.Log(bg, level, "job failed", "elapsed", finished.Sub(start), "err", err)
	} else {
		log.Info("job finished", "elapsed", finished.Sub(start))
	}
	return sum
}

// cronLogger は cron のログを slog に流す。
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
