package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LIBRA-backend/internal/library/loans"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/platform/clock"
)

// LoanSource は *loans.Service が実装する。
type LoanSource interface {
	ListActiveLoans(ctx context.Context, f loans.ActiveFilter) ([]loans.Loan, error)
	Get(ctx context.Context, loanID int64) (loans.Loan, error)
	MarkReminded(ctx context.Context, loanID int64, at time.Time) error
}

var ErrSweepInterrupted = errors.New("sweep interrupted")

const reasonPanic notify.Reason = "panic"

// Result は1回のスイープの集計。
type Result struct {
	Qualified  int                   `json:"qualified"`
	DueSoon    int                   `json:"due_soon"`
	Overdue    int                   `json:"overdue"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
	Skipped    int                   `json:"skipped"`
	Abandoned  int                   `json:"abandoned"`
	MarkErrors int                   `json:"mark_errors"`
	Failures   map[notify.Reason]int `json:"failures,omitempty"`
}

func (r Result) String() string {
	s := fmt.Sprintf("qualified=%d due_soon=%d overdue=%d sent=%d failed=%d skipped=%d abandoned=%d",
		r.Qualified, r.DueSoon, r.Overdue, r.Sent, r.Failed, r.Skipped, r.Abandoned)
	if r.MarkErrors > 0 {
		s += fmt.Sprintf(" mark_errors=%d", r.MarkErrors)
	}
	if len(r.Failures) > 0 {
		parts := make([]string, 0, len(r.Failures))
		for _, reason := range []notify.Reason{notify.ReasonNotSubscribed, notify.ReasonTransient, notify.ReasonRejected, reasonPanic} {
			if n := r.Failures[reason]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s:%d", reason, n))
			}
		}
		s += " failures=" + strings.Join(parts, ",")
	}
	return s
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

type Engine struct {
	loans   LoanSource
	sender  notify.Sender
	policy  Policy
	clock   clock.Clock
	timeout time.Duration
	dedupe  time.Duration
	logger  *slog.Logger
}

type Option func(*Engine)

func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithDeliveryTimeout は1件あたりの送信タイムアウト。
func WithDeliveryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithDedupeWindow: last_remind_at がこの時間内なら送信しない。0 で無効。
func WithDedupeWindow(d time.Duration) Option {
	return func(e *Engine) { e.dedupe = d }
}

func NewEngine(src LoanSource, sender notify.Sender, opts ...Option) *Engine {
	e := &Engine{
		loans:   src,
		sender:  sender,
		policy:  DefaultPolicy(),
		clock:   clock.NewSystem(),
		timeout: 10 * time.Second,
		dedupe:  20 * time.Hour,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates は now 時点で通知対象になる貸出。ストアへの問い合わせは1回。
func (e *Engine) Candidates(ctx context.Context, now time.Time) ([]Notice, error) {
	_, until := e.policy.DueSoonWindow(now)
	active, err := e.loans.ListActiveLoans(ctx, loans.ActiveFilter{DueBefore: &until})
	if err != nil {
		return nil, err
	}
	return e.policy.Evaluate(now, active), nil
}

// Sweep は期限間近・延滞の両方を通知する。
func (e *Engine) Sweep(ctx context.Context) (Result, error) {
	return e.sweep(ctx, nil)
}

// SweepOverdue は延滞分だけを通知する（管理者の一括催促）。
func (e *Engine) SweepOverdue(ctx context.Context) (Result, error) {
	return e.sweep(ctx, func(n Notice) bool { return n.Kind == notify.KindOverdue })
}

func (e *Engine) sweep(ctx context.Context, keep func(Notice) bool) (Result, error) {
	now := e.clock.Now()
	notices, err := e.Candidates(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("query candidates: %w", err)
	}
	if keep != nil {
		kept := notices[:0]
		for _, n := range notices {
			if keep(n) {
				kept = append(kept, n)
			}
		}
		notices = kept
	}

	res := Result{Qualified: len(notices)}
	for _, n := range notices {
		if n.Kind == notify.KindOverdue {
			res.Overdue++
		} else {
			res.DueSoon++
		}
	}

	for i, n := range notices {
		// 中断は貸出と貸出の間でのみ確認する
		if err := ctx.Err(); err != nil {
			res.Abandoned = len(notices) - i
			e.logger.Warn("sweep interrupted", "abandoned", res.Abandoned, "err", err)
			return res, fmt.Errorf("%w: %d notices left: %w", ErrSweepInterrupted, res.Abandoned, err)
		}

		out, reason, markErr := e.deliverOne(ctx, now, n)
		switch out {
		case outcomeSent:
			res.Sent++
			if markErr {
				res.MarkErrors++
			}
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
			if res.Failures == nil {
				res.Failures = map[notify.Reason]int{}
			}
			res.Failures[reason]++
		}
	}

	e.logger.Info("sweep finished", "result", res.String())
	return res, nil
}

// deliverOne は1件の送信。panic も含めてこの中で止め、バッチ全体は続行する。
func (e *Engine) deliverOne(ctx context.Context, now time.Time, n Notice) (out outcome, reason notify.Reason, markErr bool) {
	log := e.logger.With("loan_id", n.Loan.ID, "kind", n.Kind, "days", n.Days)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while delivering reminder", "panic", r)
			out, reason, markErr = outcomeFailed, reasonPanic, false
		}
	}()

	if e.dedupe > 0 && n.Loan.LastRemindAt.Valid && now.Sub(n.Loan.LastRemindAt.Time) < e.dedupe {
		log.Debug("reminder skipped: notified recently", "last_remind_at", n.Loan.LastRemindAt.Time)
		return outcomeSkipped, "", false
	}

	// 停止要求が来ても処理中の1件は送信と記録まで終える
	detached := context.WithoutCancel(ctx)
	dctx, cancel := context.WithTimeout(detached, e.timeout)
	defer cancel()

	if err := e.sender.Deliver(dctx, n.Loan.RecipientID, n.Kind, n.Payload()); err != nil {
		r := notify.ReasonOf(err)
		log.Warn("reminder delivery failed", "reason", r, "err", err)
		return outcomeFailed, r, false
	}
	if err := e.loans.MarkReminded(detached, n.Loan.ID, e.clock.Now()); err != nil {
		log.Error("reminder sent but not recorded", "err", err)
		return outcomeSent, "", true
	}
	return outcomeSent, "", false
}

// RemindOne は管理者の手動催促。重複抑止は行わない。
func (e *Engine) RemindOne(ctx context.Context, loanID int64) (Notice, error) {
	l, err := e.loans.Get(ctx, loanID)
	if err != nil {
		return Notice{}, err
	}
	if l.Status != loans.StatusActive {
		return Notice{}, loans.ErrLoanNotActive
	}

	now := e.clock.Now()
	n := Notice{Loan: l, Kind: notify.KindDueSoon, Days: DaysLeft(l.DueDate, now)}
	if loans.IsOverdue(l, now) {
		n.Kind, n.Days = notify.KindOverdue, OverdueDays(l.DueDate, now)
	}

	dctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.sender.Deliver(dctx, l.RecipientID, n.Kind, n.Payload()); err != nil {
		e.logger.Warn("manual reminder failed", "loan_id", loanID, "reason", notify.ReasonOf(err), "err", err)
		return n, err
	}
	if err := e.loans.MarkReminded(context.WithoutCancel(ctx), loanID, e.clock.Now()); err != nil {
		return n, err
	}
	e.logger.Info("manual reminder sent", "loan_id", loanID, "kind", n.Kind)
	return n, nil
}
