package reminders

import (
	"time"

	"LIBRA-backend/internal/library/loans"
	"LIBRA-backend/internal/notify"
)

const day = 24 * time.Hour

// Policy は「いつ通知するか」だけを決める。時刻と期限以外は見ない。
type Policy struct {
	RemindBeforeDays int
}

func DefaultPolicy() Policy { return Policy{RemindBeforeDays: 3} }

// DueSoonWindow は期限間近とみなす期限の範囲 [now+(N-1)d, now+(N+1)d]。
func (p Policy) DueSoonWindow(now time.Time) (from, to time.Time) {
	n := time.Duration(p.RemindBeforeDays)
	return now.Add((n - 1) * day), now.Add((n + 1) * day)
}

func (p Policy) IsDueSoon(due, now time.Time) bool {
	from, to := p.DueSoonWindow(now)
	return !due.Before(from) && !due.After(to)
}

// OverdueDays は期限からの経過日数（切り捨て）。期限前なら 0。
func OverdueDays(due, now time.Time) int {
	if !due.Before(now) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// DaysLeft は期限までの日数（切り捨て、0 未満にはしない）。
func DaysLeft(due, now time.Time) int {
	if !due.After(now) {
		return 0
	}
	return int(due.Sub(now) / day)
}

// ShouldNotifyOverdue: 0,3,7 日目、以降は7日ごと。
func ShouldNotifyOverdue(days int) bool {
	switch {
	case days == 0, days == 3, days == 7:
		return true
	case days > 7:
		return days%7 == 0
	}
	return false
}

// Notice は1件の通知予定。
type Notice struct {
	Loan loans.Loan
	Kind notify.TemplateKind
	Days int
}

func (n Notice) Payload() notify.Payload {
	return notify.Payload{
		Title:     n.Loan.BookTitle,
		DueDate:   n.Loan.DueDate.Format("2006-01-02"),
		DaysValue: n.Days,
	}
}

// Classify は1件の貸出を判定する。延滞判定が期限間近より優先。
func (p Policy) Classify(l loans.Loan, now time.Time) (Notice, bool) {
	if l.Status != loans.StatusActive {
		return Notice{}, false
	}
	if l.DueDate.Before(now) {
		days := OverdueDays(l.DueDate, now)
		if !ShouldNotifyOverdue(days) {
			return Notice{}, false
		}
		return Notice{Loan: l, Kind: notify.KindOverdue, Days: days}, true
	}
	if p.IsDueSoon(l.DueDate, now) {
		return Notice{Loan: l, Kind: notify.KindDueSoon, Days: DaysLeft(l.DueDate, now)}, true
	}
	return Notice{}, false
}

// Evaluate は純粋関数。同じ now と貸出一覧なら常に同じ結果を返す。
func (p Policy) Evaluate(now time.Time, active []loans.Loan) []Notice {
	var out []Notice
	for _, l := range active {
		if n, ok := p.Classify(l, now); ok {
			out = append(out, n)
		}
	}
	return out
}
