package loans

import (
	"database/sql"
	"time"

	"LIBRA-backend/internal/platform/apierr"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"
)

type ReturnMethod string

const (
	ReturnByUser  ReturnMethod = "user"
	ReturnByAdmin ReturnMethod = "admin"
)

// DefaultLoanPeriod は貸出期間。返却期限 = 貸出日時 + 30日。
const DefaultLoanPeriod = 30 * 24 * time.Hour

// Loan は borrow_records の1行。BookTitle / RecipientID は JOIN で埋まる。
type Loan struct {
	ID           int64          `db:"id"`
	ULID         string         `db:"loan_ulid"`
	UserID       int64          `db:"user_id"`
	BookISBN     string         `db:"book_isbn"`
	BookTitle    string         `db:"book_title"`
	RecipientID  string         `db:"recipient_id"`
	Status       Status         `db:"status"`
	BorrowedAt   time.Time      `db:"borrowed_at"`
	DueDate      time.Time      `db:"due_date"`
	ReturnedAt   sql.NullTime   `db:"returned_at"`
	ReturnMethod sql.NullString `db:"return_method"`
	Notes        sql.NullString `db:"notes"`
	RemindCount  int            `db:"remind_count"`
	LastRemindAt sql.NullTime   `db:"last_remind_at"`
}

// IsOverdue: 貸出中かつ期限が now より前。
func IsOverdue(l Loan, now time.Time) bool {
	return l.Status == StatusActive && l.DueDate.Before(now)
}

// Actor は操作主体。管理者は他人の貸出も返却できる。
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// ActiveFilter の境界はどちらも含む。
type ActiveFilter struct {
	DueAfter  *time.Time
	DueBefore *time.Time
}

// StatusFilter は一覧の絞り込み。overdue は active かつ期限切れ。
type StatusFilter string

const (
	FilterActive   StatusFilter = "active"
	FilterReturned StatusFilter = "returned"
	FilterOverdue  StatusFilter = "overdue"
	FilterAll      StatusFilter = "all"
)

func ParseStatusFilter(s string, def StatusFilter) (StatusFilter, error) {
	if s == "" {
		return def, nil
	}
	switch f := StatusFilter(s); f {
	case FilterActive, FilterReturned, FilterOverdue, FilterAll:
		return f, nil
	}
	return "", apierr.ErrInvalid("status must be one of active, returned, overdue, all")
}

type ListFilter struct {
	UserID *int64
	ISBN   *string
	Status StatusFilter
	Now    time.Time
	Limit  int
	Offset int
}

type Counts struct {
	Active   int64 `db:"active" json:"active"`
	Returned int64 `db:"returned" json:"returned"`
	Overdue  int64 `db:"overdue" json:"overdue"`
}

// DailyStats は [From, To) の集計と、To 時点の延滞数。
type DailyStats struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	NewBorrows int64     `db:"new_borrows" json:"new_borrows"`
	Returns    int64     `db:"returned_count" json:"returns"`
	Overdue    int64     `db:"overdue" json:"overdue"`
	TotalBooks int64     `db:"total_books" json:"total_books"`
}

type ActivityAction string

const (
	ActionBorrow ActivityAction = "borrow"
	ActionReturn ActivityAction = "return"
)

// Activity は管理画面の最近の動き。1貸出につき最新の状態だけを表す。
type Activity struct {
	LoanID    int64          `json:"loan_id"`
	UserID    int64          `json:"user_id"`
	BookISBN  string         `json:"book_isbn"`
	BookTitle string         `json:"book_title"`
	Action    ActivityAction `json:"action"`
	At        time.Time      `json:"at"`
}

// UserLoanSummary は1ユーザーの貸出件数。
type UserLoanSummary struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Returned int `json:"returned"`
	Overdue  int `json:"overdue"`
}

func summarize(items []Loan, now time.Time) UserLoanSummary {
	sum := UserLoanSummary{Total: len(items)}
	for _, l := range items {
		switch l.Status {
		case StatusActive:
			sum.Active++
			if IsOverdue(l, now) {
				sum.Overdue++
			}
		case StatusReturned:
			sum.Returned++
		}
	}
	return sum
}

var (
	ErrLoanNotFound    = apierr.New(apierr.CodeNotFound, apierr.ReasonLoanNotFound, "loan not found")
	ErrNotOwner        = apierr.New(apierr.CodeForbidden, apierr.ReasonNotOwner, "loan belongs to another user")
	ErrAlreadyReturned = apierr.New(apierr.CodeConflict, apierr.ReasonAlreadyReturned, "loan already returned")
	ErrAlreadyBorrowed = apierr.New(apierr.CodeConflict, apierr.ReasonAlreadyBorrowed, "book already borrowed by this user")
	ErrLoanNotActive   = apierr.New(apierr.CodeConflict, apierr.ReasonLoanNotActive, "loan is not active")
	ErrUserNotFound    = apierr.New(apierr.CodeNotFound, apierr.ReasonUserNotFound, "user not found")
)
