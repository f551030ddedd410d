package loans

import (
	"context"
	"log/slog"
	"time"

	"LIBRA-backend/internal/library/inventory"
	"LIBRA-backend/internal/platform/apierr"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/ids"
)

// ===== インターフェース群 =====

// Repository は borrow_records の永続化。*Store が実装する。
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindActive(ctx context.Context, userID int64, isbn string) (*Loan, error)
	Insert(ctx context.Context, l *Loan) error
	GetForUpdate(ctx context.Context, id int64) (Loan, error)
	Get(ctx context.Context, id int64) (Loan, error)
	MarkReturned(ctx context.Context, id int64, at time.Time, method ReturnMethod) error
	MarkReminded(ctx context.Context, id int64, at time.Time) error
	ListActive(ctx context.Context, f ActiveFilter) ([]Loan, error)
	List(ctx context.Context, f ListFilter) ([]Loan, error)
	Counts(ctx context.Context, now time.Time) (Counts, error)
	DailyStats(ctx context.Context, from, to, now time.Time) (DailyStats, error)
}

// Ledger は在庫の確保/戻し。*inventory.Ledger が実装する。
type Ledger interface {
	Reserve(ctx context.Context, isbn string) (inventory.Book, error)
	Release(ctx context.Context, isbn string) (inventory.Book, error)
}

// ===== Service本体 =====

type Service struct {
	repo   Repository
	ledger Ledger
	clock  clock.Clock
	ids    ids.Generator
	logger *slog.Logger
	period time.Duration
	loc    *time.Location
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }
func WithIDGen(g ids.Generator) Option { return func(s *Service) { s.ids = g } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithLoanPeriod(d time.Duration) Option { return func(s *Service) { s.period = d } }

// WithLocation は日次集計の「今日」を区切るタイムゾーン。スケジューラと同じものを渡す。
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(repo Repository, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		ledger: ledger,
		clock:  clock.NewSystem(),
		ids:    ids.NewULID(),
		logger: slog.Default(),
		period: DefaultLoanPeriod,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now はサービスの時計。ハンドラのレスポンス整形で使う。
func (s *Service) Now() time.Time { return s.clock.Now() }

// Checkout は貸出。在庫確保 → 二重貸出チェック → 登録 を1Txで行う。
// いずれかで失敗すれば全てロールバックされる。
func (s *Service) Checkout(ctx context.Context, userID int64, isbn string) (Loan, error) {
	if userID <= 0 {
		return Loan{}, apierr.ErrInvalid("user_id is required")
	}
	isbn, err := inventory.NormalizeISBN(isbn)
	if err != nil {
		return Loan{}, err
	}

	now := s.clock.Now()
	var out Loan
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		book, err := s.ledger.Reserve(ctx, isbn)
		if err != nil {
			return err
		}

		existing, err := s.repo.FindActive(ctx, userID, isbn)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyBorrowed
		}

		l := Loan{
			ULID:       s.ids.New(now),
			UserID:     userID,
			BookISBN:   isbn,
			BookTitle:  book.Title,
			Status:     StatusActive,
			BorrowedAt: now,
			DueDate:    now.Add(s.period),
		}
		if err := s.repo.Insert(ctx, &l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return Loan{}, err
	}

	s.logger.InfoContext(ctx, "book checked out",
		"loan_id", out.ID, "user_id", userID, "isbn", isbn, "due_date", out.DueDate)
	return out, nil
}

// Return は返却。管理者が他人の貸出を返却した場合は return_method=admin。
func (s *Service) Return(ctx context.Context, loanID int64, actor Actor) (Loan, error) {
	if loanID <= 0 {
		return Loan{}, apierr.ErrInvalid("loan id must be > 0")
	}

	now := s.clock.Now()
	var out Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		l, err := s.repo.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if l.UserID != actor.UserID && !actor.IsAdmin {
			return ErrNotOwner
		}
		if l.Status != StatusActive {
			return ErrAlreadyReturned
		}

		method := ReturnByUser
		if actor.IsAdmin && l.UserID != actor.UserID {
			method = ReturnByAdmin
		}
		if err := s.repo.MarkReturned(ctx, l.ID, now, method); err != nil {
			return err
		}
		if _, err := s.ledger.Release(ctx, l.BookISBN); err != nil {
			return err
		}

		l.Status = StatusReturned
		l.ReturnedAt.Time, l.ReturnedAt.Valid = now, true
		l.ReturnMethod.String, l.ReturnMethod.Valid = string(method), true
		out = l
		return nil
	})
	if err != nil {
		return Loan{}, err
	}

	s.logger.InfoContext(ctx, "book returned",
		"loan_id", out.ID, "user_id", out.UserID, "isbn", out.BookISBN, "method", out.ReturnMethod.String)
	return out, nil
}

// ListMine は本人の貸出一覧。status は active / returned / all。
func (s *Service) ListMine(ctx context.Context, userID int64, status StatusFilter) ([]Loan, error) {
	if status == FilterOverdue {
		return nil, apierr.ErrInvalid("status must be one of active, returned, all")
	}
	return s.repo.List(ctx, ListFilter{UserID: &userID, Status: status, Now: s.clock.Now()})
}

// ListActiveLoans は期限範囲で絞った貸出中一覧（本のタイトルと通知先つき）。
func (s *Service) ListActiveLoans(ctx context.Context, f ActiveFilter) ([]Loan, error) {
	if f.DueAfter != nil && f.DueBefore != nil && f.DueAfter.After(*f.DueBefore) {
		return nil, apierr.ErrInvalid("due_after must not be after due_before")
	}
	return s.repo.ListActive(ctx, f)
}

func (s *Service) Get(ctx context.Context, loanID int64) (Loan, error) {
	if loanID <= 0 {
		return Loan{}, apierr.ErrInvalid("loan id must be > 0")
	}
	return s.repo.Get(ctx, loanID)
}

// MarkReminded は通知成功の記録。返却済みなら ErrLoanNotActive。
func (s *Service) MarkReminded(ctx context.Context, loanID int64, at time.Time) error {
	return s.repo.MarkReminded(ctx, loanID, at)
}

// ListAdmin は管理者向けの一覧。
func (s *Service) ListAdmin(ctx context.Context, status StatusFilter, limit, offset int) ([]Loan, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, ListFilter{Status: status, Now: s.clock.Now(), Limit: limit, Offset: offset})
}

// BookHistory は1冊の貸出履歴（新しい順）。
func (s *Service) BookHistory(ctx context.Context, isbn string) ([]Loan, error) {
	isbn, err := inventory.NormalizeISBN(isbn)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, ListFilter{ISBN: &isbn, Status: FilterAll, Now: s.clock.Now()})
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return s.repo.Counts(ctx, s.clock.Now())
}

// DailyStats は [from, to) の貸出・返却数と現時点の延滞数。
func (s *Service) DailyStats(ctx context.Context, from, to time.Time) (DailyStats, error) {
	if !from.Before(to) {
		return DailyStats{}, apierr.ErrInvalid("from must be before to")
	}
	return s.repo.DailyStats(ctx, from, to, s.clock.Now())
}

// TodayStats は設定タイムゾーンでの今日 0:00 から 24 時間の集計。
func (s *Service) TodayStats(ctx context.Context) (DailyStats, error) {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return s.DailyStats(ctx, from, from.AddDate(0, 0, 1))
}

// exportBatch は CSV 出力で1回に読む件数。
const exportBatch = 500

// ExportAll は CSV 用に該当する全件を exportBatch 件ずつ読み出す。
func (s *Service) ExportAll(ctx context.Context, status StatusFilter) ([]Loan, error) {
	now := s.clock.Now()
	var all []Loan
	for offset := 0; ; offset += exportBatch {
		page, err := s.repo.List(ctx, ListFilter{Status: status, Now: now, Limit: exportBatch, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportBatch {
			return all, nil
		}
	}
}

// UserLoans は管理者が見る1ユーザーの全貸出（新しい順）。
func (s *Service) UserLoans(ctx context.Context, userID int64) ([]Loan, error) {
	if userID <= 0 {
		return nil, apierr.ErrInvalid("user id must be > 0")
	}
	return s.repo.List(ctx, ListFilter{UserID: &userID, Status: FilterAll, Now: s.clock.Now()})
}

// RecentActivities は直近の貸出・返却を新しい順に返す。
func (s *Service) RecentActivities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	items, err := s.repo.List(ctx, ListFilter{Status: FilterAll, Now: s.clock.Now(), Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Activity, 0, len(items))
	for _, l := range items {
		a := Activity{
			LoanID:    l.ID,
			UserID:    l.UserID,
			BookISBN:  l.BookISBN,
			BookTitle: l.BookTitle,
			Action:    ActionBorrow,
			At:        l.BorrowedAt,
		}
		if l.Status == StatusReturned && l.ReturnedAt.Valid {
			a.Action, a.At = ActionReturn, l.ReturnedAt.Time
		}
		out = append(out, a)
	}
	return out, nil
}
