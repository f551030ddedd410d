package loans

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"LIBRA-backend/internal/platform/db"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/jmoiron/sqlx"
)

var dialect = goqu.Dialect("mysql")

type Store struct {
	db *sqlx.DB
}

func NewStore(conn *sqlx.DB) *Store { return &Store{db: conn} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, s.db, nil, fn)
}

const loanSelect = `
SELECT br.id, br.loan_ulid, br.user_id, br.book_isbn, b.title AS book_title, u.openid AS recipient_id,
       br.status, br.borrowed_at, br.due_date, br.returned_at, br.return_method, br.notes,
       br.remind_count, br.last_remind_at
FROM borrow_records br
JOIN books b ON b.isbn = br.book_isbn
JOIN users u ON u.id = br.user_id`

// goqu 用の同じ列セット
var loanColumns = []any{
	goqu.I("br.id"), goqu.I("br.loan_ulid"), goqu.I("br.user_id"), goqu.I("br.book_isbn"),
	goqu.I("b.title").As("book_title"), goqu.I("u.openid").As("recipient_id"),
	goqu.I("br.status"), goqu.I("br.borrowed_at"), goqu.I("br.due_date"), goqu.I("br.returned_at"),
	goqu.I("br.return_method"), goqu.I("br.notes"), goqu.I("br.remind_count"), goqu.I("br.last_remind_at"),
}

func loanDataset() *goqu.SelectDataset {
	return dialect.From(goqu.T("borrow_records").As("br")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.isbn").Eq(goqu.I("br.book_isbn")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("br.user_id")))).
		Select(loanColumns...)
}

// FindActive は (user, isbn) の貸出中レコードを返す。無ければ nil。
// books 行のロック後に呼ぶこと。同じ本の貸出処理はそこで直列化される。
func (s *Store) FindActive(ctx context.Context, userID int64, isbn string) (*Loan, error) {
	var l Loan
	err := sqlx.GetContext(ctx, db.Conn(ctx, s.db), &l,
		loanSelect+` WHERE br.user_id = ? AND br.book_isbn = ? AND br.status = 'active' LIMIT 1`, userID, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) Insert(ctx context.Context, l *Loan) error {
	const q = `
	INSERT INTO borrow_records
	(loan_ulid, user_id, book_isbn, status, borrowed_at, due_date, notes, remind_count)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, 0)`

	res, err := db.Conn(ctx, s.db).ExecContext(ctx, q,
		l.ULID, l.UserID, l.BookISBN, string(StatusActive), l.BorrowedAt, l.DueDate, l.Notes)
	if err != nil {
		switch {
		case db.IsDuplicateKey(err) && strings.Contains(err.Error(), "uq_borrow_active_pair"):
			return ErrAlreadyBorrowed
		case db.IsForeignKeyViolation(err):
			return ErrUserNotFound
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// GetForUpdate は貸出行だけをロックする（books/users はロックしない）。
func (s *Store) GetForUpdate(ctx context.Context, id int64) (Loan, error) {
	if !db.InTx(ctx) {
		return Loan{}, errors.New("loans: GetForUpdate requires a transaction")
	}
	var l Loan
	err := sqlx.GetContext(ctx, db.Conn(ctx, s.db), &l, loanSelect+` WHERE br.id = ? FOR UPDATE OF br`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Loan{}, ErrLoanNotFound
	}
	return l, err
}

func (s *Store) Get(ctx context.Context, id int64) (Loan, error) {
	var l Loan
	err := sqlx.GetContext(ctx, db.Conn(ctx, s.db), &l, loanSelect+` WHERE br.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Loan{}, ErrLoanNotFound
	}
	return l, err
}

func (s *Store) MarkReturned(ctx context.Context, id int64, at time.Time, method ReturnMethod) error {
	const q = `
		UPDATE borrow_records
		SET status = 'returned', returned_at = ?, return_method = ?
		WHERE id = ? AND status = 'active'`
	res, err := db.Conn(ctx, s.db).ExecContext(ctx, q, at, string(method), id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrAlreadyReturned
	}
	return nil
}

func (s *Store) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	const q = `
		UPDATE borrow_records
		SET remind_count = remind_count + 1, last_remind_at = ?
		WHERE id = ? AND status = 'active'`
	res, err := db.Conn(ctx, s.db).ExecContext(ctx, q, at, id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff != 1 {
		return ErrLoanNotActive
	}
	return nil
}

// ListActive は貸出中を期限の昇順で返す。境界は両端を含む。
func (s *Store) ListActive(ctx context.Context, f ActiveFilter) ([]Loan, error) {
	ds := loanDataset().Where(goqu.I("br.status").Eq(string(StatusActive)))
	if f.DueAfter != nil {
		ds = ds.Where(goqu.I("br.due_date").Gte(*f.DueAfter))
	}
	if f.DueBefore != nil {
		ds = ds.Where(goqu.I("br.due_date").Lte(*f.DueBefore))
	}
	q, args, err := ds.Order(goqu.I("br.due_date").Asc(), goqu.I("br.id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	items := []Loan{}
	if err := sqlx.SelectContext(ctx, db.Conn(ctx, s.db), &items, q, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]Loan, error) {
	ds := loanDataset()
	if f.UserID != nil {
		ds = ds.Where(goqu.I("br.user_id").Eq(*f.UserID))
	}
	if f.ISBN != nil {
		ds = ds.Where(goqu.I("br.book_isbn").Eq(*f.ISBN))
	}
	switch f.Status {
	case FilterActive:
		ds = ds.Where(goqu.I("br.status").Eq(string(StatusActive)))
	case FilterReturned:
		ds = ds.Where(goqu.I("br.status").Eq(string(StatusReturned)))
	case FilterOverdue:
		ds = ds.Where(
			goqu.I("br.status").Eq(string(StatusActive)),
			goqu.I("br.due_date").Lt(f.Now),
		)
	}
	if f.Status == FilterOverdue {
		ds = ds.Order(goqu.I("br.due_date").Asc(), goqu.I("br.id").Asc())
	} else {
		ds = ds.Order(goqu.I("br.borrowed_at").Desc(), goqu.I("br.id").Desc())
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	items := []Loan{}
	if err := sqlx.SelectContext(ctx, s.db, &items, q, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) Counts(ctx context.Context, now time.Time) (Counts, error) {
	const q = `
	SELECT
		COALESCE(SUM(status = 'active'), 0) AS active,
		COALESCE(SUM(status = 'returned'), 0) AS returned,
		COALESCE(SUM(status = 'active' AND due_date < ?), 0) AS overdue
	FROM borrow_records`
	var c Counts
	err := sqlx.GetContext(ctx, s.db, &c, q, now)
	return c, err
}

func (s *Store) DailyStats(ctx context.Context, from, to, now time.Time) (DailyStats, error) {
	const q = `
	SELECT
		(SELECT COUNT(*) FROM borrow_records WHERE borrowed_at >= ? AND borrowed_at < ?) AS new_borrows,
		(SELECT COUNT(*) FROM borrow_records WHERE returned_at >= ? AND returned_at < ?) AS returned_count,
		(SELECT COUNT(*) FROM borrow_records WHERE status = 'active' AND due_date < ?) AS overdue,
		(SELECT COUNT(*) FROM books) AS total_books`
	var st DailyStats
	if err := sqlx.GetContext(ctx, s.db, &st, q, from, to, from, to, now); err != nil {
		return DailyStats{}, err
	}
	st.From, st.To = from, to
	return st, nil
}
