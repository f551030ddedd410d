package inventory

import (
	"context"
	"database/sql"
	"errors"
	"strings"

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

const bookColumns = `isbn, title, author, publisher, location, stock, total, created_at, updated_at`

// LockBook は books 行を FOR UPDATE で取得する。呼び出し側の Tx 内でのみ有効。
func (s *Store) LockBook(ctx context.Context, isbn string) (Book, error) {
	if !db.InTx(ctx) {
		return Book{}, errors.New("inventory: LockBook requires a transaction")
	}
	var b Book
	err := sqlx.GetContext(ctx, db.Conn(ctx, s.db), &b,
		`SELECT `+bookColumns+` FROM books WHERE isbn = ? FOR UPDATE`, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, ErrBookNotFound
	}
	return b, err
}

// UpdateStock はロック済みの行に値を書き込む。
func (s *Store) UpdateStock(ctx context.Context, isbn string, stock, total int) error {
	const q = `UPDATE books SET stock = ?, total = ? WHERE isbn = ?`
	if _, err := db.Conn(ctx, s.db).ExecContext(ctx, q, stock, total, isbn); err != nil {
		if db.IsCheckViolation(err) {
			return ErrStockIntegrity
		}
		return err
	}
	return nil
}

func (s *Store) InsertBook(ctx context.Context, b *Book) error {
	const q = `
	INSERT INTO books
	(isbn, title, author, publisher, location, stock, total, created_at, updated_at)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Conn(ctx, s.db).ExecContext(ctx, q,
		b.ISBN, b.Title, b.Author, b.Publisher, b.Location, b.Stock, b.Total, b.CreatedAt, b.UpdatedAt)
	if db.IsDuplicateKey(err) {
		return ErrBookExists
	}
	return err
}

func (s *Store) GetBook(ctx context.Context, isbn string) (Book, error) {
	var b Book
	err := sqlx.GetContext(ctx, db.Conn(ctx, s.db), &b,
		`SELECT `+bookColumns+` FROM books WHERE isbn = ?`, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, ErrBookNotFound
	}
	return b, err
}

// CountActiveLoans は books 行をロックした Tx 内で呼ぶ。貸出・返却も同じ行ロックを取るので件数は確定している。
func (s *Store) CountActiveLoans(ctx context.Context, isbn string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, db.Conn(ctx, s.db), &n,
		`SELECT COUNT(*) FROM borrow_records WHERE book_isbn = ? AND status = 'active'`, isbn)
	return n, err
}

// ListRecent は件数と一覧を同じスナップショットから読む。
func (s *Store) ListRecent(ctx context.Context, limit, offset int) ([]Book, int64, error) {
	return s.ListBooks(ctx, BookFilter{Stock: StockAll, Limit: limit, Offset: offset})
}

func (s *Store) ListBooks(ctx context.Context, f BookFilter) ([]Book, int64, error) {
	ds := dialect.From("books")
	if f.Keyword != "" {
		like := "%" + escapeLike(f.Keyword) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").Like(like),
			goqu.C("isbn").Like(like),
			goqu.C("author").Like(like),
		))
	}
	switch f.Stock {
	case StockLow:
		ds = ds.Where(goqu.C("stock").Gt(0), goqu.C("stock").Lt(LowStockThreshold))
	case StockZero:
		ds = ds.Where(goqu.C("stock").Eq(0))
	}

	countQ, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	ds = ds.Select(goqu.L(bookColumns)).
		Order(goqu.C("created_at").Desc(), goqu.C("isbn").Asc()).
		Limit(uint(f.Limit))
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	listQ, listArgs, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, err
	}

	var total int64
	items := []Book{}
	err = db.ReadOnly(ctx, s.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, s.db)
		if err := sqlx.GetContext(ctx, conn, &total, countQ, countArgs...); err != nil {
			return err
		}
		return sqlx.SelectContext(ctx, conn, &items, listQ, listArgs...)
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateBook は書誌情報だけを書き換える。stock/total には触れない。
func (s *Store) UpdateBook(ctx context.Context, isbn string, p BookPatch) error {
	rec := goqu.Record{}
	if p.Title != nil {
		rec["title"] = *p.Title
	}
	if p.Author != nil {
		rec["author"] = toNullString(p.Author)
	}
	if p.Publisher != nil {
		rec["publisher"] = toNullString(p.Publisher)
	}
	if p.Location != nil {
		rec["location"] = toNullString(p.Location)
	}
	if len(rec) == 0 {
		return nil
	}
	q, args, err := dialect.Update("books").Set(rec).Where(goqu.C("isbn").Eq(isbn)).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	_, err = db.Conn(ctx, s.db).ExecContext(ctx, q, args...)
	return err
}

// DeleteBook はロック済みの行を消す。返却済みの履歴が残っている場合も外部キーで拒否される。
func (s *Store) DeleteBook(ctx context.Context, isbn string) error {
	_, err := db.Conn(ctx, s.db).ExecContext(ctx, `DELETE FROM books WHERE isbn = ?`, isbn)
	if db.IsForeignKeyViolation(err) {
		return ErrBookInUse.WithMessage("book has loan history")
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
