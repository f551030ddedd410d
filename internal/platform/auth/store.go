package auth

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"LIBRA-backend/internal/platform/db"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/jmoiron/sqlx"
)

var dialect = goqu.Dialect("mysql")

const (
	StatusActive = "active"
	StatusBanned = "banned"
)

type Account struct {
	ID           int64          `db:"id"`
	OpenID       string         `db:"openid"`
	Nickname     sql.NullString `db:"nickname"`
	PasswordHash sql.NullString `db:"password_hash"`
	IsAdmin      bool           `db:"is_admin"`
	Status       string         `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (a *Account) Role() string {
	if a.IsAdmin {
		return RoleAdmin
	}
	return RoleUser
}

type AccountStore interface {
	GetByOpenID(ctx context.Context, openid string) (*Account, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
	Create(ctx context.Context, a *Account) (int64, error)
	SetAdmin(ctx context.Context, id int64, isAdmin bool) (int64, error)
	SetStatus(ctx context.Context, id int64, status string) (int64, error)
	ListUsers(ctx context.Context, f UserFilter) ([]UserSummary, int64, error)
	Stats(ctx context.Context, from, to time.Time) (UserStats, error)
}

// 管理画面のユーザー一覧の絞り込み
const (
	UserFilterAll    = "all"
	UserFilterAdmin  = "admin"
	UserFilterRecent = "recent" // Since 以降の登録
)

type UserFilter struct {
	Keyword string // 数字なら id 一致、それ以外は nickname の部分一致
	Filter  string
	Since   time.Time
	Limit   int
	Offset  int
}

// UserSummary は一覧の1行。貸出件数を含む。
type UserSummary struct {
	ID             int64          `db:"id"`
	OpenID         string         `db:"openid"`
	Nickname       sql.NullString `db:"nickname"`
	IsAdmin        bool           `db:"is_admin"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	TotalBorrows   int64          `db:"total_borrows"`
	CurrentBorrows int64          `db:"current_borrows"`
}

type UserStats struct {
	Total       int64 `db:"total" json:"total"`
	Admins      int64 `db:"admins" json:"admins"`
	ActiveToday int64 `db:"active_today" json:"active_today"`
}

type Store struct{ db *sqlx.DB }

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, openid, nickname, password_hash, is_admin, status, created_at`

func (s *Store) GetByOpenID(ctx context.Context, openid string) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM users WHERE openid = ? LIMIT 1`, openid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Account, error) {
	var a Account
	err := s.db.GetContext(ctx, &a, `SELECT `+accountColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) (int64, error) {
	const q = `
INSERT INTO users (openid, nickname, password_hash, is_admin, status, created_at)
VALUES (?, ?, ?, ?, ?, NOW(6))
`
	res, err := s.db.ExecContext(ctx, q, a.OpenID, a.Nickname, a.PasswordHash, a.IsAdmin, StatusActive)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) SetAdmin(ctx context.Context, id int64, isAdmin bool) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = ? WHERE id = ?`, isAdmin, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) SetStatus(ctx context.Context, id int64, status string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListUsers(ctx context.Context, f UserFilter) ([]UserSummary, int64, error) {
	ds := dialect.From(goqu.T("users").As("u"))
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		like := goqu.I("u.nickname").Like("%" + kw + "%")
		if id, err := strconv.ParseInt(kw, 10, 64); err == nil {
			ds = ds.Where(goqu.Or(goqu.I("u.id").Eq(id), like))
		} else {
			ds = ds.Where(like)
		}
	}
	switch f.Filter {
	case UserFilterAdmin:
		ds = ds.Where(goqu.I("u.is_admin").IsTrue())
	case UserFilterRecent:
		ds = ds.Where(goqu.I("u.created_at").Gte(f.Since))
	}

	countQ, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	listQ, listArgs, err := ds.Select(
		goqu.I("u.id"), goqu.I("u.openid"), goqu.I("u.nickname"), goqu.I("u.is_admin"),
		goqu.I("u.status"), goqu.I("u.created_at"),
		goqu.L("(SELECT COUNT(*) FROM borrow_records br WHERE br.user_id = u.id)").As("total_borrows"),
		goqu.L("(SELECT COUNT(*) FROM borrow_records br WHERE br.user_id = u.id AND br.status = 'active')").As("current_borrows"),
	).Order(goqu.I("u.created_at").Desc(), goqu.I("u.id").Desc()).
		Limit(uint(f.Limit)).Offset(uint(f.Offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, err
	}

	var total int64
	items := []UserSummary{}
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

// Stats の active_today は [from, to) に貸出したユーザー数。
func (s *Store) Stats(ctx context.Context, from, to time.Time) (UserStats, error) {
	const q = `
	SELECT
		(SELECT COUNT(*) FROM users) AS total,
		(SELECT COUNT(*) FROM users WHERE is_admin = 1) AS admins,
		(SELECT COUNT(DISTINCT user_id) FROM borrow_records WHERE borrowed_at >= ? AND borrowed_at < ?) AS active_today`
	var st UserStats
	err := s.db.GetContext(ctx, &st, q, from, to)
	return st, err
}
