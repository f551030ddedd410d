package auth

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"LIBRA-backend/internal/platform/apierr"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/db"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrBadCredentials  = apierr.New(apierr.CodeInvalidArgument, apierr.ReasonBadCredentials, "authentication failed")
	ErrAccountDisabled = apierr.New(apierr.CodeForbidden, apierr.ReasonAccountDisabled, "account disabled")
	ErrAlreadyExists   = apierr.ErrConflict("openid already registered")
	ErrUserNotFound    = apierr.New(apierr.CodeNotFound, apierr.ReasonUserNotFound, "user not found")
	ErrSelfDemotion    = apierr.New(apierr.CodeForbidden, apierr.ReasonSelfDemotion, "cannot revoke your own admin role or ban yourself")
)

type AuthService interface {
	Login(ctx context.Context, openid, password string) (string, error)
	Register(ctx context.Context, openid, password, nickname string) (int64, error)
	SetAdmin(ctx context.Context, actorID, id int64, isAdmin bool) error
	SetStatus(ctx context.Context, actorID, id int64, status string) error
	ListUsers(ctx context.Context, q UserQuery) (UserList, error)
	Stats(ctx context.Context) (UserStats, error)
}

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	loc    *time.Location
}

type Option func(*Service)

// WithLocation は「今日」「直近7日」の区切りに使う。
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func NewService(store AccountStore, secret []byte, ttl time.Duration, clk clock.Clock, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &Service{store: store, secret: secret, ttl: ttl, clock: clk, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Login(ctx context.Context, openid, password string) (string, error) {
	acct, err := s.store.GetByOpenID(ctx, strings.TrimSpace(openid))
	if err != nil {
		return "", err
	}
	if acct == nil || !acct.PasswordHash.Valid {
		return "", ErrBadCredentials
	}
	if acct.Status != StatusActive {
		return "", ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash.String), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}
	return s.issue(acct)
}

func (s *Service) issue(acct *Account) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(acct.ID, 10),
		"role": acct.Role(),
		"exp":  s.clock.Now().Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) Register(ctx context.Context, openid, password, nickname string) (int64, error) {
	openid = strings.TrimSpace(openid)
	if openid == "" {
		return 0, apierr.ErrInvalid("openid is required")
	}
	if len(password) < 8 {
		return 0, apierr.ErrInvalid("password must be at least 8 characters")
	}

	exists, err := s.store.GetByOpenID(ctx, openid)
	if err != nil {
		return 0, err
	}
	if exists != nil {
		return 0, ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	id, err := s.store.Create(ctx, &Account{
		OpenID:       openid,
		Nickname:     sql.NullString{String: nickname, Valid: nickname != ""},
		PasswordHash: sql.NullString{String: string(hash), Valid: true},
	})
	if db.IsDuplicateKey(err) {
		return 0, ErrAlreadyExists
	}
	return id, err
}

// SetAdmin は管理者権限の付与/剥奪。自分自身の剥奪は管理者不在を招くので拒否する。
func (s *Service) SetAdmin(ctx context.Context, actorID, id int64, isAdmin bool) error {
	if actorID == id && !isAdmin {
		return ErrSelfDemotion
	}
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrUserNotFound
	}
	// 値が変わらない場合 RowsAffected は 0 になるため件数は見ない
	_, err = s.store.SetAdmin(ctx, id, isAdmin)
	return err
}

// SetStatus は利用停止/再開。ユーザーは貸出履歴が参照するため削除しない。
func (s *Service) SetStatus(ctx context.Context, actorID, id int64, status string) error {
	if status != StatusActive && status != StatusBanned {
		return apierr.ErrInvalid("status must be active or banned")
	}
	if actorID == id && status == StatusBanned {
		return ErrSelfDemotion
	}
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return ErrUserNotFound
	}
	_, err = s.store.SetStatus(ctx, id, status)
	return err
}

type UserQuery struct {
	Keyword string
	Filter  string // all|admin|recent
	Limit   int
	Offset  int
}

type UserItem struct {
	ID             int64     `json:"id"`
	OpenID         string    `json:"openid"` // 先頭10文字のみ
	Nickname       *string   `json:"nickname,omitempty"`
	IsAdmin        bool      `json:"is_admin"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	TotalBorrows   int64     `json:"total_borrows"`
	CurrentBorrows int64     `json:"current_borrows"`
}

type UserList struct {
	Items      []UserItem `json:"items"`
	Total      int64      `json:"total"`
	NextOffset *int       `json:"next_offset,omitempty"`
}

// ListUsers は管理画面のユーザー一覧。recent は直近7日の登録。
func (s *Service) ListUsers(ctx context.Context, q UserQuery) (UserList, error) {
	switch q.Filter {
	case "":
		q.Filter = UserFilterAll
	case UserFilterAll, UserFilterAdmin, UserFilterRecent:
	default:
		return UserList{}, apierr.ErrInvalid("filter must be one of all, admin, recent")
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	rows, total, err := s.store.ListUsers(ctx, UserFilter{
		Keyword: q.Keyword,
		Filter:  q.Filter,
		Since:   s.clock.Now().AddDate(0, 0, -7),
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return UserList{}, err
	}
	out := UserList{Items: make([]UserItem, 0, len(rows)), Total: total}
	for _, r := range rows {
		item := UserItem{
			ID:             r.ID,
			OpenID:         maskOpenID(r.OpenID),
			IsAdmin:        r.IsAdmin,
			Status:         r.Status,
			CreatedAt:      r.CreatedAt,
			TotalBorrows:   r.TotalBorrows,
			CurrentBorrows: r.CurrentBorrows,
		}
		if r.Nickname.Valid {
			nick := r.Nickname.String
			item.Nickname = &nick
		}
		out.Items = append(out.Items, item)
	}
	if next := q.Offset + len(rows); int64(next) < total {
		out.NextOffset = &next
	}
	return out, nil
}

// Stats は登録数・管理者数と、今日(設定タイムゾーン)貸出したユーザー数。
func (s *Service) Stats(ctx context.Context) (UserStats, error) {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return s.store.Stats(ctx, from, from.AddDate(0, 0, 1))
}

func maskOpenID(openid string) string {
	const keep = 10
	if len(openid) <= keep {
		return openid
	}
	return openid[:keep] + "..."
}
