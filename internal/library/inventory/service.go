package inventory

import (
	"context"
	"database/sql"
	"strings"

	"LIBRA-backend/internal/platform/apierr"
	"LIBRA-backend/internal/platform/clock"
)

// BookStore は Service が使う永続化。*Store が実装する。
type BookStore interface {
	StockStore
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, isbn string) (Book, error)
	ListRecent(ctx context.Context, limit, offset int) ([]Book, int64, error)
	ListBooks(ctx context.Context, f BookFilter) ([]Book, int64, error)
	UpdateBook(ctx context.Context, isbn string, p BookPatch) error
	DeleteBook(ctx context.Context, isbn string) error
}

type Service struct {
	store  BookStore
	ledger *Ledger
	clock  clock.Clock
}

func NewService(store BookStore, ledger *Ledger, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{store: store, ledger: ledger, clock: clk}
}

// 蔵書登録。新規登録時は全冊貸出可能。
func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (BookResponse, error) {
	isbn, err := NormalizeISBN(req.ISBN)
	if err != nil {
		return BookResponse{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return BookResponse{}, apierr.ErrInvalid("title is required")
	}
	total := 1
	if req.Total != nil {
		total = *req.Total
	}
	if total < 0 {
		return BookResponse{}, ErrInvalidStock
	}

	now := s.clock.Now()
	b := Book{
		ISBN:      isbn,
		Title:     title,
		Author:    toNullString(req.Author),
		Publisher: toNullString(req.Publisher),
		Location:  toNullString(req.Location),
		Stock:     total,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertBook(ctx, &b); err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) GetBook(ctx context.Context, isbn string) (BookResponse, error) {
	isbn, err := NormalizeISBN(isbn)
	if err != nil {
		return BookResponse{}, err
	}
	b, err := s.store.GetBook(ctx, isbn)
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) ListRecent(ctx context.Context, p Page) (ListResponse, error) {
	p = p.normalize()
	books, total, err := s.store.ListRecent(ctx, p.Limit, p.Offset)
	if err != nil {
		return ListResponse{}, err
	}
	return toListResponse(books, total, p), nil
}

// Search は利用者向けのキーワード検索。在庫での絞り込みはしない。
func (s *Service) Search(ctx context.Context, keyword string, p Page) (ListResponse, error) {
	return s.ListBooks(ctx, keyword, StockAll, p)
}

// ListBooks は管理画面の一覧。
func (s *Service) ListBooks(ctx context.Context, keyword string, stock StockFilter, p Page) (ListResponse, error) {
	p = p.normalize()
	books, total, err := s.store.ListBooks(ctx, BookFilter{
		Keyword: strings.TrimSpace(keyword),
		Stock:   stock,
		Limit:   p.Limit,
		Offset:  p.Offset,
	})
	if err != nil {
		return ListResponse{}, err
	}
	return toListResponse(books, total, p), nil
}

// UpdateBook は書誌情報の更新。
func (s *Service) UpdateBook(ctx context.Context, isbn string, req UpdateBookRequest) (BookResponse, error) {
	isbn, err := NormalizeISBN(isbn)
	if err != nil {
		return BookResponse{}, err
	}
	patch := BookPatch{Author: req.Author, Publisher: req.Publisher, Location: req.Location}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return BookResponse{}, apierr.ErrInvalid("title must not be empty")
		}
		patch.Title = &title
	}

	var b Book
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.LockBook(ctx, isbn); err != nil {
			return err
		}
		if err := s.store.UpdateBook(ctx, isbn, patch); err != nil {
			return err
		}
		b, err = s.store.GetBook(ctx, isbn)
		return err
	})
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

// DeleteBook は貸出中の本があれば拒否する。
// 行ロック後に数えるので、判定と削除の間に貸出は入らない。
func (s *Service) DeleteBook(ctx context.Context, isbn string) error {
	isbn, err := NormalizeISBN(isbn)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.LockBook(ctx, isbn); err != nil {
			return err
		}
		active, err := s.store.CountActiveLoans(ctx, isbn)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrBookInUse
		}
		return s.store.DeleteBook(ctx, isbn)
	})
}

// AdjustStock は管理者の在庫補正を1Txで行う。
func (s *Service) AdjustStock(ctx context.Context, isbn string, n int) (BookResponse, error) {
	var b Book
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.ledger.SetStock(ctx, isbn, n)
		return err
	})
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func toListResponse(books []Book, total int64, p Page) ListResponse {
	out := ListResponse{Items: make([]BookResponse, 0, len(books)), Total: total}
	for _, b := range books {
		out.Items = append(out.Items, toResponse(b))
	}
	if next := p.Offset + len(books); int64(next) < total {
		out.NextOffset = &next
	}
	return out
}

func toResponse(b Book) BookResponse {
	return BookResponse{
		ISBN:      b.ISBN,
		Title:     b.Title,
		Author:    nullToPtr(b.Author),
		Publisher: nullToPtr(b.Publisher),
		Location:  nullToPtr(b.Location),
		Stock:     b.Stock,
		Total:     b.Total,
		Available: b.Stock > 0,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func toNullString(p *string) sql.NullString {
	if p == nil || strings.TrimSpace(*p) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*p), Valid: true}
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
