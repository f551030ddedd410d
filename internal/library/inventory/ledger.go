package inventory

import (
	"context"
	"log/slog"
)

// StockStore は books 行のロックと書き込み。Ledger 以外から stock/total を書かないこと。
type StockStore interface {
	LockBook(ctx context.Context, isbn string) (Book, error)
	UpdateStock(ctx context.Context, isbn string, stock, total int) error
	// CountActiveLoans は貸出中の件数。LockBook 済みの Tx 内で呼ぶ。
	CountActiveLoans(ctx context.Context, isbn string) (int, error)
}

// Ledger は 0 <= stock <= total を守る唯一の書き手。
// どのメソッドも呼び出し側の Tx (ctx) 内で呼ぶ前提。
type Ledger struct {
	store  StockStore
	logger *slog.Logger
	clamp  bool
}

type LedgerOption func(*Ledger)

func WithLogger(l *slog.Logger) LedgerOption {
	return func(g *Ledger) { g.logger = l }
}

// WithClampOverflow: 返却で total を超える場合にエラーにせず total で止める。
func WithClampOverflow(on bool) LedgerOption {
	return func(g *Ledger) { g.clamp = on }
}

func NewLedger(store StockStore, opts ...LedgerOption) *Ledger {
	g := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reserve は在庫を1つ確保する。
func (g *Ledger) Reserve(ctx context.Context, isbn string) (Book, error) {
	isbn, err := NormalizeISBN(isbn)
	if err != nil {
		return Book{}, err
	}
	b, err := g.store.LockBook(ctx, isbn)
	if err != nil {
		return Book{}, err
	}
	if !b.consistent() {
		g.logger.ErrorContext(ctx, "stock invariant already broken",
			"isbn", isbn, "stock", b.Stock, "total", b.Total)
		return Book{}, ErrStockIntegrity
	}
	if b.Stock <= 0 {
		return Book{}, ErrOutOfStock
	}

	b.Stock--
	if err := g.store.UpdateStock(ctx, isbn, b.Stock, b.Total); err != nil {
		return Book{}, err
	}
	return b, nil
}

// Release は在庫を1つ戻す。total を超える場合は整合性違反。
func (g *Ledger) Release(ctx context.Context, isbn string) (Book, error) {
	isbn, err := NormalizeISBN(isbn)
	if err != nil {
		return Book{}, err
	}
	b, err := g.store.LockBook(ctx, isbn)
	if err != nil {
		return Book{}, err
	}

	if b.Stock+1 > b.Total {
		g.logger.ErrorContext(ctx, "release would exceed total",
			"isbn", isbn, "stock", b.Stock, "total", b.Total, "clamped", g.clamp)
		if !g.clamp {
			return Book{}, ErrStockIntegrity
		}
		if b.Stock != b.Total {
			b.Stock = b.Total
			if err := g.store.UpdateStock(ctx, isbn, b.Stock, b.Total); err != nil {
				return Book{}, err
			}
		}
		return b, nil
	}

	b.Stock++
	if err := g.store.UpdateStock(ctx, isbn, b.Stock, b.Total); err != nil {
		return Book{}, err
	}
	return b, nil
}

// SetStock は管理者による在庫補正。n は貸出可能数。
// 貸出中の冊数は戻ってくるので、total は n+貸出中 を下回らないよう引き上げる。
func (g *Ledger) SetStock(ctx context.Context, isbn string, n int) (Book, error) {
	if n < 0 {
		return Book{}, ErrInvalidStock
	}
	isbn, err := NormalizeISBN(isbn)
	if err != nil {
		return Book{}, err
	}
	b, err := g.store.LockBook(ctx, isbn)
	if err != nil {
		return Book{}, err
	}
	active, err := g.store.CountActiveLoans(ctx, isbn)
	if err != nil {
		return Book{}, err
	}

	prev := b.Stock
	b.Stock = n
	if n+active > b.Total {
		b.Total = n + active
	}
	if err := g.store.UpdateStock(ctx, isbn, b.Stock, b.Total); err != nil {
		return Book{}, err
	}
	g.logger.InfoContext(ctx, "stock adjusted",
		"isbn", isbn, "from", prev, "to", b.Stock, "on_loan", active, "total", b.Total)
	return b, nil
}
