package inventory

import (
	"database/sql"
	"time"

	"LIBRA-backend/internal/platform/apierr"
)

// Book は蔵書。stock は貸出可能数、total は所蔵数。
type Book struct {
	ISBN      string         `db:"isbn"`
	Title     string         `db:"title"`
	Author    sql.NullString `db:"author"`
	Publisher sql.NullString `db:"publisher"`
	Location  sql.NullString `db:"location"`
	Stock     int            `db:"stock"`
	Total     int            `db:"total"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// StockFilter は管理画面の在庫絞り込み。
type StockFilter string

const (
	StockAll  StockFilter = "all"
	StockLow  StockFilter = "low"  // 1 <= stock < LowStockThreshold
	StockZero StockFilter = "zero" // stock = 0
)

// LowStockThreshold 未満（0 は除く）を残りわずかとみなす。
const LowStockThreshold = 3

func ParseStockFilter(s string) (StockFilter, bool) {
	switch StockFilter(s) {
	case "", StockAll:
		return StockAll, true
	case StockLow, StockZero:
		return StockFilter(s), true
	}
	return "", false
}

// BookFilter は一覧・検索の条件。Keyword は書名・ISBN・著者の部分一致。
type BookFilter struct {
	Keyword string
	Stock   StockFilter
	Limit   int
	Offset  int
}

// BookPatch は書誌情報の更新。nil の項目は変更しない。在庫は Ledger 経由でのみ変える。
type BookPatch struct {
	Title     *string
	Author    *string
	Publisher *string
	Location  *string
}

func (b Book) consistent() bool {
	return b.Stock >= 0 && b.Stock <= b.Total
}

var (
	ErrBookNotFound   = apierr.New(apierr.CodeNotFound, apierr.ReasonBookNotFound, "book not found")
	ErrBookExists     = apierr.New(apierr.CodeConflict, apierr.ReasonBookExists, "book already exists")
	ErrOutOfStock     = apierr.New(apierr.CodeConflict, apierr.ReasonOutOfStock, "no copies available")
	ErrInvalidStock   = apierr.New(apierr.CodeInvalidArgument, apierr.ReasonInvalidStock, "stock must be >= 0")
	ErrInvalidISBN    = apierr.New(apierr.CodeInvalidArgument, apierr.ReasonInvalidISBN, "isbn must be 10 or 13 digits")
	ErrStockIntegrity = apierr.New(apierr.CodeInternal, apierr.ReasonStockIntegrity, "stock would exceed total")
	ErrBookInUse      = apierr.New(apierr.CodeConflict, apierr.ReasonBookInUse, "book has loans that are not returned")
)
