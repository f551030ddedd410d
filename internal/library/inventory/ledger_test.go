package inventory

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"LIBRA-backend/internal/platform/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore は books をメモリに持つ。WithTx は全体ロックで行ロックを模す。
type fakeStore struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	books  map[string]Book
	onLoan map[string]int // 貸出中の件数
}

func newFakeStore(books ...Book) *fakeStore {
	f := &fakeStore{books: map[string]Book{}, onLoan: map[string]int{}}
	for _, b := range books {
		f.books[b.ISBN] = b
	}
	return f
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	snapshot := make(map[string]Book, len(f.books))
	for k, v := range f.books {
		snapshot[k] = v
	}
	f.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.mu.Lock()
		f.books = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) LockBook(_ context.Context, isbn string) (Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[isbn]
	if !ok {
		return Book{}, ErrBookNotFound
	}
	return b, nil
}

func (f *fakeStore) UpdateStock(_ context.Context, isbn string, stock, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.books[isbn]
	b.Stock, b.Total = stock, total
	f.books[isbn] = b
	return nil
}

func (f *fakeStore) InsertBook(_ context.Context, b *Book) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[b.ISBN]; ok {
		return ErrBookExists
	}
	f.books[b.ISBN] = *b
	return nil
}

func (f *fakeStore) GetBook(ctx context.Context, isbn string) (Book, error) {
	return f.LockBook(ctx, isbn)
}

func (f *fakeStore) CountActiveLoans(_ context.Context, isbn string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onLoan[isbn], nil
}

func (f *fakeStore) ListRecent(ctx context.Context, limit, offset int) ([]Book, int64, error) {
	return f.ListBooks(ctx, BookFilter{Limit: limit, Offset: offset})
}

func (f *fakeStore) ListBooks(_ context.Context, bf BookFilter) ([]Book, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Book
	for _, b := range f.books {
		if bf.Keyword != "" && !strings.Contains(b.Title, bf.Keyword) &&
			!strings.Contains(b.ISBN, bf.Keyword) && !strings.Contains(b.Author.String, bf.Keyword) {
			continue
		}
		switch bf.Stock {
		case StockLow:
			if b.Stock <= 0 || b.Stock >= LowStockThreshold {
				continue
			}
		case StockZero:
			if b.Stock != 0 {
				continue
			}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISBN < out[j].ISBN })
	total := len(out)
	offset := bf.Offset
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + bf.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], int64(total), nil
}

func (f *fakeStore) UpdateBook(_ context.Context, isbn string, p BookPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.books[isbn]
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = toNullString(p.Author)
	}
	if p.Publisher != nil {
		b.Publisher = toNullString(p.Publisher)
	}
	if p.Location != nil {
		b.Location = toNullString(p.Location)
	}
	f.books[isbn] = b
	return nil
}

func (f *fakeStore) DeleteBook(_ context.Context, isbn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.books, isbn)
	return nil
}

func (f *fakeStore) lend(isbn string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLoan[isbn] += n
}

func (f *fakeStore) stock(isbn string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.books[isbn]
	return b.Stock, b.Total
}

const isbn13 = "9787111213826"

func book(stock, total int) Book {
	return Book{ISBN: isbn13, Title: "Go 语言圣经", Stock: stock, Total: total}
}

func TestLedger_ReserveDecrementsUntilEmpty(t *testing.T) {
	store := newFakeStore(book(2, 2))
	g := NewLedger(store)
	ctx := context.Background()

	b, err := g.Reserve(ctx, "978-7-111-21382-6")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stock)

	_, err = g.Reserve(ctx, isbn13)
	require.NoError(t, err)

	_, err = g.Reserve(ctx, isbn13)
	assert.ErrorIs(t, err, ErrOutOfStock)

	stock, total := store.stock(isbn13)
	assert.Equal(t, 0, stock)
	assert.Equal(t, 2, total)
}

func TestLedger_ReserveUnknownBook(t *testing.T) {
	g := NewLedger(newFakeStore())
	_, err := g.Reserve(context.Background(), isbn13)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = g.Reserve(context.Background(), "12-34")
	assert.ErrorIs(t, err, ErrInvalidISBN)
}

func TestLedger_ConcurrentReserveOfLastCopy(t *testing.T) {
	store := newFakeStore(book(1, 1))
	g := NewLedger(store)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.WithTx(context.Background(), func(ctx context.Context) error {
				_, err := g.Reserve(ctx, isbn13)
				return err
			})
		}(i)
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, ErrOutOfStock)
			outOfStock++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, outOfStock)
	stock, _ := store.stock(isbn13)
	assert.Equal(t, 0, stock)
}

func TestLedger_ReleaseOverflow(t *testing.T) {
	t.Run("rejected and logged by default", func(t *testing.T) {
		var logs bytes.Buffer
		store := newFakeStore(book(3, 3))
		g := NewLedger(store, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

		_, err := g.Release(context.Background(), isbn13)
		assert.ErrorIs(t, err, ErrStockIntegrity)
		assert.Contains(t, logs.String(), "level=ERROR")

		stock, total := store.stock(isbn13)
		assert.Equal(t, 3, stock)
		assert.Equal(t, 3, total)
	})

	t.Run("clamped when configured", func(t *testing.T) {
		var logs bytes.Buffer
		store := newFakeStore(book(3, 3))
		g := NewLedger(store,
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
			WithClampOverflow(true))

		b, err := g.Release(context.Background(), isbn13)
		require.NoError(t, err)
		assert.Equal(t, 3, b.Stock)
		assert.Contains(t, logs.String(), "level=ERROR")
	})
}

func TestLedger_ReleaseIncrements(t *testing.T) {
	store := newFakeStore(book(0, 2))
	g := NewLedger(store)

	b, err := g.Release(context.Background(), isbn13)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stock)
}

func TestLedger_SetStock(t *testing.T) {
	store := newFakeStore(book(1, 2))
	g := NewLedger(store)
	ctx := context.Background()

	_, err := g.SetStock(ctx, isbn13, -1)
	assert.ErrorIs(t, err, ErrInvalidStock)

	b, err := g.SetStock(ctx, isbn13, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, b.Stock)
	assert.Equal(t, 5, b.Total)

	b, err = g.SetStock(ctx, isbn13, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Stock)
	assert.Equal(t, 5, b.Total)
}

func TestLedger_SetStockKeepsRoomForLoansOut(t *testing.T) {
	// 3冊中2冊が貸出中
	store := newFakeStore(book(1, 3))
	store.lend(isbn13, 2)
	g := NewLedger(store)
	ctx := context.Background()

	b, err := g.SetStock(ctx, isbn13, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Stock)
	assert.Equal(t, 5, b.Total)

	// 2冊とも戻ってきても total を超えない
	for i := 0; i < 2; i++ {
		_, err = g.Release(ctx, isbn13)
		require.NoError(t, err)
	}
	stock, total := store.stock(isbn13)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 5, total)

	// 貸出中がなければ total は下げない
	store.lend(isbn13, -2)
	b, err = g.SetStock(ctx, isbn13, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stock)
	assert.Equal(t, 5, b.Total)
}

func TestService_CreateAndAdjust(t *testing.T) {
	store := newFakeStore()
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	svc := NewService(store, NewLedger(store), clock.NewFixed(at))
	ctx := context.Background()

	two := 2
	author := "  Alan Donovan "
	res, err := svc.CreateBook(ctx, CreateBookRequest{ISBN: "978-7-111-21382-6", Title: "Go 语言圣经", Author: &author, Total: &two})
	require.NoError(t, err)
	assert.Equal(t, isbn13, res.ISBN)
	assert.Equal(t, 2, res.Stock)
	require.NotNil(t, res.Author)
	assert.Equal(t, "Alan Donovan", *res.Author)
	assert.Equal(t, at, res.CreatedAt)

	_, err = svc.CreateBook(ctx, CreateBookRequest{ISBN: isbn13, Title: "dup"})
	assert.ErrorIs(t, err, ErrBookExists)

	res, err = svc.AdjustStock(ctx, isbn13, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)

	_, err = svc.AdjustStock(ctx, isbn13, -3)
	assert.ErrorIs(t, err, ErrInvalidStock)
	stock, _ := store.stock(isbn13)
	assert.Equal(t, 4, stock)
}

func TestService_DeleteBook(t *testing.T) {
	store := newFakeStore(book(1, 2))
	svc := NewService(store, NewLedger(store), nil)
	ctx := context.Background()

	t.Run("refused while a copy is on loan", func(t *testing.T) {
		store.lend(isbn13, 1)
		err := svc.DeleteBook(ctx, isbn13)
		assert.ErrorIs(t, err, ErrBookInUse)

		_, err = svc.GetBook(ctx, isbn13)
		assert.NoError(t, err)
	})

	t.Run("deleted once returned", func(t *testing.T) {
		store.lend(isbn13, -1)
		require.NoError(t, svc.DeleteBook(ctx, "978-7-111-21382-6"))

		_, err := svc.GetBook(ctx, isbn13)
		assert.ErrorIs(t, err, ErrBookNotFound)
	})

	t.Run("unknown book", func(t *testing.T) {
		err := svc.DeleteBook(ctx, isbn13)
		assert.ErrorIs(t, err, ErrBookNotFound)
	})
}

func TestService_ListBooks(t *testing.T) {
	author := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
	store := newFakeStore(
		Book{ISBN: "9787111213826", Title: "Go 语言圣经", Author: author("Donovan"), Stock: 2, Total: 2},
		Book{ISBN: "9787115546081", Title: "深入理解计算机系统", Stock: 0, Total: 1},
		Book{ISBN: "9787302423287", Title: "Go 并发编程实战", Stock: 5, Total: 5},
	)
	svc := NewService(store, NewLedger(store), nil)
	ctx := context.Background()

	res, err := svc.Search(ctx, " Go ", Page{})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.EqualValues(t, 2, res.Total)

	res, err = svc.Search(ctx, "Donovan", Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "9787111213826", res.Items[0].ISBN)

	res, err = svc.ListBooks(ctx, "", StockLow, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "9787111213826", res.Items[0].ISBN)

	res, err = svc.ListBooks(ctx, "", StockZero, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.False(t, res.Items[0].Available)

	res, err = svc.ListBooks(ctx, "", StockAll, Page{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 2, *res.NextOffset)

	_, ok := ParseStockFilter("some")
	assert.False(t, ok)
}

func TestService_UpdateBook(t *testing.T) {
	store := newFakeStore(book(1, 2))
	svc := NewService(store, NewLedger(store), nil)
	ctx := context.Background()

	title := " Go 程序设计语言 "
	loc := "A-3"
	res, err := svc.UpdateBook(ctx, isbn13, UpdateBookRequest{Title: &title, Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, "Go 程序设计语言", res.Title)
	require.NotNil(t, res.Location)
	assert.Equal(t, "A-3", *res.Location)
	// 在庫は変わらない
	assert.Equal(t, 1, res.Stock)
	assert.Equal(t, 2, res.Total)

	blank := "  "
	_, err = svc.UpdateBook(ctx, isbn13, UpdateBookRequest{Title: &blank})
	assert.Error(t, err)

	_, err = svc.UpdateBook(ctx, "9787115546081", UpdateBookRequest{Location: &loc})
	assert.ErrorIs(t, err, ErrBookNotFound)
}
