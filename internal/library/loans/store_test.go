package loans

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"LIBRA-backend/internal/library/inventory"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/db"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB は TEST_MYSQL_DSN が無ければ skip する。
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	conn, err := sqlx.Open("mysql", dsn)
	require.NoError(t, err)
	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Skipf("mysql unreachable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))
	return conn
}

func seed(t *testing.T, conn *sqlx.DB, stock int) (userA, userB int64, isbn string) {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().UnixNano()
	isbn = fmt.Sprintf("978%010d", suffix%10_000_000_000)

	_, err := conn.ExecContext(ctx,
		`INSERT INTO books (isbn, title, stock, total) VALUES (?, ?, ?, ?)`, isbn, "integration", stock, stock)
	require.NoError(t, err)

	for _, dst := range []*int64{&userA, &userB} {
		res, err := conn.ExecContext(ctx, `INSERT INTO users (openid) VALUES (?)`, fmt.Sprintf("it-%d-%p", suffix, dst))
		require.NoError(t, err)
		*dst, err = res.LastInsertId()
		require.NoError(t, err)
	}
	return userA, userB, isbn
}

func TestStore_CheckoutReturnRoundTrip(t *testing.T) {
	conn := openTestDB(t)
	userA, userB, isbn := seed(t, conn, 1)
	ctx := context.Background()

	books := inventory.NewStore(conn)
	svc := NewService(NewStore(conn), inventory.NewLedger(books), WithClock(clock.NewSystem()))

	// 最後の1冊を同時に借りる
	var wg sync.WaitGroup
	errs := make([]error, 2)
	loans := make([]Loan, 2)
	for i, u := range []int64{userA, userB} {
		wg.Add(1)
		go func(i int, u int64) {
			defer wg.Done()
			loans[i], errs[i] = svc.Checkout(ctx, u, isbn)
		}(i, u)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			winner = i
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrOutOfStock)
	}
	require.NotEqual(t, -1, winner)

	b, err := books.GetBook(ctx, isbn)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Stock)

	l := loans[winner]
	got, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "integration", got.BookTitle)
	assert.NotEmpty(t, got.RecipientID)

	_, err = svc.Return(ctx, l.ID, Actor{UserID: l.UserID})
	require.NoError(t, err)
	_, err = svc.Return(ctx, l.ID, Actor{UserID: l.UserID})
	assert.ErrorIs(t, err, ErrAlreadyReturned)

	b, err = books.GetBook(ctx, isbn)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stock)
}

func TestStore_ActivePairUniqueIndex(t *testing.T) {
	conn := openTestDB(t)
	userA, _, isbn := seed(t, conn, 2)
	ctx := context.Background()
	store := NewStore(conn)
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := Loan{ULID: fmt.Sprintf("%026d", now.UnixNano()), UserID: userA, BookISBN: isbn, BorrowedAt: now, DueDate: now.Add(DefaultLoanPeriod)}
	require.NoError(t, store.Insert(ctx, &first))

	second := first
	second.ULID = fmt.Sprintf("%026d", now.UnixNano()+1)
	assert.ErrorIs(t, store.Insert(ctx, &second), ErrAlreadyBorrowed)

	due := first.DueDate
	active, err := store.ListActive(ctx, ActiveFilter{DueAfter: &due, DueBefore: &due})
	require.NoError(t, err)
	found := false
	for _, l := range active {
		found = found || l.ID == first.ID
	}
	assert.True(t, found)
}
