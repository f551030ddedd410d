package loans

import (
	"context"
	"sort"
	"sync"
	"time"

	"LIBRA-backend/internal/library/inventory"
)

// memDB は books と borrow_records をメモリに持つ。
// WithTx は全体ロックで直列化し、エラー時はスナップショットへ戻す。
type memDB struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	books  map[string]inventory.Book
	loans  map[int64]Loan
	nextID int64
	users  map[int64]string
}

func newMemDB() *memDB {
	return &memDB{
		books: map[string]inventory.Book{},
		loans: map[int64]Loan{},
		users: map[int64]string{},
	}
}

func (m *memDB) addBook(isbn, title string, stock, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[isbn] = inventory.Book{ISBN: isbn, Title: title, Stock: stock, Total: total}
}

func (m *memDB) addUser(id int64, openid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = openid
}

func (m *memDB) stock(isbn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.books[isbn].Stock
}

// seedLoans は貸出中のレコードを n 件直接入れる（在庫は動かさない）。
func (m *memDB) seedLoans(userID int64, isbn, title string, n int, borrowedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.nextID++
		m.loans[m.nextID] = Loan{
			ID: m.nextID, UserID: userID, BookISBN: isbn, BookTitle: title, RecipientID: m.users[userID],
			Status: StatusActive, BorrowedAt: borrowedAt, DueDate: borrowedAt.Add(DefaultLoanPeriod),
		}
	}
}

func (m *memDB) activeCount(isbn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCountLocked(isbn)
}

func (m *memDB) activeCountLocked(isbn string) int {
	n := 0
	for _, l := range m.loans {
		if l.BookISBN == isbn && l.Status == StatusActive {
			n++
		}
	}
	return n
}

func (m *memDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	books := make(map[string]inventory.Book, len(m.books))
	for k, v := range m.books {
		books[k] = v
	}
	loans := make(map[int64]Loan, len(m.loans))
	for k, v := range m.loans {
		loans[k] = v
	}
	nextID := m.nextID
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.books, m.loans, m.nextID = books, loans, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

// ---- inventory.StockStore ----

func (m *memDB) LockBook(_ context.Context, isbn string) (inventory.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[isbn]
	if !ok {
		return inventory.Book{}, inventory.ErrBookNotFound
	}
	return b, nil
}

func (m *memDB) UpdateStock(_ context.Context, isbn string, stock, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.books[isbn]
	b.Stock, b.Total = stock, total
	m.books[isbn] = b
	return nil
}

func (m *memDB) CountActiveLoans(_ context.Context, isbn string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCountLocked(isbn), nil
}

// ---- Repository ----

func (m *memDB) FindActive(_ context.Context, userID int64, isbn string) (*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.UserID == userID && l.BookISBN == isbn && l.Status == StatusActive {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memDB) Insert(_ context.Context, l *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[l.UserID]; !ok {
		return ErrUserNotFound
	}
	m.nextID++
	l.ID = m.nextID
	l.RecipientID = m.users[l.UserID]
	m.loans[l.ID] = *l
	return nil
}

func (m *memDB) GetForUpdate(ctx context.Context, id int64) (Loan, error) {
	return m.Get(ctx, id)
}

func (m *memDB) Get(_ context.Context, id int64) (Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	return l, nil
}

func (m *memDB) MarkReturned(_ context.Context, id int64, at time.Time, method ReturnMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok || l.Status != StatusActive {
		return ErrAlreadyReturned
	}
	l.Status = StatusReturned
	l.ReturnedAt.Time, l.ReturnedAt.Valid = at, true
	l.ReturnMethod.String, l.ReturnMethod.Valid = string(method), true
	m.loans[id] = l
	return nil
}

func (m *memDB) MarkReminded(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	if !ok || l.Status != StatusActive {
		return ErrLoanNotActive
	}
	l.RemindCount++
	l.LastRemindAt.Time, l.LastRemindAt.Valid = at, true
	m.loans[id] = l
	return nil
}

func (m *memDB) ListActive(_ context.Context, f ActiveFilter) ([]Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Loan
	for _, l := range m.loans {
		if l.Status != StatusActive {
			continue
		}
		if f.DueAfter != nil && l.DueDate.Before(*f.DueAfter) {
			continue
		}
		if f.DueBefore != nil && l.DueDate.After(*f.DueBefore) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDB) List(_ context.Context, f ListFilter) ([]Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Loan
	for _, l := range m.loans {
		if f.UserID != nil && l.UserID != *f.UserID {
			continue
		}
		if f.ISBN != nil && l.BookISBN != *f.ISBN {
			continue
		}
		switch f.Status {
		case FilterActive:
			if l.Status != StatusActive {
				continue
			}
		case FilterReturned:
			if l.Status != StatusReturned {
				continue
			}
		case FilterOverdue:
			if !IsOverdue(l, f.Now) {
				continue
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Loan{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memDB) Counts(_ context.Context, now time.Time) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, l := range m.loans {
		switch l.Status {
		case StatusActive:
			c.Active++
			if l.DueDate.Before(now) {
				c.Overdue++
			}
		case StatusReturned:
			c.Returned++
		}
	}
	return c, nil
}

func (m *memDB) DailyStats(_ context.Context, from, to, now time.Time) (DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := DailyStats{From: from, To: to, TotalBooks: int64(len(m.books))}
	in := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }
	for _, l := range m.loans {
		if in(l.BorrowedAt) {
			st.NewBorrows++
		}
		if l.ReturnedAt.Valid && in(l.ReturnedAt.Time) {
			st.Returns++
		}
		if IsOverdue(l, now) {
			st.Overdue++
		}
	}
	return st, nil
}
