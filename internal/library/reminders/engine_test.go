package reminders

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"LIBRA-backend/internal/library/loans"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/platform/clock"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	loans    map[int64]loans.Loan
	queries  int
	reminded map[int64]int
}

func newFakeSource(ls ...loans.Loan) *fakeSource {
	f := &fakeSource{loans: map[int64]loans.Loan{}, reminded: map[int64]int{}}
	for _, l := range ls {
		f.loans[l.ID] = l
	}
	return f
}

func (f *fakeSource) ListActiveLoans(ctx context.Context, af loans.ActiveFilter) ([]loans.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	var out []loans.Loan
	for _, l := range f.loans {
		if l.Status != loans.StatusActive {
			continue
		}
		if af.DueBefore != nil && l.DueDate.After(*af.DueBefore) {
			continue
		}
		if af.DueAfter != nil && l.DueDate.Before(*af.DueAfter) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (f *fakeSource) Get(ctx context.Context, id int64) (loans.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[id]
	if !ok {
		return loans.Loan{}, loans.ErrLoanNotFound
	}
	return l, nil
}

func (f *fakeSource) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.loans[id]
	if !ok || l.Status != loans.StatusActive {
		return loans.ErrLoanNotActive
	}
	l.RemindCount++
	l.LastRemindAt = sql.NullTime{Time: at, Valid: true}
	f.loans[id] = l
	f.reminded[id]++
	return nil
}

type sent struct {
	recipient string
	kind      notify.TemplateKind
	payload   notify.Payload
}

// fakeSender は failFor に含まれる宛先で失敗し、hook があれば送信のたびに呼ぶ。
type fakeSender struct {
	mu      sync.Mutex
	sent    []sent
	failFor map[string]notify.Reason
	panicOn string
	hook    func()
}

func (s *fakeSender) Deliver(ctx context.Context, recipient string, kind notify.TemplateKind, p notify.Payload) error {
	if s.hook != nil {
		s.hook()
	}
	if recipient == s.panicOn && recipient != "" {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.failFor[recipient]; ok {
		return &notify.DeliveryError{Reason: r, Err: errors.New("fake")}
	}
	s.sent = append(s.sent, sent{recipient: recipient, kind: kind, payload: p})
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func loanFor(id int64, recipient string, due time.Time) loans.Loan {
	l := activeLoan(id, due)
	l.RecipientID = recipient
	return l
}

func newTestEngine(src LoanSource, sender notify.Sender, clk clock.Clock) *Engine {
	return NewEngine(src, sender,
		WithClock(clk),
		WithPolicy(Policy{RemindBeforeDays: 3}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestEngine_CandidatesSingleQueryAndIdempotent(t *testing.T) {
	src := newFakeSource(
		loanFor(1, "u1", jan10.Add(2*day)),
		loanFor(2, "u2", jan10.Add(5*day)),
		loanFor(3, "u3", jan10.Add(-7*day)),
		loanFor(4, "u4", jan10.Add(-10*day)),
	)
	e := newTestEngine(src, &fakeSender{}, clock.NewFixed(jan10))

	first, err := e.Candidates(context.Background(), jan10)
	require.NoError(t, err)
	assert.Equal(t, 1, src.queries)

	second, err := e.Candidates(context.Background(), jan10)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ids := []int64{}
	for _, n := range first {
		ids = append(ids, n.Loan.ID)
	}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestEngine_SweepContinuesAfterFailure(t *testing.T) {
	var ls []loans.Loan
	recipients := []string{"a", "b", "c", "d", "e"}
	for i, r := range recipients {
		ls = append(ls, loanFor(int64(i+1), r, jan10.Add(2*day)))
	}
	src := newFakeSource(ls...)
	sender := &fakeSender{failFor: map[string]notify.Reason{"c": notify.ReasonNotSubscribed}}
	e := newTestEngine(src, sender, clock.NewFixed(jan10))

	res, err := e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Qualified)
	assert.Equal(t, 5, res.DueSoon)
	assert.Equal(t, 4, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Failures[notify.ReasonNotSubscribed])
	assert.Equal(t, 4, sender.count())

	// 失敗した1件は記録しない
	assert.Equal(t, 0, src.reminded[3])
	assert.Equal(t, 1, src.reminded[1])
	assert.Contains(t, res.String(), "recipient_not_subscribed:1")
}

func TestEngine_SweepRecoversPanic(t *testing.T) {
	src := newFakeSource(
		loanFor(1, "ok1", jan10.Add(2*day)),
		loanFor(2, "bad", jan10.Add(2*day+time.Hour)),
		loanFor(3, "ok2", jan10.Add(2*day+2*time.Hour)),
	)
	sender := &fakeSender{panicOn: "bad"}
	e := newTestEngine(src, sender, clock.NewFixed(jan10))

	res, err := e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failures[reasonPanic])
}

func TestEngine_SweepSkipsRecentlyReminded(t *testing.T) {
	clk := clock.NewManual(jan10)
	src := newFakeSource(loanFor(1, "u1", jan10.Add(-7*day)))
	sender := &fakeSender{}
	e := newTestEngine(src, sender, clk)

	res, err := e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	// 同じ日の再実行は送らない
	clk.Advance(time.Hour)
	res, err = e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, sender.count())
}

func TestEngine_SweepOverdueOnly(t *testing.T) {
	src := newFakeSource(
		loanFor(1, "u1", jan10.Add(2*day)),
		loanFor(2, "u2", jan10.Add(-3*day)),
	)
	sender := &fakeSender{}
	e := newTestEngine(src, sender, clock.NewFixed(jan10))

	res, err := e.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Qualified)
	assert.Equal(t, 1, res.Overdue)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, notify.KindOverdue, sender.sent[0].kind)
	assert.Equal(t, 3, sender.sent[0].payload.DaysValue)
}

func TestEngine_SweepStopsBetweenLoans(t *testing.T) {
	src := newFakeSource(
		loanFor(1, "u1", jan10.Add(2*day)),
		loanFor(2, "u2", jan10.Add(2*day+time.Hour)),
		loanFor(3, "u3", jan10.Add(2*day+2*time.Hour)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 1件目の送信中に停止要求が来る
	sender := &fakeSender{hook: cancel}
	e := newTestEngine(src, sender, clock.NewFixed(jan10))

	res, err := e.Sweep(ctx)
	require.ErrorIs(t, err, ErrSweepInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.Abandoned)
	// 処理中だった1件は記録まで終わっている
	assert.Equal(t, 1, src.reminded[1])
}

func TestEngine_RemindOne(t *testing.T) {
	returned := loanFor(2, "u2", jan10.Add(-time.Hour))
	returned.Status = loans.StatusReturned
	src := newFakeSource(loanFor(1, "u1", jan10.Add(-8*day)), returned)
	sender := &fakeSender{}
	e := newTestEngine(src, sender, clock.NewFixed(jan10))

	// 通知日でなくても手動なら送る
	n, err := e.RemindOne(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, notify.KindOverdue, n.Kind)
	assert.Equal(t, 8, n.Days)
	assert.Equal(t, 1, src.reminded[1])

	_, err = e.RemindOne(context.Background(), 2)
	assert.ErrorIs(t, err, loans.ErrLoanNotActive)

	_, err = e.RemindOne(context.Background(), 99)
	assert.ErrorIs(t, err, loans.ErrLoanNotFound)
}

func TestHandler_RemindOne(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := newFakeSource(loanFor(1, "u1", jan10.Add(2*day)), loanFor(2, "nosub", jan10.Add(2*day)))
	sender := &fakeSender{failFor: map[string]notify.Reason{"nosub": notify.ReasonNotSubscribed}}
	e := newTestEngine(src, sender, clock.NewFixed(jan10))

	r := gin.New()
	RegisterAdminRoutes(r, e)

	cases := []struct {
		path string
		code int
		body string
	}{
		{path: "/borrows/1/remind", code: http.StatusOK, body: `"sent":true`},
		{path: "/borrows/2/remind", code: http.StatusOK, body: `"reason":"recipient_not_subscribed"`},
		{path: "/borrows/99/remind", code: http.StatusNotFound, body: `LOAN_NOT_FOUND`},
		{path: "/borrows/x/remind", code: http.StatusBadRequest, body: `INVALID_ARGUMENT`},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, tc.path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.code, w.Code, tc.path)
		assert.Contains(t, w.Body.String(), tc.body, tc.path)
	}
}
