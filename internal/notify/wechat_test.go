package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"LIBRA-backend/internal/platform/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWeChat struct {
	tokenCalls atomic.Int32
	sendCalls  atomic.Int32
	sendCode   atomic.Int32
	lastBody   atomic.Value
}

func (f *fakeWeChat) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		assert.Equal(t, "client_credential", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "wx-app", r.URL.Query().Get("appid"))
		_, _ = io.WriteString(w, `{"access_token":"TOKEN","expires_in":7200}`)
	})
	mux.HandleFunc("/cgi-bin/message/subscribe/send", func(w http.ResponseWriter, r *http.Request) {
		f.sendCalls.Add(1)
		assert.Equal(t, "TOKEN", r.URL.Query().Get("access_token"))
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))
		_, _ = io.WriteString(w, `{"errcode":`+itoa(int(f.sendCode.Load()))+`,"errmsg":"x"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestWeChat(srv *httptest.Server, tokens *TokenCache) *WeChat {
	return NewWeChat(WeChatConfig{
		BaseURL: srv.URL,
		AppID:   "wx-app",
		Secret:  "wx-secret",
		Templates: map[TemplateKind]string{
			KindDueSoon: "tpl-due",
			KindOverdue: "tpl-overdue",
		},
		Page: "pages/borrow-list/borrow-list",
	}, srv.Client(), tokens, nil)
}

func TestWeChat_DeliverReusesToken(t *testing.T) {
	f := &fakeWeChat{}
	srv := f.server(t)
	w := newTestWeChat(srv, nil)
	ctx := context.Background()

	p := Payload{Title: "计算机程序的构造和解释（原书第2版）典藏版", DueDate: "2024-01-12", DaysValue: 2}
	require.NoError(t, w.Deliver(ctx, "openid-1", KindDueSoon, p))
	require.NoError(t, w.Deliver(ctx, "openid-2", KindOverdue, p))

	assert.Equal(t, int32(1), f.tokenCalls.Load())
	assert.Equal(t, int32(2), f.sendCalls.Load())

	var msg subscribeMessage
	require.NoError(t, json.Unmarshal([]byte(f.lastBody.Load().(string)), &msg))
	assert.Equal(t, "openid-2", msg.ToUser)
	assert.Equal(t, "tpl-overdue", msg.TemplateID)
	assert.Equal(t, "2024-01-12", msg.Data["time2"].Value)
	assert.Equal(t, "已逾期2天，请立即归还", msg.Data["thing3"].Value)
	assert.LessOrEqual(t, len([]rune(msg.Data["thing1"].Value)), 20)
}

func TestWeChat_ErrorMapping(t *testing.T) {
	cases := []struct {
		code int32
		want Reason
	}{
		{code: 43101, want: ReasonNotSubscribed},
		{code: 40001, want: ReasonTransient},
		{code: -1, want: ReasonTransient},
		{code: 40003, want: ReasonRejected},
	}
	for _, tc := range cases {
		f := &fakeWeChat{}
		f.sendCode.Store(tc.code)
		w := newTestWeChat(f.server(t), nil)

		err := w.Deliver(context.Background(), "openid", KindDueSoon, Payload{Title: "Go"})
		require.Error(t, err)
		var de *DeliveryError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, tc.want, de.Reason, "errcode %d", tc.code)
	}
}

func TestWeChat_InvalidTokenForcesRefresh(t *testing.T) {
	f := &fakeWeChat{}
	f.sendCode.Store(40001)
	w := newTestWeChat(f.server(t), nil)
	ctx := context.Background()

	require.Error(t, w.Deliver(ctx, "openid", KindDueSoon, Payload{Title: "Go"}))
	f.sendCode.Store(0)
	require.NoError(t, w.Deliver(ctx, "openid", KindDueSoon, Payload{Title: "Go"}))
	assert.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestWeChat_UnreachableIsTransient(t *testing.T) {
	f := &fakeWeChat{}
	srv := f.server(t)
	w := newTestWeChat(srv, nil)
	srv.Close()

	err := w.Deliver(context.Background(), "openid", KindDueSoon, Payload{Title: "Go"})
	assert.Equal(t, ReasonTransient, ReasonOf(err))
}

func TestWeChat_MissingTemplateIsRejected(t *testing.T) {
	w := NewWeChat(WeChatConfig{BaseURL: "http://127.0.0.1:1"}, nil, nil, nil)
	err := w.Deliver(context.Background(), "openid", KindOverdue, Payload{})
	assert.Equal(t, ReasonRejected, ReasonOf(err))
}

func TestTokenCache_RefreshesBeforeExpiry(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	c := NewTokenCache(5*time.Minute, clk)

	_, ok := c.Get()
	assert.False(t, ok)

	c.Set("T1", 2*time.Hour)
	tok, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "T1", tok)

	clk.Advance(2*time.Hour - 5*time.Minute - time.Second)
	_, ok = c.Get()
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get()
	assert.False(t, ok)

	c.Set("T2", time.Hour)
	c.Invalidate()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "还有3天到期，请及时归还或续借", messageText(KindDueSoon, 3))
	assert.Equal(t, "已逾期7天，请立即归还", messageText(KindOverdue, 7))
}
