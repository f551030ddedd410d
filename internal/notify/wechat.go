package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WeChat のエラーコード
const (
	errcodeOK              = 0
	errcodeInvalidToken    = 40001
	errcodeTokenExpired    = 42001
	errcodeNotSubscribed   = 43101
	errcodeSystemBusy      = -1
	thingMaxRunes          = 20
	defaultTokenRefreshGap = 5 * time.Minute
)

type WeChatConfig struct {
	BaseURL   string
	AppID     string
	Secret    string
	Templates map[TemplateKind]string
	Page      string
}

// WeChat はミニプログラムのサブスクライブメッセージ送信。
type WeChat struct {
	cfg    WeChatConfig
	client *http.Client
	tokens *TokenCache
	group  singleflight.Group
	logger *slog.Logger
}

func NewWeChat(cfg WeChatConfig, client *http.Client, tokens *TokenCache, logger *slog.Logger) *WeChat {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if tokens == nil {
		tokens = NewTokenCache(defaultTokenRefreshGap, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WeChat{cfg: cfg, client: client, tokens: tokens, logger: logger}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

type dataValue struct {
	Value string `json:"value"`
}

type subscribeMessage struct {
	ToUser     string               `json:"touser"`
	TemplateID string               `json:"template_id"`
	Page       string               `json:"page,omitempty"`
	Data       map[string]dataValue `json:"data"`
}

type sendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (w *WeChat) Deliver(ctx context.Context, recipientID string, kind TemplateKind, p Payload) error {
	tpl := w.cfg.Templates[kind]
	if tpl == "" {
		return &DeliveryError{Reason: ReasonRejected, Err: fmt.Errorf("no template for %s", kind)}
	}
	if recipientID == "" {
		return &DeliveryError{Reason: ReasonRejected, Err: errors.New("empty recipient")}
	}

	token, err := w.accessToken(ctx)
	if err != nil {
		return &DeliveryError{Reason: ReasonTransient, Err: err}
	}

	msg := subscribeMessage{
		ToUser:     recipientID,
		TemplateID: tpl,
		Page:       w.cfg.Page,
		Data: map[string]dataValue{
			"thing1": {Value: truncateRunes(p.Title, thingMaxRunes)},
			"time2":  {Value: p.DueDate},
			"thing3": {Value: truncateRunes(messageText(kind, p.DaysValue), thingMaxRunes)},
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return &DeliveryError{Reason: ReasonRejected, Err: err}
	}

	endpoint := w.cfg.BaseURL + "/cgi-bin/message/subscribe/send?access_token=" + url.QueryEscape(token)
	var res sendResponse
	if err := w.do(ctx, http.MethodPost, endpoint, body, &res); err != nil {
		return &DeliveryError{Reason: ReasonTransient, Err: err}
	}

	switch res.ErrCode {
	case errcodeOK:
		return nil
	case errcodeNotSubscribed:
		return &DeliveryError{Reason: ReasonNotSubscribed, Err: fmt.Errorf("errcode %d: %s", res.ErrCode, res.ErrMsg)}
	case errcodeInvalidToken, errcodeTokenExpired:
		// 次回の送信で取り直す
		w.tokens.Invalidate()
		return &DeliveryError{Reason: ReasonTransient, Err: fmt.Errorf("errcode %d: %s", res.ErrCode, res.ErrMsg)}
	case errcodeSystemBusy:
		return &DeliveryError{Reason: ReasonTransient, Err: fmt.Errorf("errcode %d: %s", res.ErrCode, res.ErrMsg)}
	default:
		return &DeliveryError{Reason: ReasonRejected, Err: fmt.Errorf("errcode %d: %s", res.ErrCode, res.ErrMsg)}
	}
}

// accessToken はキャッシュを優先し、同時に期限切れになっても取得は1回にまとめる。
func (w *WeChat) accessToken(ctx context.Context) (string, error) {
	if tok, ok := w.tokens.Get(); ok {
		return tok, nil
	}
	v, err, _ := w.group.Do("token", func() (any, error) {
		if tok, ok := w.tokens.Get(); ok {
			return tok, nil
		}
		q := url.Values{}
		q.Set("grant_type", "client_credential")
		q.Set("appid", w.cfg.AppID)
		q.Set("secret", w.cfg.Secret)

		var res tokenResponse
		if err := w.do(ctx, http.MethodGet, w.cfg.BaseURL+"/cgi-bin/token?"+q.Encode(), nil, &res); err != nil {
			return "", err
		}
		if res.ErrCode != 0 || res.AccessToken == "" {
			return "", fmt.Errorf("get access_token: errcode %d: %s", res.ErrCode, res.ErrMsg)
		}
		w.tokens.Set(res.AccessToken, time.Duration(res.ExpiresIn)*time.Second)
		w.logger.Info("wechat access_token refreshed", "expires_in", res.ExpiresIn)
		return res.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (w *WeChat) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

func messageText(kind TemplateKind, days int) string {
	if kind == KindOverdue {
		return fmt.Sprintf("已逾期%d天，请立即归还", days)
	}
	return fmt.Sprintf("还有%d天到期，请及时归还或续借", days)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
