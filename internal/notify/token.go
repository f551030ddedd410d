package notify

import (
	"sync"
	"time"

	"LIBRA-backend/internal/platform/clock"
)

// TokenCache は access_token を期限の少し前まで保持する。
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	skew      time.Duration
	clock     clock.Clock
}

func NewTokenCache(skew time.Duration, clk clock.Clock) *TokenCache {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TokenCache{skew: skew, clock: clk}
}

// Get は now < expiresAt - skew の間だけ有効なトークンを返す。
func (c *TokenCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.clock.Now().Before(c.expiresAt.Add(-c.skew)) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = c.clock.Now().Add(ttl)
}

func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}
