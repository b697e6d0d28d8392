package provider

import (
	"sync/atomic"
	"time"
)

const defaultTokenSafetyMargin = 60 * time.Second

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache holds one adapter's bearer token. Concurrent refreshes are
// allowed: each stores a complete token and the last write wins.
type TokenCache struct {
	current atomic.Pointer[cachedToken]
	margin  time.Duration
	now     func() time.Time
}

func NewTokenCache(margin time.Duration) *TokenCache {
	if margin < 0 {
		margin = 0
	}
	return &TokenCache{margin: margin, now: time.Now}
}

// Get returns the cached token when it is still valid past the safety margin.
func (c *TokenCache) Get() (string, bool) {
	token := c.current.Load()
	if token == nil || token.value == "" {
		return "", false
	}
	if !c.now().Add(c.margin).Before(token.expiresAt) {
		return "", false
	}
	return token.value, true
}

func (c *TokenCache) Store(value string, ttl time.Duration) {
	c.current.Store(&cachedToken{value: value, expiresAt: c.now().Add(ttl)})
}

func (c *TokenCache) Invalidate() {
	c.current.Store(nil)
}
