package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// NonceCache implements domain.NonceCache with SET NX. Keys expire with the
// request validity window.
type NonceCache struct {
	c *Client
}

func NewNonceCache(c *Client) *NonceCache {
	return &NonceCache{c: c}
}

// Claim records nonce and reports whether it was unseen.
func (nc *NonceCache) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := nc.c.rdb.SetNX(ctx, nc.c.key("nonce:", nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

var _ domain.NonceCache = (*NonceCache)(nil)
