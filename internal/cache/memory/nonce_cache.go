// Package memory holds process-local fallbacks for the Redis-backed caches,
// used when the daemon runs without Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/alanyoungcy/lazymarket/internal/domain"
)

// DefaultNonceCapacity bounds the number of remembered signatures.
const DefaultNonceCapacity = 100_000

// NonceCache implements domain.NonceCache over a bounded LRU. An evicted
// signature can be replayed, so size the cache above the number of signed
// requests expected within one validity window.
type NonceCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

// NewNonceCache creates a cache holding at most capacity signatures.
func NewNonceCache(capacity int) (*NonceCache, error) {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("memory: nonce cache: %w", err)
	}
	return &NonceCache{cache: cache, now: time.Now}, nil
}

// Claim records nonce until ttl elapses and reports whether it was unseen.
func (nc *NonceCache) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	now := nc.now()
	if v, ok := nc.cache.Get(nonce); ok {
		if now.Before(v.(time.Time)) {
			return false, nil
		}
	}
	nc.cache.Add(nonce, now.Add(ttl))
	return true, nil
}

var _ domain.NonceCache = (*NonceCache)(nil)
