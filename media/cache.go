package media

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoises successful lookups of another Searcher for a limited time.
// Failures are never cached.
type Cached struct {
	next  Searcher
	cache *expirable.LRU[string, []Item]
}

func NewCached(next Searcher, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 256
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, []Item](size, nil, ttl),
	}
}

func (c *Cached) Search(ctx context.Context, query string) ([]Item, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return []Item{}, nil
	}
	if items, ok := c.cache.Get(key); ok {
		return items, nil
	}
	items, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, items)
	return items, nil
}
