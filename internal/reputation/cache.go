package reputation

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gustycube/baxter/internal/types"
)

// Cached memoizes successful lookups so an address seen by several passes of
// one run costs a single API call. Purge empties it; the engine purges at the
// start of every run so results never carry over between runs.
type Cached struct {
	next Client
	lru  *expirable.LRU[string, types.ReputationResult]
}

func NewCached(next Client, size int, ttl time.Duration) *Cached {
	return &Cached{
		next: next,
		lru:  expirable.NewLRU[string, types.ReputationResult](size, nil, ttl),
	}
}

func (c *Cached) Lookup(ctx context.Context, address string) (types.ReputationResult, error) {
	if v, ok := c.lru.Get(address); ok {
		return v, nil
	}
	res, err := c.next.Lookup(ctx, address)
	if err != nil {
		return res, err
	}
	c.lru.Add(address, res)
	return res, nil
}

func (c *Cached) Purge() {
	c.lru.Purge()
}
