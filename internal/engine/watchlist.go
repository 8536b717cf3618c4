package engine

import (
	"context"
	"fmt"

	"github.com/gustycube/baxter/internal/metrics"
	"github.com/gustycube/baxter/internal/types"
)

// escalate logs a flagged block on the watchlist and bans it once it has been
// flagged WatchlistBan times since the last weekly reset.
func (e *Engine) escalate(ctx context.Context, r *run, notation string) error {
	count, err := e.store.AppendWatch(ctx, notation)
	if err != nil {
		return fmt.Errorf("append watchlist %s: %w", notation, err)
	}
	e.log.Infow("watchlisted", "target", notation, "occurrences", count, "limit", e.opts.WatchlistBan)
	if count < e.opts.WatchlistBan {
		return nil
	}

	metrics.WatchlistPromotionsTotal.Inc()
	reason := fmt.Sprintf("flagged %d times this week", count)
	return e.decide(ctx, r, types.ScopeBlock, types.ClassBanned, notation, reason)
}
