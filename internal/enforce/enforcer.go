package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gustycube/baxter/internal/logging"
	"github.com/gustycube/baxter/internal/metrics"
	"github.com/gustycube/baxter/internal/queue"
	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

// Enforcer drains ban decisions from a queue into a sink.
type Enforcer struct {
	q        queue.Queue
	sink     Sink
	log      *logging.Logger
	retries  uint64
	attempts int
	wait     time.Duration
	initial  time.Duration
}

// New builds an enforcer that retries each block retries times with backoff
// and requeues a decision that still fails, up to three leases in total.
func New(q queue.Queue, sink Sink, retries int, log *logging.Logger) *Enforcer {
	if log == nil {
		log = logging.Nop()
	}
	if retries < 0 {
		retries = 0
	}
	return &Enforcer{
		q:        q,
		sink:     sink,
		log:      log,
		retries:  uint64(retries),
		attempts: 3,
		wait:     5 * time.Second,
		initial:  250 * time.Millisecond,
	}
}

// Run enforces decisions until ctx is cancelled.
func (e *Enforcer) Run(ctx context.Context) error {
	for {
		if _, err := e.step(ctx, e.wait); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Warnw("lease failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Drain enforces whatever is queued now and returns how many leases it
// handled. Decisions requeued after a failure are retried within the same call.
func (e *Enforcer) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		ok, err := e.step(ctx, 0)
		if err != nil {
			return handled, err
		}
		if !ok {
			return handled, nil
		}
		handled++
	}
}

// step leases one decision and applies it. It reports false when the queue
// was empty.
func (e *Enforcer) step(ctx context.Context, wait time.Duration) (bool, error) {
	it, ack, err := e.q.Lease(ctx, wait)
	if err != nil {
		return false, err
	}
	if it.Decision.Target == "" {
		return false, nil
	}
	defer func() {
		if err := ack(); err != nil {
			e.log.Warnw("ack failed", "target", it.Decision.Target, "err", err)
		}
	}()

	if err := e.apply(ctx, it.Decision); err != nil {
		if ctx.Err() != nil {
			// Shutting down: hand the decision back untouched so the next
			// process applies it.
			if rerr := e.q.Requeue(context.WithoutCancel(ctx), it); rerr != nil {
				e.log.Errorw("requeue on shutdown failed", "target", it.Decision.Target, "err", rerr)
			}
			return false, ctx.Err()
		}
		it.Attempt++
		if it.Attempt >= e.attempts {
			metrics.EnforcementsTotal.WithLabelValues("dropped").Inc()
			e.log.Errorw("giving up on block", "target", it.Decision.Target, "attempts", it.Attempt, "err", err)
			return true, nil
		}
		metrics.EnforcementsTotal.WithLabelValues("error").Inc()
		e.log.Warnw("block failed, requeueing", "target", it.Decision.Target, "attempt", it.Attempt, "err", err)
		if err := e.q.Requeue(ctx, it); err != nil {
			return true, fmt.Errorf("requeue %s: %w", it.Decision.Target, err)
		}
		return true, nil
	}
	metrics.EnforcementsTotal.WithLabelValues("ok").Inc()
	e.log.Infow("blocked", "target", it.Decision.Target, "scope", string(it.Decision.Scope), "reason", it.Decision.Reason)
	return true, nil
}

func (e *Enforcer) apply(ctx context.Context, d types.Decision) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, e.retries), ctx)
	return backoff.Retry(func() error { return e.sink.Block(ctx, d.Target) }, policy)
}

// Reapply queues a ban for every target in the banned set, used after a
// firewall flush or host restart. It returns how many were queued.
func Reapply(ctx context.Context, st store.Store, q queue.Queue, now time.Time) (int, error) {
	banned, err := st.List(ctx, types.ClassBanned)
	if err != nil {
		return 0, fmt.Errorf("list banned: %w", err)
	}
	seen := make(map[string]struct{}, len(banned))
	for _, target := range banned {
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		scope := types.ScopeAddress
		if types.IsNotation(target) {
			scope = types.ScopeBlock
		}
		d := types.Decision{Target: target, Scope: scope, Class: types.ClassBanned, Reason: "reapply", DecidedAt: now}
		if err := q.Publish(ctx, d); err != nil {
			return len(seen) - 1, fmt.Errorf("publish %s: %w", target, err)
		}
	}
	return len(seen), nil
}
