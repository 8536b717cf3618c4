// Package engine decides which addresses and /24 blocks are allowed, flagged
// or banned from a snapshot of per-address request counts and the reputation
// of a bounded sample of addresses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/gustycube/baxter/internal/logging"
	"github.com/gustycube/baxter/internal/metrics"
	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

var tracer = otel.Tracer("baxter/engine")

// Reputation looks up the reputation of a single address.
type Reputation interface {
	Lookup(ctx context.Context, address string) (types.ReputationResult, error)
}

// Publisher receives ban decisions for enforcement.
type Publisher interface {
	Publish(ctx context.Context, d types.Decision) error
}

// Options configures an Engine.
type Options struct {
	Thresholds     Thresholds
	ClusterMinimum int
	WatchlistBan   int
	// MaxClusters caps how many qualifying clusters a run analyzes; 0 means all.
	MaxClusters int
	// Concurrency is the number of clusters analyzed in parallel.
	Concurrency int
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Engine runs the classification passes against a store.
type Engine struct {
	opts  Options
	store store.Store
	rep   Reputation
	pub   Publisher
	log   *logging.Logger
}

// New builds an engine. pub may be nil when nothing should be enforced.
func New(opts Options, st store.Store, rep Reputation, pub Publisher, log *logging.Logger) *Engine {
	opts.Thresholds.SetDefaults()
	if opts.ClusterMinimum < 1 {
		opts.ClusterMinimum = 35
	}
	if opts.WatchlistBan < 1 {
		opts.WatchlistBan = 4
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{opts: opts, store: st, rep: rep, pub: pub, log: log}
}

// Summary describes what one run did.
type Summary struct {
	Started   time.Time
	Duration  time.Duration
	Addresses int
	Clusters  int
	// Queries counts reputation queries the engine issued, answers served
	// from a cache included. Provider calls are counted by the client.
	Queries   int
	Decisions []types.Decision
}

// Count returns how many decisions of class were made for scope.
func (s Summary) Count(scope types.Scope, class types.Class) int {
	n := 0
	for _, d := range s.Decisions {
		if d.Scope == scope && d.Class == class {
			n++
		}
	}
	return n
}

// run carries the state shared by the passes of a single Run.
type run struct {
	started time.Time
	ledger  *ledger
	rep     Reputation
	log     *logging.Logger

	mu        sync.Mutex
	queries   int
	decisions []types.Decision
}

// lookup fetches a reputation and reports whether it is usable.
func (r *run) lookup(ctx context.Context, address string) (types.ReputationResult, bool) {
	r.mu.Lock()
	r.queries++
	r.mu.Unlock()

	res, err := r.rep.Lookup(ctx, address)
	if err != nil {
		metrics.LookupsTotal.WithLabelValues("error").Inc()
		r.log.Warnw("reputation lookup failed", "address", address, "err", err)
		return types.ReputationResult{}, false
	}
	metrics.LookupsTotal.WithLabelValues("ok").Inc()
	return res, true
}

// Run classifies the superusers and clusters found in obs. Store failures
// abort the run; reputation and enforcement failures do not.
func (e *Engine) Run(ctx context.Context, obs []types.AddressObservation) (Summary, error) {
	ctx, span := tracer.Start(ctx, "engine.Run")
	defer span.End()

	started := e.opts.Now()
	l, err := newLedger(ctx, e.store)
	if err != nil {
		return Summary{}, fmt.Errorf("load classification state: %w", err)
	}
	if p, ok := e.rep.(interface{ Purge() }); ok {
		p.Purge()
	}
	r := &run{started: started, ledger: l, rep: e.rep, log: e.log}

	if err := e.processSuperusers(ctx, r, obs); err != nil {
		return e.summarize(r, len(obs), 0), err
	}

	clusters := BuildClusters(obs, e.opts.ClusterMinimum)
	if e.opts.MaxClusters > 0 && len(clusters) > e.opts.MaxClusters {
		clusters = clusters[:e.opts.MaxClusters]
	}
	span.SetAttributes(attribute.Int("addresses", len(obs)), attribute.Int("clusters", len(clusters)))
	e.log.Infow("processing clusters", "count", len(clusters), "minimum", e.opts.ClusterMinimum)

	err = e.processClusters(ctx, r, clusters)
	sum := e.summarize(r, len(obs), len(clusters))
	metrics.RunDuration.Observe(sum.Duration.Seconds())
	return sum, err
}

func (e *Engine) processClusters(ctx context.Context, r *run, clusters []Cluster) error {
	if e.opts.Concurrency == 1 {
		for _, c := range clusters {
			if err := e.analyzeCluster(ctx, r, c); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, c := range clusters {
		c := c
		g.Go(func() error { return e.analyzeCluster(gctx, r, c) })
	}
	return g.Wait()
}

// decide records a classification and hands bans to the publisher.
func (e *Engine) decide(ctx context.Context, r *run, scope types.Scope, class types.Class, target, reason string) error {
	written, err := r.ledger.record(ctx, class, target)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", class, target, err)
	}
	if !written {
		return nil
	}

	d := types.Decision{Target: target, Scope: scope, Class: class, Reason: reason, DecidedAt: e.opts.Now()}
	r.mu.Lock()
	r.decisions = append(r.decisions, d)
	r.mu.Unlock()
	metrics.DecisionsTotal.WithLabelValues(string(scope), class.String()).Inc()
	e.log.Infow("decision", "target", target, "class", class.String(), "reason", reason)

	if class != types.ClassBanned || e.pub == nil {
		return nil
	}
	if err := e.pub.Publish(ctx, d); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		e.log.Errorw("publish ban failed", "target", target, "err", err)
	}
	return nil
}

func (e *Engine) summarize(r *run, addresses, clusters int) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Started:   r.started,
		Duration:  e.opts.Now().Sub(r.started),
		Addresses: addresses,
		Clusters:  clusters,
		Queries:   r.queries,
		Decisions: append([]types.Decision(nil), r.decisions...),
	}
}
