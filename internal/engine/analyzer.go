package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gustycube/baxter/internal/metrics"
	"github.com/gustycube/baxter/internal/types"
)

// Evidence accumulates what the sampled members of a cluster revealed.
type Evidence struct {
	Sampled     int
	Badbots     int
	Flaggedbots int
	EarlyExit   bool
}

// analyzeCluster samples the first SampleSize members in order and classifies
// the whole block. Sampling stops as soon as the badbot count reaches
// ClusterBanBadbots; lookups that fail count as neither clean nor bad.
func (e *Engine) analyzeCluster(ctx context.Context, r *run, c Cluster) error {
	ctx, span := tracer.Start(ctx, "engine.Cluster")
	defer span.End()
	span.SetAttributes(attribute.String("block", c.Notation))

	if r.ledger.processed(c.Notation) {
		e.log.Infow("processed already", "target", c.Notation)
		metrics.SkippedTotal.WithLabelValues(string(types.ScopeBlock)).Inc()
		return nil
	}

	t := e.opts.Thresholds
	window := t.RecencyWindow()
	sample := c.Members
	if len(sample) > t.SampleSize {
		sample = sample[:t.SampleSize]
	}

	var ev Evidence
	for _, addr := range sample {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev.Sampled++
		res, ok := r.lookup(ctx, addr)
		if !ok {
			continue
		}

		switch {
		case res.ConfidenceScore > 0:
			e.log.Infow("bad bot", "address", addr, "score", res.ConfidenceScore, "block", c.Notation)
			ev.Badbots++
			if res.ConfidenceScore >= t.IndividualBanScore {
				reason := fmt.Sprintf("sampled in %s with score %d", c.Notation, res.ConfidenceScore)
				if err := e.decide(ctx, r, types.ScopeAddress, types.ClassBanned, addr, reason); err != nil {
					return err
				}
			}
		case res.TotalReports > 0:
			if res.ReportedWithin(r.started, window) {
				e.log.Infow("reported recently", "address", addr, "block", c.Notation)
				ev.Badbots++
			}
			ev.Flaggedbots++
		}

		if ev.Badbots == t.ClusterBanBadbots {
			ev.EarlyExit = true
			break
		}
	}

	span.SetAttributes(
		attribute.Int("sampled", ev.Sampled),
		attribute.Int("badbots", ev.Badbots),
		attribute.Int("flaggedbots", ev.Flaggedbots),
	)

	class, reason := judgeCluster(ev, t)
	if ev.EarlyExit {
		metrics.EarlyExitsTotal.Inc()
	}
	if err := e.decide(ctx, r, types.ScopeBlock, class, c.Notation, reason); err != nil {
		return err
	}
	if class == types.ClassFlagged {
		return e.escalate(ctx, r, c.Notation)
	}
	return nil
}

// judgeCluster turns the accumulated evidence into a block class.
func judgeCluster(ev Evidence, t Thresholds) (types.Class, string) {
	switch {
	case ev.EarlyExit:
		return types.ClassBanned, fmt.Sprintf("%d bad bots in sample", ev.Badbots)
	case ev.Flaggedbots >= t.ClusterBanFlaggedbots:
		return types.ClassBanned, fmt.Sprintf("too many flagged bots (%d)", ev.Flaggedbots)
	case ev.Flaggedbots >= t.FlagLowerBound:
		return types.ClassFlagged, fmt.Sprintf("%d flagged bots in sample", ev.Flaggedbots)
	default:
		return types.ClassAllowed, fmt.Sprintf("%d flagged bots in sample", ev.Flaggedbots)
	}
}
