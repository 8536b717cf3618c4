package engine

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gustycube/baxter/internal/metrics"
	"github.com/gustycube/baxter/internal/types"
)

// SelectSuperusers returns the observations whose count exceeds both the
// density gate (distinct addresses / divisor) and the absolute floor,
// ordered by descending count and then ascending address.
func SelectSuperusers(obs []types.AddressObservation, t Thresholds) []types.AddressObservation {
	distinct := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		distinct[o.Address] = struct{}{}
	}
	gateway := float64(len(distinct)) / float64(t.SuperuserDivisor)

	var out []types.AddressObservation
	for _, o := range obs {
		if float64(o.Count) > gateway && o.Count >= t.SuperuserFloor {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (e *Engine) processSuperusers(ctx context.Context, r *run, obs []types.AddressObservation) error {
	ctx, span := tracer.Start(ctx, "engine.Superusers")
	defer span.End()

	users := SelectSuperusers(obs, e.opts.Thresholds)
	span.SetAttributes(attribute.Int("superusers", len(users)))
	e.log.Infow("processing superusers", "count", len(users), "addresses", len(obs))

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.ledger.processed(u.Address) {
			e.log.Infow("processed already", "target", u.Address)
			metrics.SkippedTotal.WithLabelValues(string(types.ScopeAddress)).Inc()
			continue
		}
		if err := e.classifyAddress(ctx, r, u.Address); err != nil {
			return err
		}
	}
	return nil
}
