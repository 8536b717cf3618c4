package engine

import (
	"context"
	"fmt"

	"github.com/gustycube/baxter/internal/types"
)

// ClassifyScore maps a confidence score to a class for a single address.
func ClassifyScore(score int, t Thresholds) types.Class {
	switch {
	case score >= t.IndividualBanScore:
		return types.ClassBanned
	case score > 0:
		return types.ClassFlagged
	default:
		return types.ClassAllowed
	}
}

// classifyAddress looks up one address and records its class. A failed or
// empty lookup records nothing so a later run can try again.
func (e *Engine) classifyAddress(ctx context.Context, r *run, address string) error {
	res, ok := r.lookup(ctx, address)
	if !ok {
		return nil
	}
	class := ClassifyScore(res.ConfidenceScore, e.opts.Thresholds)
	reason := fmt.Sprintf("superuser score %d", res.ConfidenceScore)
	return e.decide(ctx, r, types.ScopeAddress, class, address, reason)
}
