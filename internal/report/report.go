// Package report builds the daily summary of flagged and banned targets.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

// Entry is one classified target.
type Entry struct {
	Target  string      `json:"target"`
	Scope   types.Scope `json:"scope"`
	Country string      `json:"country,omitempty"`
}

// Report lists what was flagged and banned on one day.
type Report struct {
	Date    string  `json:"date"`
	Flagged []Entry `json:"flagged"`
	Banned  []Entry `json:"banned"`
}

// Geo resolves the country of an address or block notation. An empty string
// means unknown.
type Geo interface {
	Country(target string) string
}

// Build reads the flagged and banned sets. geo may be nil.
func Build(ctx context.Context, st store.Store, day time.Time, geo Geo) (Report, error) {
	r := Report{Date: day.Format("2006-01-02")}
	var err error
	if r.Flagged, err = entries(ctx, st, types.ClassFlagged, geo); err != nil {
		return Report{}, err
	}
	if r.Banned, err = entries(ctx, st, types.ClassBanned, geo); err != nil {
		return Report{}, err
	}
	return r, nil
}

func entries(ctx context.Context, st store.Store, class types.Class, geo Geo) ([]Entry, error) {
	targets, err := st.List(ctx, class)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", class, err)
	}
	seen := make(map[string]struct{}, len(targets))
	out := make([]Entry, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		e := Entry{Target: t, Scope: types.ScopeAddress}
		if types.IsNotation(t) {
			e.Scope = types.ScopeBlock
		}
		if geo != nil {
			e.Country = geo.Country(t)
		}
		out = append(out, e)
	}
	return out, nil
}

// Empty reports whether there is nothing worth sending.
func (r Report) Empty() bool {
	return len(r.Flagged) == 0 && len(r.Banned) == 0
}

func (r Report) Subject() string {
	return "Baxter report for " + r.Date
}
