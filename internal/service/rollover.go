package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gustycube/baxter/internal/logging"
	"github.com/gustycube/baxter/internal/report"
	"github.com/gustycube/baxter/internal/store"
)

// Mailer delivers a daily report.
type Mailer interface {
	Send(r report.Report) (bool, error)
}

// Rollover handles the day boundary: a pass whose previous interval fell on
// another date mails the report for that date and clears the classification
// sets. Crossing into the weekly reset day also clears the watchlist.
type Rollover struct {
	store    store.Store
	interval time.Duration
	weekly   time.Weekday
	mailer   Mailer
	geo      report.Geo
	log      *logging.Logger
}

// NewRollover builds a rollover. mailer and geo may be nil.
func NewRollover(st store.Store, interval time.Duration, weekly time.Weekday, mailer Mailer, geo report.Geo, log *logging.Logger) *Rollover {
	if log == nil {
		log = logging.Nop()
	}
	return &Rollover{store: st, interval: interval, weekly: weekly, mailer: mailer, geo: geo, log: log}
}

// Check runs the rollover when now is the first pass of a new day. It
// reports whether a rollover happened.
func (r *Rollover) Check(ctx context.Context, now time.Time) (bool, error) {
	prev := now.Add(-r.interval)
	if sameDay(prev, now) {
		return false, nil
	}

	if r.mailer != nil {
		rep, err := report.Build(ctx, r.store, prev, r.geo)
		if err != nil {
			return false, fmt.Errorf("build report: %w", err)
		}
		sent, err := r.mailer.Send(rep)
		if err != nil {
			// the sets are still cleared; a missed mail must not stall the day
			r.log.Errorw("daily report failed", "date", rep.Date, "err", err)
		} else if sent {
			r.log.Infow("daily report sent", "date", rep.Date, "flagged", len(rep.Flagged), "banned", len(rep.Banned))
		}
	}

	r.log.Infow("removing yesterday's classifications", "date", prev.Format("2006-01-02"))
	if err := r.store.ResetDaily(ctx); err != nil {
		return false, fmt.Errorf("daily reset: %w", err)
	}
	if now.Weekday() == r.weekly {
		r.log.Infow("clearing watchlist", "weekday", now.Weekday().String())
		if err := r.store.ResetWeekly(ctx); err != nil {
			return true, fmt.Errorf("weekly reset: %w", err)
		}
	}
	return true, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
