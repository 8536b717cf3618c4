// Package service drives classification passes on a fixed interval.
package service

import (
	"context"
	"time"

	"github.com/gustycube/baxter/internal/logging"
)

// Job is one pass. now is the tick that triggered it.
type Job func(ctx context.Context, now time.Time) error

// Runner runs a job immediately and then once per interval until the context
// is cancelled. A failing pass is logged and the next tick runs normally.
type Runner struct {
	interval time.Duration
	job      Job
	log      *logging.Logger
	now      func() time.Time
}

func NewRunner(interval time.Duration, job Job, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{interval: interval, job: job, log: log, now: time.Now}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.pass(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	start := r.now()
	if err := r.job(ctx, start); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Errorw("pass failed", "err", err)
		return
	}
	r.log.Debugw("pass complete", "elapsed", time.Since(start))
}
