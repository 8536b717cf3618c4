package rate

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrQuotaExhausted is returned once the daily request budget is spent.
var ErrQuotaExhausted = errors.New("daily request quota exhausted")

// Quota paces requests to a third-party API and enforces a daily budget
// that resets at UTC midnight.
type Quota struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	daily   int
	used    int
	day     string
	now     func() time.Time
}

func New(perSecond float64, burst, daily int) *Quota {
	if burst < 1 {
		burst = 1
	}
	q := &Quota{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		daily:   daily,
		now:     time.Now,
	}
	q.day = q.today()
	return q
}

func (q *Quota) today() string {
	return q.now().UTC().Format("2006-01-02")
}

// reserve takes one unit of the daily budget.
func (q *Quota) reserve() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d := q.today(); d != q.day {
		q.day = d
		q.used = 0
	}
	if q.daily > 0 && q.used >= q.daily {
		return ErrQuotaExhausted
	}
	q.used++
	return nil
}

func (q *Quota) refund() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.used > 0 {
		q.used--
	}
}

// Wait blocks until a request may be sent, or fails when the budget is spent
// or ctx ends first.
func (q *Quota) Wait(ctx context.Context) error {
	if err := q.reserve(); err != nil {
		return err
	}
	if err := q.limiter.Wait(ctx); err != nil {
		q.refund()
		return err
	}
	return nil
}

// Remaining returns how many requests are left today; -1 when unlimited.
func (q *Quota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.daily <= 0 {
		return -1
	}
	if q.today() != q.day {
		return q.daily
	}
	return q.daily - q.used
}
