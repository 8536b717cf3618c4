package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrOpenState       = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	// Threshold is the minimum number of requests in a window before the
	// failure ratio is evaluated
	Threshold uint32

	// FailureRatio opens the circuit once reached
	FailureRatio float64

	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration

	// Interval is the length of the counting window while closed
	Interval time.Duration

	// MaxProbes is how many requests may pass while half-open
	MaxProbes uint32

	// OnStateChange is called whenever the state changes
	OnStateChange func(from, to State)

	now func() time.Time
}

// DefaultConfig suits a rate-limited third-party API: a handful of failures
// out of ten opens the circuit for a minute.
func DefaultConfig() Config {
	return Config{
		Threshold:    10,
		FailureRatio: 0.5,
		Timeout:      60 * time.Second,
		Interval:     60 * time.Second,
		MaxProbes:    1,
	}
}

// Breaker stops calling a failing dependency until it has had time to recover
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	requests    uint32
	failures    uint32
	probes      uint32
	windowStart time.Time
	openedAt    time.Time
}

// New creates a breaker, filling zero fields from DefaultConfig
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed, windowStart: cfg.now()}
}

// State returns the current state, moving an expired open circuit to half-open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.cfg.now())
	return b.state
}

// Counts returns the requests and failures in the current window
func (b *Breaker) Counts() (requests, failures uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests, b.failures
}

// Execute runs fn if the circuit allows it and records the outcome. Errors
// for which isFailure returns false do not count against the circuit.
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteFiltered(fn, nil)
}

// ExecuteFiltered is Execute with a predicate deciding which errors trip the
// circuit. A nil predicate treats every error as a failure.
func (b *Breaker) ExecuteFiltered(fn func() error, isFailure func(error) bool) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	failed := err != nil
	if failed && isFailure != nil {
		failed = isFailure(err)
	}
	b.after(!failed)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.cfg.now())
	switch b.state {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if b.probes >= b.cfg.MaxProbes {
			return ErrTooManyRequests
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.now()
	switch b.state {
	case StateClosed:
		b.requests++
		if !success {
			b.failures++
		}
		if b.requests >= b.cfg.Threshold &&
			float64(b.failures)/float64(b.requests) >= b.cfg.FailureRatio {
			b.openedAt = now
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		if success {
			b.transition(StateClosed, now)
		} else {
			b.openedAt = now
			b.transition(StateOpen, now)
		}
	}
}

// advance applies time-driven transitions: window rollover while closed and
// open to half-open after Timeout.
func (b *Breaker) advance(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.cfg.Interval {
			b.requests, b.failures = 0, 0
			b.windowStart = now
		}
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.Timeout {
			b.transition(StateHalfOpen, now)
		}
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.requests, b.failures, b.probes = 0, 0, 0
	b.windowStart = now
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
