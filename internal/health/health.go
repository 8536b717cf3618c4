// Package health serves the health, readiness and liveness endpoints. A
// process is ready once a classification pass has completed without error.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gustycube/baxter/internal/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of one checker
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Pass summarises the most recent classification pass.
type Pass struct {
	Finished   time.Time `json:"finished"`
	DurationMS int64     `json:"duration_ms"`
	Decisions  int       `json:"decisions"`
	Error      string    `json:"error,omitempty"`
}

// Response is the body of /health
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    []Check           `json:"checks"`
	LastPass  *Pass             `json:"last_pass,omitempty"`
	Info      map[string]string `json:"info,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler aggregates the registered checkers with the state of the pass loop.
type Handler struct {
	mu         sync.RWMutex
	checkers   map[string]Checker
	info       map[string]string
	log        *logging.Logger
	staleAfter time.Duration
	last       *Pass
	lastOK     time.Time
	now        func() time.Time
}

// NewHandler builds a handler. A successful pass older than staleAfter marks
// the service degraded; zero disables the staleness check.
func NewHandler(log *logging.Logger, staleAfter time.Duration) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{
		checkers:   make(map[string]Checker),
		info:       make(map[string]string),
		log:        log,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetInfo publishes a key on /health and /ready, such as the store kind or
// the remaining reputation quota.
func (h *Handler) SetInfo(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[key] = value
}

// RecordPass stores the outcome of a classification pass.
func (h *Handler) RecordPass(finished time.Time, took time.Duration, decisions int, err error) {
	p := &Pass{Finished: finished, DurationMS: took.Milliseconds(), Decisions: decisions}
	if err != nil {
		p.Error = err.Error()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
	if err == nil {
		h.lastOK = finished
	}
}

// Ready reports whether at least one pass has succeeded.
func (h *Handler) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.lastOK.IsZero()
}

// passCheck turns the pass history into a check.
func (h *Handler) passCheck(now time.Time) Check {
	c := Check{Name: "pass", Status: StatusHealthy, LastChecked: now}
	switch {
	case h.lastOK.IsZero():
		c.Status = StatusDegraded
		c.Message = "no completed pass yet"
	case h.last != nil && h.last.Error != "":
		c.Status = StatusDegraded
		c.Message = "last pass failed: " + h.last.Error
	case h.staleAfter > 0 && now.Sub(h.lastOK) > h.staleAfter:
		c.Status = StatusDegraded
		c.Message = "no successful pass since " + h.lastOK.Format(time.RFC3339)
	default:
		c.Message = "last pass " + h.lastOK.Format(time.RFC3339)
	}
	return c
}

// snapshot copies the mutable state under the lock.
func (h *Handler) snapshot() (names []string, checkers map[string]Checker, info map[string]string, pass Check, last *Pass) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checkers = make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
		names = append(names, k)
	}
	sort.Strings(names)
	info = make(map[string]string, len(h.info))
	for k, v := range h.info {
		info[k] = v
	}
	if h.last != nil {
		cp := *h.last
		last = &cp
	}
	return names, checkers, info, h.passCheck(h.now()), last
}

// HealthHandler runs every checker and folds in the pass state. Only an
// unhealthy component turns the answer into a 503.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names, checkers, info, pass, last := h.snapshot()
	resp := Response{
		Status:    StatusHealthy,
		Timestamp: h.now(),
		Checks:    []Check{pass},
		LastPass:  last,
		Info:      info,
	}
	for _, name := range names {
		c := checkers[name].Check(ctx)
		c.Name = name
		resp.Checks = append(resp.Checks, c)
	}
	for _, c := range resp.Checks {
		if c.Status != StatusHealthy {
			h.log.Warnw("health check failing", "check", c.Name, "status", c.Status, "message", c.Message)
		}
		if c.Status == StatusUnhealthy {
			resp.Status = StatusUnhealthy
		} else if c.Status == StatusDegraded && resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// ReadinessHandler answers 200 once a pass has succeeded.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	_, _, info, _, last := h.snapshot()
	ready := h.Ready()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":     ready,
		"last_pass": last,
		"info":      info,
	})
}

// LivenessHandler always answers 200 while the process serves HTTP.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"alive": true, "timestamp": h.now()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Pinger is anything that can report connectivity, such as a classification store
type Pinger interface {
	Ping(ctx context.Context) error
}

// timed runs fn and stamps the result.
func timed(fn func() (Status, string)) Check {
	start := time.Now()
	status, msg := fn()
	return Check{Status: status, Message: msg, LastChecked: time.Now(), Duration: time.Since(start) / time.Millisecond}
}

// StoreChecker marks the service unhealthy when the store stops answering.
type StoreChecker struct {
	kind   string
	pinger Pinger
}

func NewStoreChecker(kind string, pinger Pinger) *StoreChecker {
	return &StoreChecker{kind: kind, pinger: pinger}
}

func (c *StoreChecker) Check(ctx context.Context) Check {
	return timed(func() (Status, string) {
		if err := c.pinger.Ping(ctx); err != nil {
			return StatusUnhealthy, c.kind + " store unreachable: " + err.Error()
		}
		return StatusHealthy, c.kind + " store OK"
	})
}

// BreakerChecker reports the reputation provider as degraded while its
// circuit breaker is not closed.
type BreakerChecker struct {
	state func() string
}

func NewBreakerChecker(state func() string) *BreakerChecker {
	return &BreakerChecker{state: state}
}

func (c *BreakerChecker) Check(context.Context) Check {
	return timed(func() (Status, string) {
		if st := c.state(); st != "closed" {
			return StatusDegraded, "reputation circuit " + st
		}
		return StatusHealthy, "reputation provider reachable"
	})
}
