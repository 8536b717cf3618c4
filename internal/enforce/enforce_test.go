package enforce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/baxter/internal/queue"
	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

// flakySink fails the first failures calls for every target.
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	blocked  []string
}

func (s *flakySink) Block(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[target]++
	if s.calls[target] <= s.failures {
		return errors.New("xtables lock held")
	}
	s.blocked = append(s.blocked, target)
	return nil
}

func newTestEnforcer(q queue.Queue, sink Sink, retries int) *Enforcer {
	e := New(q, sink, retries, nil)
	e.initial = time.Millisecond
	e.wait = 10 * time.Millisecond
	return e
}

func ban(target string) types.Decision {
	return types.Decision{Target: target, Scope: types.ScopeAddress, Class: types.ClassBanned}
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	require.NoError(t, q.Publish(ctx, ban("192.0.2.1")))
	require.NoError(t, q.Publish(ctx, ban("10.0.0.0/24")))
	sink := &flakySink{}

	n, err := newTestEnforcer(q, sink, 0).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"192.0.2.1", "10.0.0.0/24"}, sink.blocked)
}

func TestDrain_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	require.NoError(t, q.Publish(ctx, ban("192.0.2.1")))
	sink := &flakySink{failures: 2}

	_, err := newTestEnforcer(q, sink, 2).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1"}, sink.blocked)
	assert.Equal(t, 3, sink.calls["192.0.2.1"])
}

func TestDrain_RequeuesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	require.NoError(t, q.Publish(ctx, ban("192.0.2.1")))
	sink := &flakySink{failures: 100}

	_, err := newTestEnforcer(q, sink, 0).Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, sink.blocked)
	assert.Equal(t, 3, sink.calls["192.0.2.1"])
	n, _ := q.Len(ctx)
	assert.Zero(t, n)
}

func TestDrain_SucceedsOnRequeue(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	require.NoError(t, q.Publish(ctx, ban("192.0.2.1")))
	sink := &flakySink{failures: 1}

	_, err := newTestEnforcer(q, sink, 0).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1"}, sink.blocked)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewMemory()
	sink := &flakySink{}
	done := make(chan error, 1)
	go func() { done <- newTestEnforcer(q, sink, 0).Run(ctx) }()

	require.NoError(t, q.Publish(ctx, ban("192.0.2.7")))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.blocked) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enforcer did not stop")
	}
}

// recordingQueue hands out one leased item and records what happens to it.
type recordingQueue struct {
	*queue.Memory
	mu       sync.Mutex
	acked    int
	requeued []queue.Item
}

func (q *recordingQueue) Lease(ctx context.Context, wait time.Duration) (queue.Item, func() error, error) {
	it, _, err := q.Memory.Lease(ctx, wait)
	return it, func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.acked++
		return nil
	}, err
}

func (q *recordingQueue) Requeue(ctx context.Context, it queue.Item) error {
	q.mu.Lock()
	q.requeued = append(q.requeued, it)
	q.mu.Unlock()
	return q.Memory.Requeue(ctx, it)
}

// stuckSink blocks until ctx ends.
type stuckSink struct {
	entered chan struct{}
}

func (s *stuckSink) Block(ctx context.Context, target string) error {
	close(s.entered)
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_CancelKeepsLeasedDecision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &recordingQueue{Memory: queue.NewMemory()}
	require.NoError(t, q.Publish(ctx, ban("192.0.2.7")))
	sink := &stuckSink{entered: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- newTestEnforcer(q, sink, 3).Run(ctx) }()

	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("sink was never called")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enforcer did not stop")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.requeued, 1)
	assert.Equal(t, "192.0.2.7", q.requeued[0].Decision.Target)
	assert.Zero(t, q.requeued[0].Attempt)
	n, _ := q.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestIPTables(t *testing.T) {
	var got []string
	s := NewIPTables("/usr/sbin/iptables")
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		got = append([]string{name}, args...)
		return nil, nil
	}

	require.NoError(t, s.Block(context.Background(), "10.0.0.0/24"))
	assert.Equal(t, "/usr/sbin/iptables -I INPUT -s 10.0.0.0/24 -j DROP", strings.Join(got, " "))

	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Permission denied (you must be root)\n"), errors.New("exit status 4")
	}
	err := s.Block(context.Background(), "192.0.2.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
}

func TestReapply(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Append(ctx, types.ClassBanned, "192.0.2.1"))
	require.NoError(t, st.Append(ctx, types.ClassBanned, "10.0.0.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassBanned, "192.0.2.1"))
	require.NoError(t, st.Append(ctx, types.ClassFlagged, "10.0.1.0/24"))
	q := queue.NewMemory()

	n, err := Reapply(ctx, st, q, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	it, _, err := q.Lease(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.ScopeAddress, it.Decision.Scope)
	it, _, err = q.Lease(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", it.Decision.Target)
	assert.Equal(t, types.ScopeBlock, it.Decision.Scope)
}
