package queue

import (
	"context"
	"sync"
	"time"

	"github.com/gustycube/baxter/internal/types"
)

// Memory is an in-process queue. Items leased from it are gone once leased;
// there is no processing list to recover after a crash.
type Memory struct {
	mu     sync.Mutex
	items  []Item
	notify chan struct{}
}

func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (m *Memory) Publish(ctx context.Context, d types.Decision) error {
	return m.Requeue(ctx, Item{Decision: d})
}

func (m *Memory) Requeue(ctx context.Context, it Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.items = append(m.items, it)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) pop() (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return Item{}, false
	}
	it := m.items[0]
	m.items = m.items[1:]
	return it, true
}

func (m *Memory) Lease(ctx context.Context, wait time.Duration) (Item, func() error, error) {
	if it, ok := m.pop(); ok {
		return it, noAck, nil
	}
	if wait <= 0 {
		return Item{}, noAck, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Item{}, noAck, ctx.Err()
		case <-timer.C:
			return Item{}, noAck, nil
		case <-m.notify:
			if it, ok := m.pop(); ok {
				return it, noAck, nil
			}
		}
	}
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *Memory) Close() error { return nil }
