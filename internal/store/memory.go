package store

import (
	"context"
	"sync"

	"github.com/gustycube/baxter/internal/types"
)

// Memory keeps the classification state in process memory only.
type Memory struct {
	mu      sync.RWMutex
	sets    map[types.Class][]string
	watch   []string
	watchBy map[string]int
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetDaily()
	m.resetWeekly()
	return m
}

func (m *Memory) resetDaily() {
	m.sets = make(map[types.Class][]string, len(types.Classes))
}

func (m *Memory) resetWeekly() {
	m.watch = nil
	m.watchBy = make(map[string]int)
}

func (m *Memory) Snapshot(ctx context.Context) (map[string]types.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]types.Class)
	for class, targets := range m.sets {
		for _, t := range targets {
			merge(out, class, t)
		}
	}
	return out, nil
}

func (m *Memory) Append(ctx context.Context, class types.Class, target string) error {
	if err := validClass(class); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[class] = append(m.sets[class], target)
	return nil
}

func (m *Memory) List(ctx context.Context, class types.Class) ([]string, error) {
	if err := validClass(class); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sets[class]...), nil
}

func (m *Memory) AppendWatch(ctx context.Context, notation string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watch = append(m.watch, notation)
	m.watchBy[notation]++
	return m.watchBy[notation], nil
}

func (m *Memory) Watchlist(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.watch...), nil
}

func (m *Memory) ResetDaily(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetDaily()
	return nil
}

func (m *Memory) ResetWeekly(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetWeekly()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
