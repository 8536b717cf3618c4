package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/baxter/internal/report"
	"github.com/gustycube/baxter/internal/store"
	"github.com/gustycube/baxter/internal/types"
)

type fakeMailer struct {
	sent []report.Report
	err  error
}

func (m *fakeMailer) Send(r report.Report) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if r.Empty() {
		return false, nil
	}
	m.sent = append(m.sent, r)
	return true, nil
}

func seeded(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.Append(ctx, types.ClassBanned, "10.0.0.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassFlagged, "10.0.1.0/24"))
	_, err := st.AppendWatch(ctx, "10.0.1.0/24")
	require.NoError(t, err)
	return st
}

func TestRollover_SameDay(t *testing.T) {
	st := seeded(t)
	m := &fakeMailer{}
	r := NewRollover(st, 5*time.Minute, time.Sunday, m, nil, nil)

	rolled, err := r.Check(context.Background(), time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, rolled)
	assert.Empty(t, m.sent)
	snap, _ := st.Snapshot(context.Background())
	assert.Len(t, snap, 2)
}

func TestRollover_NewDay(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	m := &fakeMailer{}
	r := NewRollover(st, 5*time.Minute, time.Sunday, m, nil, nil)

	// 2026-03-03 is a Tuesday
	rolled, err := r.Check(ctx, time.Date(2026, 3, 3, 0, 2, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, rolled)

	require.Len(t, m.sent, 1)
	assert.Equal(t, "2026-03-02", m.sent[0].Date)
	assert.Len(t, m.sent[0].Flagged, 1)
	assert.Len(t, m.sent[0].Banned, 1)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
	watch, err := st.Watchlist(ctx)
	require.NoError(t, err)
	assert.Len(t, watch, 1)
}

func TestRollover_WeeklyReset(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	r := NewRollover(st, 5*time.Minute, time.Sunday, nil, nil, nil)

	// 2026-03-08 is a Sunday
	rolled, err := r.Check(ctx, time.Date(2026, 3, 8, 0, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, rolled)
	watch, err := st.Watchlist(ctx)
	require.NoError(t, err)
	assert.Empty(t, watch)
}

func TestRollover_MailFailureStillResets(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	r := NewRollover(st, 5*time.Minute, time.Sunday, &fakeMailer{err: errors.New("connection refused")}, nil, nil)

	rolled, err := r.Check(ctx, time.Date(2026, 3, 3, 0, 2, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, rolled)
	snap, _ := st.Snapshot(ctx)
	assert.Empty(t, snap)
}

func TestRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	r := NewRunner(10*time.Millisecond, func(ctx context.Context, now time.Time) error {
		if atomic.AddInt32(&calls, 1) == 2 {
			return errors.New("store unavailable")
		}
		return nil
	}, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_RunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ran := make(chan struct{}, 1)
	r := NewRunner(time.Hour, func(ctx context.Context, now time.Time) error {
		ran <- struct{}{}
		return nil
	}, nil)
	go r.Run(ctx)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("first pass did not run before the interval")
	}
}
