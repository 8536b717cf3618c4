package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustycube/baxter/internal/types"
)

func ban(target string) types.Decision {
	return types.Decision{Target: target, Scope: types.ScopeAddress, Class: types.ClassBanned}
}

func exerciseQueue(t *testing.T, q Queue) {
	ctx := context.Background()

	it, ack, err := q.Lease(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, it.Decision.Target)
	require.NoError(t, ack())

	require.NoError(t, q.Publish(ctx, ban("192.0.2.1")))
	require.NoError(t, q.Publish(ctx, ban("192.0.2.2")))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	it, ack, err = q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", it.Decision.Target)
	assert.Zero(t, it.Attempt)
	require.NoError(t, ack())

	it, ack, err = q.Lease(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, ack())
	it.Attempt++
	require.NoError(t, q.Requeue(ctx, it))

	it, ack, err = q.Lease(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.2", it.Decision.Target)
	assert.Equal(t, 1, it.Attempt)
	require.NoError(t, ack())
}

func TestMemory(t *testing.T) {
	exerciseQueue(t, NewMemory())
}

func TestMemory_LeaseWaitsForPublish(t *testing.T) {
	q := NewMemory()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Publish(context.Background(), ban("192.0.2.9"))
	}()

	it, _, err := q.Lease(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.9", it.Decision.Target)
}

func TestMemory_LeaseHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := NewMemory().Lease(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("BAXTER_TEST_REDIS")
	if addr == "" {
		t.Skip("BAXTER_TEST_REDIS not set")
	}
	ctx := context.Background()
	q, err := NewRedis(ctx, addr, fmt.Sprintf("baxter-test-queue-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		q.cli.Del(ctx, q.queueKey, q.procKey)
		_ = q.Close()
	})

	exerciseQueue(t, q)

	require.NoError(t, q.Publish(ctx, ban("192.0.2.3")))
	_, _, err = q.Lease(ctx, time.Second)
	require.NoError(t, err)
	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
