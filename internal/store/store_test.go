package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gustycube/baxter/internal/types"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, st Store) {
	ctx := context.Background()

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	require.NoError(t, st.Append(ctx, types.ClassAllowed, "10.0.0.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassFlagged, "1.2.3.4"))
	require.NoError(t, st.Append(ctx, types.ClassFlagged, "5.6.7.0/24"))
	require.NoError(t, st.Append(ctx, types.ClassBanned, "5.6.7.0/24"))
	assert.ErrorIs(t, st.Append(ctx, types.Class(42), "9.9.9.9"), ErrUnknownClass)

	snap, err = st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Class{
		"10.0.0.0/24": types.ClassAllowed,
		"1.2.3.4":     types.ClassFlagged,
		"5.6.7.0/24":  types.ClassBanned,
	}, snap)

	flagged, err := st.List(ctx, types.ClassFlagged)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.0/24"}, flagged)

	for i := 1; i <= 3; i++ {
		n, err := st.AppendWatch(ctx, "5.6.7.0/24")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	n, err := st.AppendWatch(ctx, "8.8.4.0/24")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	watch, err := st.Watchlist(ctx)
	require.NoError(t, err)
	assert.Len(t, watch, 4)

	require.NoError(t, st.ResetDaily(ctx))
	snap, err = st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	// the watchlist survives the daily reset
	n, err = st.AppendWatch(ctx, "5.6.7.0/24")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, st.ResetWeekly(ctx))
	n, err = st.AppendWatch(ctx, "5.6.7.0/24")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, st.Ping(ctx))
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemory_ConcurrentWatch(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.AppendWatch(context.Background(), "1.1.1.0/24")
		}()
	}
	wg.Wait()

	n, err := m.AppendWatch(context.Background(), "1.1.1.0/24")
	require.NoError(t, err)
	assert.Equal(t, 51, n)
}

func TestFile(t *testing.T) {
	st, err := OpenFile(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, st)
}

func TestFile_ReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := OpenFile(dir)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, types.ClassBanned, "203.0.113.0/24"))
	_, err = first.AppendWatch(ctx, "198.51.100.0/24")
	require.NoError(t, err)

	data, err := os.ReadFile(first.Path(types.ClassBanned))
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.0/24\n", string(data))

	second, err := OpenFile(dir)
	require.NoError(t, err)
	snap, err := second.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ClassBanned, snap["203.0.113.0/24"])

	n, err := second.AppendWatch(ctx, "198.51.100.0/24")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// an external cleanup of the artifacts is visible on the next snapshot
	require.NoError(t, os.Remove(first.Path(types.ClassBanned)))
	snap, err = first.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSQL(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	st, err := NewSQL(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	exerciseStore(t, st)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("BAXTER_TEST_REDIS")
	if addr == "" {
		t.Skip("BAXTER_TEST_REDIS not set")
	}
	ctx := context.Background()
	st, err := NewRedis(ctx, addr, fmt.Sprintf("baxter-test-%s", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.ResetDaily(ctx)
		_ = st.ResetWeekly(ctx)
		_ = st.Close()
	})
	require.NoError(t, st.ResetDaily(ctx))
	require.NoError(t, st.ResetWeekly(ctx))
	exerciseStore(t, st)
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Options{Kind: "etcd"})
	assert.Error(t, err)
}
