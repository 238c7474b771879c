package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/serroba/driftquota/internal/quota"
	"github.com/serroba/driftquota/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestQuotaMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := quota.State{Amount: 1, Timestamp: 1000}
	second := quota.State{Amount: 2.5, Timestamp: 2000}

	t.Run("get on missing key returns the empty state", func(t *testing.T) {
		t.Parallel()

		s := store.NewQuotaMemoryStore(nil)

		state, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, state.Exists())
	})

	t.Run("compare and set creates and replaces", func(t *testing.T) {
		t.Parallel()

		s := store.NewQuotaMemoryStore(nil)

		ok, err := s.CompareAndSet(ctx, "k", quota.State{}, first, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.CompareAndSet(ctx, "k", first, second, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		state, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, second, state)
	})

	t.Run("compare and set refuses stale expectations", func(t *testing.T) {
		t.Parallel()

		s := store.NewQuotaMemoryStore(nil)

		_, err := s.CompareAndSet(ctx, "k", quota.State{}, first, time.Minute)
		require.NoError(t, err)

		ok, err := s.CompareAndSet(ctx, "k", quota.State{}, second, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		state, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, first, state)
	})

	t.Run("records expire after their ttl", func(t *testing.T) {
		t.Parallel()

		clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
		s := store.NewQuotaMemoryStore(clock)

		_, err := s.CompareAndSet(ctx, "k", quota.State{}, first, time.Minute)
		require.NoError(t, err)

		clock.Advance(30 * time.Second)
		assert.Equal(t, 30*time.Second, s.TTL("k"))

		clock.Advance(30 * time.Second)

		state, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, state.Exists())
		assert.Zero(t, s.TTL("k"))

		ok, err := s.CompareAndSet(ctx, "k", quota.State{}, second, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "an expired record is replaced as if absent")
	})

	t.Run("delete removes the record", func(t *testing.T) {
		t.Parallel()

		s := store.NewQuotaMemoryStore(nil)

		_, err := s.CompareAndSet(ctx, "k", quota.State{}, first, time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))

		state, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, state.Exists())
	})
}
