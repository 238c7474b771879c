package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/driftquota/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRunnable struct {
	startErr    error
	shutdownErr error
	started     bool
	stopped     bool
}

func (m *mockRunnable) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}

	m.started = true

	return nil
}

func (m *mockRunnable) Shutdown() error {
	m.stopped = true

	return m.shutdownErr
}

func TestConsumerGroup(t *testing.T) {
	t.Run("starts and stops all members", func(t *testing.T) {
		sub := newMockSubscriber()
		a, b := &mockRunnable{}, &mockRunnable{}

		g := events.NewConsumerGroup(sub, zap.NewNop())
		g.Add(a)
		g.Add(b)

		require.NoError(t, g.Start(context.Background()))
		assert.True(t, a.started)
		assert.True(t, b.started)

		require.NoError(t, g.Shutdown())
		assert.True(t, a.stopped)
		assert.True(t, b.stopped)
		assert.True(t, sub.closed)
	})

	t.Run("rolls back started members on failure", func(t *testing.T) {
		a := &mockRunnable{}
		b := &mockRunnable{startErr: errors.New("boom")}

		g := events.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		g.Add(a)
		g.Add(b)

		err := g.Start(context.Background())
		require.ErrorContains(t, err, "start consumer 1")
		assert.True(t, a.stopped)
		assert.False(t, b.stopped)
	})

	t.Run("joins shutdown errors", func(t *testing.T) {
		errA := errors.New("a failed")
		errB := errors.New("b failed")

		g := events.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		g.Add(&mockRunnable{shutdownErr: errA})
		g.Add(&mockRunnable{shutdownErr: errB})

		err := g.Shutdown()
		assert.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errB)
	})
}
