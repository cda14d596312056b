package buffer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/novabuf/internal/file"
)

func newTestManager(t *testing.T, capacity int, maxWait time.Duration) *Manager {
	t.Helper()
	env := newTestEnv(t)
	return NewManager(env.fm, env.lm, capacity, WithMaxWait(maxWait))
}

func TestNewManager_DefaultMaxWait(t *testing.T) {
	env := newTestEnv(t)
	m := NewManager(env.fm, env.lm, 2)
	require.Equal(t, MaxWait, m.maxWait)
	require.Equal(t, 10*time.Second, m.maxWait)
	require.Equal(t, 2, m.Capacity())
}

func TestManager_PinTimesOutWhenFull(t *testing.T) {
	const maxWait = 100 * time.Millisecond
	m := newTestManager(t, 2, maxWait)
	ctx := context.Background()

	for i := range int32(2) {
		_, err := m.Pin(ctx, blk(i))
		require.NoError(t, err)
	}
	require.Equal(t, 0, m.Available())

	start := time.Now()
	_, err := m.Pin(ctx, blk(2))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrBufferAbort)
	require.ErrorIs(t, err, ErrWaitTimeout)
	require.GreaterOrEqual(t, elapsed, maxWait)
	require.Less(t, elapsed, 5*time.Second)

	metrics := m.Metrics()
	require.Equal(t, int64(1), metrics.Aborts)
	require.GreaterOrEqual(t, metrics.Waits, int64(1))
}

func TestManager_BlockedPinSucceedsAfterUnpin(t *testing.T) {
	m := newTestManager(t, 2, 5*time.Second)
	ctx := context.Background()

	b0, err := m.Pin(ctx, blk(0))
	require.NoError(t, err)
	_, err = m.Pin(ctx, blk(1))
	require.NoError(t, err)

	var g errgroup.Group
	var got *Buffer
	g.Go(func() error {
		var err error
		got, err = m.Pin(ctx, blk(2))
		return err
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Unpin(b0))

	require.NoError(t, g.Wait())
	require.Same(t, b0, got)
	require.True(t, m.ContainsMapping(blk(2)))
	require.False(t, m.ContainsMapping(blk(0)))
}

func TestManager_UnpinWakesAllWaiters(t *testing.T) {
	m := newTestManager(t, 2, 5*time.Second)
	ctx := context.Background()

	b0, err := m.Pin(ctx, blk(0))
	require.NoError(t, err)
	b1, err := m.Pin(ctx, blk(1))
	require.NoError(t, err)

	var g errgroup.Group
	results := make([]*Buffer, 2)
	for i := range 2 {
		g.Go(func() error {
			b, err := m.Pin(ctx, blk(int32(10+i)))
			results[i] = b
			return err
		})
	}

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Unpin(b0))
	require.NoError(t, m.Unpin(b1))

	require.NoError(t, g.Wait())
	require.NotSame(t, results[0], results[1])
	require.Equal(t, 0, m.Available())
}

func TestManager_PinCancelledContextAborts(t *testing.T) {
	m := newTestManager(t, 1, 5*time.Second)

	_, err := m.Pin(context.Background(), blk(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = m.Pin(ctx, blk(1))
	require.ErrorIs(t, err, ErrBufferAbort)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestManager_PinHitDoesNotWait(t *testing.T) {
	m := newTestManager(t, 1, time.Second)
	ctx := context.Background()

	b, err := m.Pin(ctx, blk(0))
	require.NoError(t, err)

	again, err := m.Pin(ctx, blk(0))
	require.NoError(t, err)
	require.Same(t, b, again)
	require.Equal(t, int32(2), b.Pins())
	require.Equal(t, int64(0), m.Metrics().Waits)
}

func TestManager_PinNewExhaustedAbortsImmediately(t *testing.T) {
	m := newTestManager(t, 1, 5*time.Second)
	ctx := context.Background()

	_, err := m.Pin(ctx, blk(0))
	require.NoError(t, err)

	start := time.Now()
	_, err = m.PinNew(ctx, "newfile", ZeroFormatter)
	require.ErrorIs(t, err, ErrBufferAbort)
	require.ErrorIs(t, err, ErrBufferPoolExhausted)
	require.Less(t, time.Since(start), time.Second)
}

func TestManager_PinNew(t *testing.T) {
	m := newTestManager(t, 2, time.Second)

	b, err := m.PinNew(context.Background(), "newfile", PageFormatterFunc(func(p *file.Page) {
		_ = p.SetString(0, "header")
	}))
	require.NoError(t, err)

	got, ok := b.Block()
	require.True(t, ok)
	mapped, ok := m.GetMapping(got)
	require.True(t, ok)
	require.Same(t, b, mapped)

	s, err := b.Contents().GetString(0)
	require.NoError(t, err)
	require.Equal(t, "header", s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.PinNew(ctx, "newfile", ZeroFormatter)
	require.ErrorIs(t, err, ErrBufferAbort)
}

func TestManager_UnpinUnderflow(t *testing.T) {
	m := newTestManager(t, 1, time.Second)

	b, err := m.Pin(context.Background(), blk(0))
	require.NoError(t, err)
	require.NoError(t, m.Unpin(b))
	require.ErrorIs(t, m.Unpin(b), ErrInvariantViolation)
	require.Equal(t, 1, m.Available())
}

func TestManager_FlushAllPassesThrough(t *testing.T) {
	m := newTestManager(t, 2, time.Second)
	ctx := context.Background()

	b, err := m.Pin(ctx, blk(0))
	require.NoError(t, err)
	b.SetModified(3, -1)

	require.NoError(t, m.FlushAll(2))
	require.True(t, b.IsModifiedBy(3))

	require.NoError(t, m.FlushAll(3))
	require.Equal(t, -1, b.ModifyingTx())
	require.Equal(t, int64(1), b.WriteCount())

	m.LogStatistics(ctx)
	require.Len(t, m.Statistics(), 1)
}

func TestManager_ConcurrentPinUnpin(t *testing.T) {
	const (
		capacity = 3
		workers  = 8
		rounds   = 50
	)
	m := newTestManager(t, capacity, 5*time.Second)
	ctx := context.Background()

	var maxPinned atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			for r := range rounds {
				b, err := m.Pin(ctx, blk(int32((w+r)%7)))
				if err != nil {
					return err
				}
				if n := int32(capacity - m.Available()); n > maxPinned.Load() {
					maxPinned.Store(n)
				}
				b.SetModified(w, int64(r))
				if err := m.Unpin(b); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, capacity, m.Available())
	require.LessOrEqual(t, maxPinned.Load(), int32(capacity))
	requireConsistent(t, m.pool)

	for w := range workers {
		require.NoError(t, m.FlushAll(w))
	}
	for _, s := range m.Statistics() {
		require.Equal(t, -1, s.ModifyingTx)
		require.Equal(t, int32(0), s.Pins)
	}
}
