package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := Config{
		Window:        window,
		SweepInterval: time.Minute,
		Max:           map[Class]int{ClassAuth: max, ClassWrite: max, ClassRead: max},
	}
	l, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

func TestLimiterFixedWindow(t *testing.T) {
	l, clock := newTestLimiter(t, 3, time.Second)

	for i := range 3 {
		require.True(t, l.Check(ClassAuth, "10.0.0.1").Allowed, "request %d", i+1)
	}

	denied := l.Check(ClassAuth, "10.0.0.1")
	require.False(t, denied.Allowed)
	require.Positive(t, denied.RetryAfter)
	require.Equal(t, 1, denied.RetryAfter)

	t.Run("other ip is independent", func(t *testing.T) {
		require.True(t, l.Check(ClassAuth, "10.0.0.2").Allowed)
	})

	t.Run("other class is independent", func(t *testing.T) {
		require.True(t, l.Check(ClassWrite, "10.0.0.1").Allowed)
	})

	t.Run("window elapses", func(t *testing.T) {
		clock.Advance(1001 * time.Millisecond)
		require.True(t, l.Check(ClassAuth, "10.0.0.1").Allowed)
		require.True(t, l.Check(ClassAuth, "10.0.0.1").Allowed)
		require.True(t, l.Check(ClassAuth, "10.0.0.1").Allowed)
		require.False(t, l.Check(ClassAuth, "10.0.0.1").Allowed)
	})
}

func TestLimiterRetryAfterCountsDown(t *testing.T) {
	l, clock := newTestLimiter(t, 1, 15*time.Minute)

	require.True(t, l.Check(ClassAuth, "ip").Allowed)

	d := l.Check(ClassAuth, "ip")
	require.False(t, d.Allowed)
	require.Equal(t, 900, d.RetryAfter)

	clock.Advance(10*time.Minute + 500*time.Millisecond)
	d = l.Check(ClassAuth, "ip")
	require.False(t, d.Allowed)
	require.Equal(t, 300, d.RetryAfter)
}

func TestLimiterUnknownClassIsAllowed(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Second)
	for range 5 {
		require.True(t, l.Check(Class("bulk"), "ip").Allowed)
	}
	require.Zero(t, l.Len())
}

func TestLimiterConcurrentChecks(t *testing.T) {
	l, _ := newTestLimiter(t, 20, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ClassAuth, "203.0.113.9").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 20, allowed.Load())
}

func TestLimiterSweep(t *testing.T) {
	l, clock := newTestLimiter(t, 3, time.Second)

	l.Check(ClassAuth, "a")
	l.Check(ClassAuth, "b")
	require.Equal(t, 2, l.Len())

	clock.Advance(500 * time.Millisecond)
	l.Check(ClassRead, "c")
	require.Zero(t, l.Sweep(), "nothing has expired yet")

	clock.Advance(600 * time.Millisecond)
	require.Equal(t, 2, l.Sweep())
	require.Equal(t, 1, l.Len())

	// a swept key starts a fresh window
	for range 3 {
		require.True(t, l.Check(ClassAuth, "a").Allowed)
	}
	require.False(t, l.Check(ClassAuth, "a").Allowed)
	require.Equal(t, 2, l.Len())
}

func TestLimiterStartStop(t *testing.T) {
	l, err := New(Config{
		Window:        time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
		Max:           map[Class]int{ClassAuth: 1, ClassWrite: 1, ClassRead: 1},
	})
	require.NoError(t, err)

	l.Start(context.Background())
	defer l.Stop()

	l.Check(ClassAuth, "ip")
	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Window = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	delete(cfg.Max, ClassRead)
	require.Error(t, cfg.Validate())

	_, err := New(Config{})
	require.Error(t, err)
}
