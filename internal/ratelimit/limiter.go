// Package ratelimit implements a process-local fixed-window request counter keyed
// by operation class and client IP.
//
// State is not shared between processes, so a horizontally scaled deployment
// enforces each limit per instance. A fixed window admits up to twice the
// nominal rate across a window boundary.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Class is a group of operations sharing one limit.
type Class string

const (
	ClassAuth  Class = "auth"
	ClassWrite Class = "write"
	ClassRead  Class = "read"
)

// Classes lists every known class.
var Classes = []Class{ClassAuth, ClassWrite, ClassRead}

const (
	DefaultWindow        = 15 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Config holds the window length and per-class maxima.
type Config struct {
	Window        time.Duration
	SweepInterval time.Duration
	Max           map[Class]int
}

// DefaultConfig returns auth=20, write=50, read=100 per 15 minute window.
func DefaultConfig() Config {
	return Config{
		Window:        DefaultWindow,
		SweepInterval: DefaultSweepInterval,
		Max: map[Class]int{
			ClassAuth:  20,
			ClassWrite: 50,
			ClassRead:  100,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("rate limit sweep interval must be positive")
	}
	for _, class := range Classes {
		if c.Max[class] < 1 {
			return fmt.Errorf("rate limit maximum for %q must be at least 1", class)
		}
	}
	return nil
}

// Decision is the outcome of Check. RetryAfter is only set when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds until the window resets
}

type key struct {
	class Class
	ip    string
}

type entry struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	removed     bool // set by the sweeper once the entry has left the map
}

// Limiter counts requests per (class, ip) in fixed windows.
type Limiter struct {
	cfg Config
	now func() time.Time

	entries sync.Map // key -> *entry
	size    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns a Limiter. Call Start to run the background sweep.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Config returns the limiter's configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check counts one request for (class, ip) and reports whether it is allowed.
// An unknown class is always allowed.
func (l *Limiter) Check(class Class, ip string) Decision {
	limit, ok := l.cfg.Max[class]
	if !ok {
		return Decision{Allowed: true}
	}

	k := key{class: class, ip: ip}
	for {
		now := l.now()

		v, loaded := l.entries.LoadOrStore(k, &entry{windowStart: now, count: 1})
		if !loaded {
			l.size.Add(1)
			return Decision{Allowed: true}
		}

		e := v.(*entry)
		e.mu.Lock()
		if e.removed {
			// lost a race with the sweeper; the next LoadOrStore creates a fresh entry
			e.mu.Unlock()
			continue
		}

		if now.Sub(e.windowStart) > l.cfg.Window {
			e.windowStart = now
			e.count = 1
			e.mu.Unlock()
			return Decision{Allowed: true}
		}

		e.count++
		if e.count > limit {
			retryAfter := retryAfterSeconds(e.windowStart.Add(l.cfg.Window).Sub(now))
			e.mu.Unlock()
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}

		e.mu.Unlock()
		return Decision{Allowed: true}
	}
}

func retryAfterSeconds(remaining time.Duration) int {
	return max(int(math.Ceil(remaining.Seconds())), 1)
}

// Len returns the number of tracked (class, ip) entries.
func (l *Limiter) Len() int {
	return int(l.size.Load())
}

// Sweep discards entries whose window has elapsed and returns how many were removed.
// Entries are locked one at a time, so concurrent Check calls are never blocked
// for the duration of a sweep.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0

	l.entries.Range(func(k, v any) bool {
		e := v.(*entry)

		e.mu.Lock()
		if now.Sub(e.windowStart) > l.cfg.Window {
			e.removed = true
			l.entries.CompareAndDelete(k, v)
			removed++
		}
		e.mu.Unlock()

		return true
	})

	l.size.Add(int64(-removed))
	return removed
}

// Start runs the periodic sweep until ctx is cancelled or Stop is called.
func (l *Limiter) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.sweepLoop()
}

// Stop gracefully stops the background sweep.
func (l *Limiter) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.wg.Wait()
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			log.Info().Msg("Rate limit sweeper stopped")
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Int("remaining", l.Len()).Msg("Swept expired rate limit entries")
			}
		}
	}
}
