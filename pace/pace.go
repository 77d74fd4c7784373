// Package pace enforces one global pacing policy over every
// network-facing action against the portal: a minimum spacing between
// requests of each kind, plus exponential backoff after failures.
//
// Discovery and extraction share a single Scheduler per process so both
// phases honor the same policy. Wait blocks the caller; it never drops
// or reorders requests.
package pace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Kind classifies a portal request for spacing purposes.
type Kind string

const (
	Navigate Kind = "navigate"
	Capture  Kind = "capture"
	Submit   Kind = "submit"
)

// Config configures a Scheduler.
type Config struct {
	// Spacing is the minimum time between consecutive requests of the
	// same kind. Default: 2s.
	Spacing time.Duration

	// BackoffBase is the extra wait applied after one failure; it
	// doubles per consecutive failure. Default: 1s.
	BackoffBase time.Duration

	// BackoffCap bounds the backoff wait. Default: 2m.
	BackoffCap time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Spacing <= 0 {
		c.Spacing = 2 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler paces requests per kind. Safe for concurrent use, though
// the pipeline drives it from a single sequential flow.
type Scheduler struct {
	cfg      Config
	mu       sync.Mutex
	limiters map[Kind]*rate.Limiter
	failures map[Kind]int
}

// New creates a Scheduler from configuration.
func New(cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:      cfg,
		limiters: make(map[Kind]*rate.Limiter),
		failures: make(map[Kind]int),
	}
}

// Wait blocks until the minimum spacing since the last request of kind
// has elapsed, plus the current backoff penalty if recent requests of
// that kind failed. It returns early only when ctx is cancelled.
func (s *Scheduler) Wait(ctx context.Context, kind Kind) error {
	s.mu.Lock()
	lim, ok := s.limiters[kind]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cfg.Spacing), 1)
		s.limiters[kind] = lim
	}
	n := s.failures[kind]
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("pace: wait %s: %w", kind, err)
	}

	if n > 0 {
		d := s.backoff(n)
		s.cfg.Logger.Debug("pace: backoff", "kind", string(kind), "failures", n, "wait", d)
		if err := sleepCtx(ctx, d); err != nil {
			return fmt.Errorf("pace: backoff %s: %w", kind, err)
		}
	}
	return nil
}

// Failure records a failed request of kind, scaling the next wait.
func (s *Scheduler) Failure(kind Kind) {
	s.mu.Lock()
	s.failures[kind]++
	s.mu.Unlock()
}

// Success resets the backoff scale for kind.
func (s *Scheduler) Success(kind Kind) {
	s.mu.Lock()
	s.failures[kind] = 0
	s.mu.Unlock()
}

// Failures reports the consecutive failure count for kind.
func (s *Scheduler) Failures(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[kind]
}

func (s *Scheduler) backoff(n int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if d > s.cfg.BackoffCap {
		d = s.cfg.BackoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
