package pace

import (
	"context"
	"testing"
	"time"
)

func TestWaitMinimumSpacing(t *testing.T) {
	const spacing = 50 * time.Millisecond
	s := New(Config{Spacing: spacing})
	ctx := context.Background()

	const n = 4
	var starts [n]time.Time
	for i := 0; i < n; i++ {
		if err := s.Wait(ctx, Submit); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		starts[i] = time.Now()
	}

	// Tolerate timer granularity but require the spacing to hold in
	// substance for every gap.
	min := spacing - 10*time.Millisecond
	for i := 1; i < n; i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap < min {
			t.Errorf("gap %d = %v, want >= %v", i, gap, spacing)
		}
	}
}

func TestKindsPacedIndependently(t *testing.T) {
	s := New(Config{Spacing: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First request of each kind gets the initial token immediately.
	for _, k := range []Kind{Navigate, Capture, Submit} {
		if err := s.Wait(ctx, k); err != nil {
			t.Fatalf("Wait(%s): %v", k, err)
		}
	}
}

func TestBackoffScalesAndResets(t *testing.T) {
	s := New(Config{
		Spacing:     time.Millisecond,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  25 * time.Millisecond,
	})

	if got := s.backoff(1); got != 10*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 10ms", got)
	}
	if got := s.backoff(2); got != 20*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 20ms", got)
	}
	if got := s.backoff(3); got != 25*time.Millisecond {
		t.Errorf("backoff(3) = %v, want cap 25ms", got)
	}
	if got := s.backoff(10); got != 25*time.Millisecond {
		t.Errorf("backoff(10) = %v, want cap 25ms", got)
	}

	s.Failure(Submit)
	s.Failure(Submit)
	if got := s.Failures(Submit); got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
	s.Success(Submit)
	if got := s.Failures(Submit); got != 0 {
		t.Errorf("Failures after Success = %d, want 0", got)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	s := New(Config{Spacing: time.Hour})
	ctx := context.Background()
	if err := s.Wait(ctx, Navigate); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(cctx, Navigate); err == nil {
		t.Error("expected error from cancelled Wait")
	}
}
