package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedLimiter struct {
	decisions []Decision
	err       error
	calls     int
}

func (s *scriptedLimiter) Allow(ctx context.Context, scope, subject string, bucket Bucket) (Decision, error) {
	s.calls++
	if s.err != nil {
		return Decision{}, s.err
	}
	d := s.decisions[0]
	if len(s.decisions) > 1 {
		s.decisions = s.decisions[1:]
	}
	return d, nil
}

var enabled = Bucket{RequestsPerMinute: 60, BurstSize: 1}

func TestWaitRetriesUntilAllowed(t *testing.T) {
	lim := &scriptedLimiter{decisions: []Decision{
		{Allowed: false, RetryAfter: time.Millisecond},
		{Allowed: false, RetryAfter: time.Millisecond},
		{Allowed: true},
	}}
	denied := 0
	err := Wait(context.Background(), lim, "predictions", "s1", enabled, func(Decision) { denied++ })
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if lim.calls != 3 || denied != 2 {
		t.Errorf("calls = %d, denied = %d", lim.calls, denied)
	}
}

func TestWaitFailsOpen(t *testing.T) {
	lim := &scriptedLimiter{err: errors.New("redis down")}
	if err := Wait(context.Background(), lim, "predictions", "s1", enabled, nil); err != nil {
		t.Fatalf("Wait should fail open, got %v", err)
	}
}

func TestWaitDisabledBucket(t *testing.T) {
	lim := &scriptedLimiter{}
	if err := Wait(context.Background(), lim, "predictions", "s1", Bucket{}, nil); err != nil || lim.calls != 0 {
		t.Fatalf("Wait() = %v, calls = %d", err, lim.calls)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	lim := &scriptedLimiter{decisions: []Decision{{Allowed: false, RetryAfter: time.Hour}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, lim, "predictions", "s1", enabled, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
}
