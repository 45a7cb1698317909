package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterZeroRateNeverWaits(t *testing.T) {
	l := NewSingleThread(0)
	l.Consume(1_000_000)
	if w := l.CheckWaitTime(); w > 0 {
		t.Errorf("CheckWaitTime() = %v, want <= 0 for a zero rate limiter", w)
	}
}

func TestLimiterUnderBudgetDoesNotWait(t *testing.T) {
	clock := time.Now()
	l := NewSingleThread(100) // 100 units/sec
	l.now = func() time.Time { return clock }

	l.Consume(1) // 1 unit at 100/sec is paid off after 10ms
	clock = clock.Add(50 * time.Millisecond)
	if w := l.CheckWaitTime(); w > 0 {
		t.Errorf("CheckWaitTime() = %v, want <= 0 just after consuming 1 unit", w)
	}
}

func TestLimiterOverBudgetWaits(t *testing.T) {
	clock := time.Now()
	l := NewSingleThread(10) // 10 units/sec
	l.now = func() time.Time { return clock }

	l.Consume(100) // at elapsed=0, permittedElapsed = 100/10 = 10s
	if w := l.CheckWaitTime(); w <= 0 {
		t.Errorf("CheckWaitTime() = %v, want > 0 after consuming 10x the instantaneous budget", w)
	}
}

func TestLimiterFrameRolloverResetsProgress(t *testing.T) {
	clock := time.Now()
	l := NewSingleThread(10)
	l.now = func() time.Time { return clock }

	l.Consume(1000)
	if w := l.CheckWaitTime(); w <= 0 {
		t.Fatalf("expected a positive wait before rollover, got %v", w)
	}

	clock = clock.Add(FrameLen + time.Millisecond)
	if w := l.CheckWaitTime(); w > 0 {
		t.Errorf("CheckWaitTime() = %v after a frame rollover, want <= 0 (progress reset)", w)
	}
}

func TestLimiterProposeNewRateAppliesAtRollover(t *testing.T) {
	clock := time.Now()
	l := NewSingleThread(10)
	l.now = func() time.Time { return clock }

	l.ProposeNewRate(9999)
	if got := l.Rate(); got != 10 {
		t.Errorf("Rate() = %v before rollover, want unchanged 10", got)
	}

	clock = clock.Add(FrameLen + time.Millisecond)
	l.CheckWaitTime() // forces updateTimeFrame, which rolls the frame over
	if got := l.Rate(); got != 9999 {
		t.Errorf("Rate() = %v after rollover, want proposed 9999", got)
	}
}

func TestConcurrentProgressAddIsAtomic(t *testing.T) {
	p := &ConcurrentProgress{}
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			p.Add(1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
	if got := p.Load(); got != 100 {
		t.Errorf("Load() = %d, want 100 after 100 concurrent Add(1) calls", got)
	}
}
