// Package ratelimit implements a time-framed token bucket used to cap the
// request-unit consumption (db RCU/WCU) and network bandwidth of a single
// tenant's cache instance. It deliberately mirrors the original's two
// progress-counter flavors: a non-atomic one for limiters only ever touched
// by a single goroutine, and an atomic one for limiters shared by a worker
// goroutine and completion callbacks running on other goroutines.
package ratelimit

import (
	"math"
	"sync/atomic"
	"time"
)

// FrameLen is the time frame over which consumption is measured. 0.37s
// rather than a round number, so limiter frames across components don't
// resync in lockstep.
const FrameLen = 370 * time.Millisecond

// Progress tracks consumption within the current time frame.
type Progress interface {
	Load() uint64
	Store(uint64)
	Add(uint64)
}

// SingleThreadProgress is a plain counter for limiters touched by exactly
// one goroutine (e.g. the client-facing network-bandwidth limiter, which is
// only ever consumed from the request-handling goroutine that owns it).
type SingleThreadProgress struct{ v uint64 }

func (p *SingleThreadProgress) Load() uint64  { return p.v }
func (p *SingleThreadProgress) Store(x uint64) { p.v = x }
func (p *SingleThreadProgress) Add(x uint64)   { p.v += x }

// ConcurrentProgress is an atomic counter for limiters consumed from
// multiple goroutines (e.g. the RCU/WCU limiters, fed by both the storage
// worker and its backend's own completion goroutines).
type ConcurrentProgress struct{ v atomic.Uint64 }

func (p *ConcurrentProgress) Load() uint64  { return p.v.Load() }
func (p *ConcurrentProgress) Store(x uint64) { p.v.Store(x) }
func (p *ConcurrentProgress) Add(x uint64)   { p.v.Add(x) }

// Limiter is a time-framed token bucket: consumption is tallied within a
// rolling FrameLen window, and CheckWaitTime reports how long the caller
// must wait (if at all) before the current frame's budget is no longer
// exceeded.
type Limiter struct {
	rate         float64
	progress     Progress
	frameBegin   time.Time
	proposedRate atomic.Uint64 // math.Float64bits(rate), applied at next rollover
	now          func() time.Time
}

// New constructs a Limiter with the given initial rate (units/sec) and
// progress counter implementation.
func New(rate float64, progress Progress) *Limiter {
	l := &Limiter{
		rate:       rate,
		progress:   progress,
		frameBegin: time.Now(),
		now:        time.Now,
	}
	l.proposedRate.Store(math.Float64bits(rate))
	return l
}

// NewSingleThread constructs a Limiter backed by SingleThreadProgress.
func NewSingleThread(rate float64) *Limiter { return New(rate, &SingleThreadProgress{}) }

// NewConcurrent constructs a Limiter backed by ConcurrentProgress.
func NewConcurrent(rate float64) *Limiter { return New(rate, &ConcurrentProgress{}) }

// Consume records consumption within the current time frame.
func (l *Limiter) Consume(n uint64) { l.progress.Add(n) }

// updateTimeFrame rolls the frame over if FrameLen has elapsed, applying any
// proposed rate change, and returns the elapsed time since the (possibly
// just-rolled) frame began, in seconds.
func (l *Limiter) updateTimeFrame() float64 {
	ts := l.now()
	elapsed := ts.Sub(l.frameBegin).Seconds()

	frameSec := FrameLen.Seconds()
	if elapsed >= frameSec {
		elapsed = math.Mod(elapsed, frameSec)
		l.frameBegin = ts.Add(-time.Duration(elapsed * float64(time.Second)))
		l.progress.Store(0)
		if newRate := math.Float64frombits(l.proposedRate.Load()); newRate != l.rate {
			l.rate = newRate
		}
	}
	return elapsed
}

// CheckWaitTime returns how long (in seconds) the caller should wait before
// issuing more work. A value <= 0 means the limiter currently permits
// sending requests immediately.
func (l *Limiter) CheckWaitTime() float64 {
	elapsed := l.updateTimeFrame()
	if l.rate <= 0 {
		return 0
	}
	permittedElapsed := float64(l.progress.Load()) / l.rate
	return permittedElapsed - elapsed
}

// ProposeNewRate schedules a new rate, applied at the next frame rollover.
// Safe to call concurrently with CheckWaitTime/Consume.
func (l *Limiter) ProposeNewRate(rate float64) {
	l.proposedRate.Store(math.Float64bits(rate))
}

// Rate returns the rate currently in effect (not the proposed one).
func (l *Limiter) Rate() float64 { return l.rate }
