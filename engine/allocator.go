package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chenhao-ye/hopperkv/hare"
)

// AllocatorLoop periodically re-runs the HARE cross-tenant allocator over a
// fixed set of instances and pushes the result back through each tenant's
// ResourceController. This collapses the original's out-of-process
// driver/allocator-as-dylib split into one in-process timer goroutine, per
// Design Note 5: "run the allocator in-process on a timer thread with a
// single snapshot."
type AllocatorLoop struct {
	tick    time.Duration
	policy  hare.Policy
	params  hare.Params
	tenants []*Instance

	prevStats []Stats
	prevAt    time.Time
}

// NewAllocatorLoop constructs a loop over tenants, re-allocating every tick.
func NewAllocatorLoop(tick time.Duration, policy hare.Policy, params hare.Params, tenants []*Instance) *AllocatorLoop {
	return &AllocatorLoop{
		tick:      tick,
		policy:    policy,
		params:    params,
		tenants:   tenants,
		prevStats: make([]Stats, len(tenants)),
	}
}

// Run fires one allocation pass per tick until ctx is cancelled.
func (l *AllocatorLoop) Run(ctx context.Context) error {
	l.prevAt = time.Now()
	for i, inst := range l.tenants {
		l.prevStats[i] = inst.Stats().Snapshot()
	}

	t := time.NewTicker(l.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			l.runOnce(now)
		}
	}
}

// runOnce snapshots every tenant's stats/MRC, feeds them to a freshly
// constructed hare.Allocator (tenant demand is a rate, so the allocator
// itself must be rebuilt each cycle), and applies the resulting allocation.
func (l *AllocatorLoop) runOnce(now time.Time) {
	elapsed := now.Sub(l.prevAt).Seconds()
	if elapsed <= 0 {
		elapsed = l.tick.Seconds()
	}
	l.prevAt = now

	alloc := hare.NewAllocator(l.policy, l.params)
	for i, inst := range l.tenants {
		prev := l.prevStats[i]
		curr := inst.Stats().Snapshot()
		l.prevStats[i] = curr

		demand := demandRate(prev, curr, elapsed)
		mrc := inst.BuildMRC(l.params)
		base := inst.Resrc().Allocated()
		alloc.AddTenant(demand, base, mrc, netBWAlphaOf(curr, prev))
	}

	improveRatio := alloc.DoAlloc()
	log.WithField("improve_ratio", improveRatio).Info("engine: allocator loop ran")

	for i, inst := range l.tenants {
		inst.Resrc().Apply(alloc.Tenant(i).Resrc())
	}
}

// demandRate estimates the tenant's "if every request missed" resource
// demand as a per-second rate, from the change in cumulative stats over
// elapsed seconds.
func demandRate(prev, curr Stats, elapsed float64) hare.StatelessResrcVec {
	return hare.StatelessResrcVec{
		DBRCU: float64(curr.DBRCUConsumpIfMiss-prev.DBRCUConsumpIfMiss) / elapsed,
		DBWCU: float64(curr.DBWCUConsump-prev.DBWCUConsump) / elapsed,
		NetBW: float64(curr.NetBWConsumpIfMiss-prev.NetBWConsumpIfMiss) / elapsed,
	}
}

// netBWAlphaOf estimates how cache-dependent net_bw is: 0 means net_bw is
// entirely client-facing (constant regardless of hit/miss), 1 means it
// scales fully with the miss ratio.
func netBWAlphaOf(curr, prev Stats) float64 {
	deltaIfMiss := curr.NetBWConsumpIfMiss - prev.NetBWConsumpIfMiss
	if deltaIfMiss == 0 {
		return 0
	}
	deltaIfHit := curr.NetBWConsumpIfHit - prev.NetBWConsumpIfHit
	alpha := float64(deltaIfMiss-deltaIfHit) / float64(deltaIfMiss)
	if alpha < 0 {
		return 0
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}
