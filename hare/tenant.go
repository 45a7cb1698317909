package hare

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Tenant owns one cache instance's demand vector, current allocation, MRC,
// and the predictive deltas the allocator's trading loops consult. Tenants
// are always referenced by pointer from an Allocator; there is no supported
// copy semantics (mirroring the original's deleted copy constructor).
type Tenant struct {
	Index int // for logging only

	demandCacheless StatelessResrcVec // demand assuming a 100% miss ratio
	resrc           ResrcVec          // mutated in place by the trading loops
	mrc             *MissRatioCurve
	netBWAlpha      float64 // in [0,1]: how cache-dependent net_bw is

	rcuDeltaRelinq float64
	rcuDeltaCompen float64
	netDeltaRelinq float64
	netDeltaCompen float64

	mrIncIfMoreCache float64
	mrDecIfLessCache float64

	reservedCacheSize uint64
	params            Params
}

// NewTenant constructs a Tenant. reservedCacheSize is derived from the base
// allocation's cache_size and params.ReservedRatio.
func NewTenant(idx int, demandCacheless StatelessResrcVec, base ResrcVec, mrc *MissRatioCurve, netBWAlpha float64, p Params) *Tenant {
	return &Tenant{
		Index:             idx,
		demandCacheless:   demandCacheless,
		resrc:             base,
		mrc:               mrc,
		netBWAlpha:        netBWAlpha,
		reservedCacheSize: uint64(float64(base.CacheSize) * p.ReservedRatio),
		params:            p,
	}
}

func (t *Tenant) Resrc() ResrcVec               { return t.resrc }
func (t *Tenant) RCUDeltaRelinq() float64        { return t.rcuDeltaRelinq }
func (t *Tenant) RCUDeltaCompen() float64        { return t.rcuDeltaCompen }
func (t *Tenant) NetDeltaRelinq() float64        { return t.netDeltaRelinq }
func (t *Tenant) NetDeltaCompen() float64        { return t.netDeltaCompen }
func (t *Tenant) MRIncIfMoreCache() float64      { return t.mrIncIfMoreCache }
func (t *Tenant) MRDecIfLessCache() float64      { return t.mrDecIfLessCache }

// CollectIdle reduces the tenant's stateless allocation to just what its
// current demand (at its current cache_size) actually uses, returning the
// slack as idle resources the allocator can redistribute.
func (t *Tenant) CollectIdle() StatelessResrcVec {
	demand := t.demandCacheless
	mr := t.mrc.GetMissRatio(t.resrc.CacheSize)
	demand.DBRCU *= mr
	if t.params.AllocTotalNetBW {
		demand.NetBW *= mr + (1-t.netBWAlpha)*(1-mr)
	}

	tp := t.resrc.Stateless.DivVec(demand)
	used := demand.Scale(tp)
	idle := t.resrc.Stateless.Sub(used)
	t.resrc.Stateless = used
	return idle
}

// UpdateRCUNetDelta recomputes the relinquish/compensate predictions used
// by the harvest trading loop.
func (t *Tenant) UpdateRCUNetDelta() {
	t.predRCUNetDeltaIfMoreCache(t.params.CacheDelta)
	t.predRCUNetDeltaIfLessCache(t.params.CacheDelta)
	log.WithFields(log.Fields{
		"tenant": t.Index, "rcu_relinq": t.rcuDeltaRelinq, "rcu_compen": t.rcuDeltaCompen,
		"net_relinq": t.netDeltaRelinq, "net_compen": t.netDeltaCompen,
	}).Trace("hare: tenant rcu/net delta updated")
}

// UpdateMRDelta recomputes the miss-ratio deltas memshare's trading loop
// consults.
func (t *Tenant) UpdateMRDelta() {
	currMR := t.mrc.GetMissRatio(t.resrc.CacheSize)
	moreMR := t.mrc.GetMissRatio(t.resrc.CacheSize + t.params.CacheDelta)
	lessMR := t.mrc.GetMissRatio(t.resrc.CacheSize - t.params.CacheDelta)
	t.mrIncIfMoreCache = currMR - moreMR
	t.mrDecIfLessCache = lessMR - currMR
}

// CanDonate reports whether the tenant can give up delta bytes of cache
// without dropping below its reserved floor.
func (t *Tenant) CanDonate(delta uint64) bool {
	return t.resrc.CacheSize >= t.reservedCacheSize+delta
}

// ScaleStateless multiplies the tenant's stateless allocation in place.
func (t *Tenant) ScaleStateless(factor float64) {
	t.resrc.Stateless = t.resrc.Stateless.Scale(factor)
}

// ScaleStatelessByOwned grows the tenant's stateless allocation by its
// proportional share of avail, falling back to an even split for any
// component where sum is zero.
func (t *Tenant) ScaleStatelessByOwned(avail, sum StatelessResrcVec, evenDenom int) {
	rcuFactor := 1.0 / float64(evenDenom)
	if sum.DBRCU != 0 {
		rcuFactor = t.resrc.Stateless.DBRCU / sum.DBRCU
	}
	wcuFactor := 1.0 / float64(evenDenom)
	if sum.DBWCU != 0 {
		wcuFactor = t.resrc.Stateless.DBWCU / sum.DBWCU
	}
	netFactor := 1.0 / float64(evenDenom)
	if sum.NetBW != 0 {
		netFactor = t.resrc.Stateless.NetBW / sum.NetBW
	}
	t.resrc.Stateless.DBRCU += avail.DBRCU * rcuFactor
	t.resrc.Stateless.DBWCU += avail.DBWCU * wcuFactor
	t.resrc.Stateless.NetBW += avail.NetBW * netFactor
}

// RelocateCache moves cacheDelta bytes of cache from donor to receiver.
func RelocateCache(receiver, donor *Tenant, cacheDelta uint64) {
	receiver.resrc.CacheSize += cacheDelta
	donor.resrc.CacheSize -= cacheDelta
}

// RelocateResrc executes a harvest trade: relinq gives up cache and
// receives stateless resources back; compen gives up stateless resources
// and receives cache.
func RelocateResrc(relinq, compen *Tenant, rcuRelinq, rcuCompen, netRelinq, netCompen float64, cacheDelta uint64, allocTotalNetBW bool) {
	compen.resrc.CacheSize -= cacheDelta
	relinq.resrc.CacheSize += cacheDelta
	compen.resrc.Stateless.DBRCU += rcuCompen
	relinq.resrc.Stateless.DBRCU -= rcuRelinq
	if allocTotalNetBW {
		compen.resrc.Stateless.NetBW += netCompen
		relinq.resrc.Stateless.NetBW -= netRelinq
	}
}

// AggregateResrc sums the stateless allocation across every tenant.
func AggregateResrc(tenants []*Tenant) StatelessResrcVec {
	var sum StatelessResrcVec
	for _, t := range tenants {
		sum = sum.Add(t.resrc.Stateless)
	}
	return sum
}

// predRCUNetDeltaIfMoreCache computes what db_rcu/net_bw this tenant could
// relinquish if given cacheDelta more bytes of cache while holding
// throughput constant. A zero rcuDeltaRelinq signals "no deal possible."
func (t *Tenant) predRCUNetDeltaIfMoreCache(cacheDelta uint64) {
	currMR := t.mrc.GetMissRatio(t.resrc.CacheSize)
	if math.IsInf(currMR, 1) || currMR <= t.params.Epsilon {
		t.abortRelinq()
		return
	}

	predMR := t.mrc.GetMissRatio(t.resrc.CacheSize + cacheDelta)
	if math.IsInf(predMR, 1) || predMR < t.params.MinMissRatio {
		t.abortRelinq()
		return
	}

	deltaMR := currMR - predMR
	if deltaMR <= t.params.Epsilon {
		t.abortRelinq()
		return
	}

	t.rcuDeltaRelinq = t.resrc.Stateless.DBRCU * deltaMR / currMR
	if t.params.AllocTotalNetBW {
		t.netDeltaRelinq = t.resrc.Stateless.NetBW * deltaMR * t.netBWAlpha /
			(currMR*t.netBWAlpha + 1 - t.netBWAlpha)
	}
}

func (t *Tenant) abortRelinq() {
	t.rcuDeltaRelinq = relinqAbortOffer
	if t.params.AllocTotalNetBW {
		t.netDeltaRelinq = relinqAbortOffer
	}
}

// predRCUNetDeltaIfLessCache computes what db_rcu/net_bw compensation this
// tenant would need if it gave up cacheDelta bytes of cache while holding
// throughput constant.
func (t *Tenant) predRCUNetDeltaIfLessCache(cacheDelta uint64) {
	if t.resrc.CacheSize < t.params.MinCacheSize+cacheDelta {
		t.abortCompen()
		return
	}

	currMR := t.mrc.GetMissRatio(t.resrc.CacheSize)
	if math.IsInf(currMR, 1) {
		t.abortCompen()
		return
	}

	predMR := t.mrc.GetMissRatio(t.resrc.CacheSize - cacheDelta)
	if math.IsInf(predMR, 1) {
		t.abortCompen()
		return
	}
	if predMR > t.params.MaxMissRatio {
		t.abortCompen()
		return
	}

	deltaMR := predMR - currMR
	if deltaMR <= t.params.Epsilon {
		t.immediateCompen()
		return
	}

	// Order matters: predMR may be ~0 even when deltaMR looks significant
	// relative to float rounding; check the "still no miss" cases before
	// dividing by currMR.
	if predMR <= t.params.Epsilon {
		t.immediateCompen()
		return
	} else if currMR <= t.params.Epsilon {
		t.abortCompen()
		return
	}

	t.rcuDeltaCompen = t.resrc.Stateless.DBRCU * deltaMR / currMR
	t.netDeltaCompen = 0
	if t.params.AllocTotalNetBW {
		t.netDeltaCompen = t.resrc.Stateless.NetBW * deltaMR * t.netBWAlpha /
			(currMR*t.netBWAlpha + 1 - t.netBWAlpha)
	}
}

func (t *Tenant) abortCompen() {
	t.rcuDeltaCompen = compenAbortOffer
	if t.params.AllocTotalNetBW {
		t.netDeltaCompen = compenAbortOffer
	}
}

func (t *Tenant) immediateCompen() {
	t.rcuDeltaCompen = 0
	if t.params.AllocTotalNetBW {
		t.netDeltaCompen = 0
	}
}
