package hare

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy selects which allocation phases do_alloc runs.
type Policy struct {
	// Harvest enables the resource-harvest phase (trading cache for
	// stateless resources). If false, allocation is a cache-unaware DRF.
	Harvest bool
	// Conserving, when true, fully redistributes every harvested unit so no
	// stateless resource is left unallocated.
	Conserving bool
	// Memshare enables Memshare's cache allocation pass. Mutually exclusive
	// with Harvest in practice (the original leaves enforcing this to the
	// caller).
	Memshare bool
}

// Allocator runs the HARE allocation algorithm across a fixed set of
// tenants, each registered once via AddTenant.
type Allocator struct {
	policy     Policy
	params     Params
	tenants    []*Tenant
	totalResrc ResrcVec
}

// NewAllocator constructs an Allocator. Tenants are added afterward via
// AddTenant.
func NewAllocator(policy Policy, p Params) *Allocator {
	return &Allocator{policy: policy, params: p}
}

// AddTenant registers a new tenant and returns its index.
func (a *Allocator) AddTenant(demandCacheless StatelessResrcVec, base ResrcVec, mrc *MissRatioCurve, netBWAlpha float64) int {
	idx := len(a.tenants)
	a.totalResrc = a.totalResrc.Add(base)
	t := NewTenant(idx, demandCacheless, base, mrc, netBWAlpha, a.params)
	a.tenants = append(a.tenants, t)
	log.WithFields(log.Fields{
		"tenant": idx, "db_rcu": demandCacheless.DBRCU, "db_wcu": demandCacheless.DBWCU,
		"net_bw": demandCacheless.NetBW, "net_bw_alpha": netBWAlpha,
	}).Trace("hare: tenant added")
	return idx
}

// Tenant returns the tenant registered at idx.
func (a *Allocator) Tenant(idx int) *Tenant { return a.tenants[idx] }

// AllocResult returns each tenant's current allocation, in registration
// order.
func (a *Allocator) AllocResult() []ResrcVec {
	out := make([]ResrcVec, len(a.tenants))
	for i, t := range a.tenants {
		out[i] = t.Resrc()
	}
	return out
}

// DoAlloc runs one allocation pass: optional memshare, idle collection,
// optional harvest, then redistribution. Returns the estimated throughput
// improvement ratio.
func (a *Allocator) DoAlloc() float64 {
	improveRatio := 0.0
	log.WithFields(log.Fields{
		"harvest": a.policy.Harvest, "conserving": a.policy.Conserving, "memshare": a.policy.Memshare,
	}).Info("hare: allocator policy")

	if len(a.tenants) <= 1 {
		return improveRatio // nothing to schedule with at most one tenant
	}

	if a.policy.Memshare {
		a.doMemshare()
	}

	var resrcAvail StatelessResrcVec
	for _, t := range a.tenants {
		idle := t.CollectIdle()
		log.WithFields(log.Fields{"tenant": t.Index, "idle": idle.String()}).Trace("hare: collected idle resources")
		resrcAvail = resrcAvail.Add(idle)
	}
	log.WithField("resrc_avail", resrcAvail.String()).Trace("hare: total idle resources")

	if a.policy.Harvest {
		resrcAvail = a.doHarvest(resrcAvail)
	}
	log.WithField("resrc_avail", resrcAvail.String()).Trace("hare: total resources to redistribute")

	if resrcAvail.IsAlmostEmpty(a.params) {
		a.reportAll()
		return improveRatio
	}

	improveRatio, _ = a.doRedistribute(resrcAvail)

	a.reportAll()
	return improveRatio
}

func (a *Allocator) reportAll() {
	for _, t := range a.tenants {
		log.WithFields(log.Fields{
			"tenant": t.Index, "resrc": t.Resrc().String(),
		}).Debug("hare: tenant allocation report")
	}
}

// estimateBottleneck computes the throughput improvement ratio implied by
// granting resrcAvail on top of every tenant's current allocation, and
// which stateless resource is the binding bottleneck.
func (a *Allocator) estimateBottleneck(resrcAvail StatelessResrcVec) (improveRatio float64, isRCUBottleneck, isNetBottleneck bool) {
	resrcSum := a.totalResrc.Stateless.Sub(resrcAvail)
	improveRatio = resrcAvail.DivVec(resrcSum)
	isRCUBottleneck = improveRatio == resrcAvail.DBRCU/resrcSum.DBRCU
	isNetBottleneck = improveRatio == resrcAvail.NetBW/resrcSum.NetBW
	return improveRatio, isRCUBottleneck, isNetBottleneck
}

// doHarvest runs the bottleneck-driven trading loop: repeatedly pick the
// tenant most willing to relinquish cache-correlated throughput and the
// tenant cheapest to compensate, and execute the trade so long as it keeps
// improving the estimated throughput ratio.
func (a *Allocator) doHarvest(resrcAvail StatelessResrcVec) StatelessResrcVec {
	prevImprove, isRCUBottleneck, isNetBottleneck := a.estimateBottleneck(resrcAvail)

	for _, t := range a.tenants {
		t.UpdateRCUNetDelta()
	}

	t0 := time.Now()
	tradeRound := uint32(0)

	for ; tradeRound < a.params.MaxTradeRound; tradeRound++ {
		var relinq, compen *Tenant
		switch {
		case isRCUBottleneck:
			relinq = maxBy(a.tenants, func(t *Tenant) float64 { return t.RCUDeltaRelinq() })
			compen = minBy(a.tenants, func(t *Tenant) float64 { return t.RCUDeltaCompen() })
		case a.params.AllocTotalNetBW && isNetBottleneck:
			relinq = maxBy(a.tenants, func(t *Tenant) float64 { return t.NetDeltaRelinq() })
			compen = minBy(a.tenants, func(t *Tenant) float64 { return t.NetDeltaCompen() })
		default:
			// neither cache-correlated resource is the bottleneck: no point
			// continuing to trade.
			tradeRound = a.params.MaxTradeRound
			continue
		}

		if relinq == compen {
			// Rare: the same tenant is both the best relinquisher and the
			// cheapest compensation target. Settle for the second-best
			// compensation candidate instead of no deal at all.
			if isRCUBottleneck {
				compen = secondMinBy(a.tenants, compen, func(t *Tenant) float64 { return t.RCUDeltaCompen() })
			} else {
				compen = secondMinBy(a.tenants, compen, func(t *Tenant) float64 { return t.NetDeltaCompen() })
			}
		}

		rcuDeltaRelinq := relinq.RCUDeltaRelinq()
		netDeltaRelinq := relinq.NetDeltaRelinq()
		rcuDeltaCompen := compen.RCUDeltaCompen()
		netDeltaCompen := compen.NetDeltaCompen()

		rcuProfit := rcuDeltaRelinq - rcuDeltaCompen
		netProfit := netDeltaRelinq - netDeltaCompen

		resrcIfDeal := resrcAvail
		resrcIfDeal.DBRCU += rcuProfit
		resrcIfDeal.NetBW += netProfit

		currImprove, nextRCU, nextNet := a.estimateBottleneck(resrcIfDeal)
		if currImprove-prevImprove < a.params.MinImproveRatioDelta {
			log.WithFields(log.Fields{
				"prev_improve_pct": prevImprove * 100, "curr_improve_pct": currImprove * 100,
			}).Trace("hare: harvest deal cancelled due to low improvement gain")
			break
		}

		prevImprove = currImprove
		isRCUBottleneck, isNetBottleneck = nextRCU, nextNet
		resrcAvail = resrcIfDeal

		log.WithFields(log.Fields{
			"rcu_profit": rcuProfit, "net_profit": netProfit, "improve_pct": currImprove * 100,
			"relinq": relinq.Index, "compen": compen.Index,
		}).Trace("hare: harvest deal made")

		RelocateResrc(relinq, compen, rcuDeltaRelinq, rcuDeltaCompen, netDeltaRelinq, netDeltaCompen,
			a.params.CacheDelta, a.params.AllocTotalNetBW)

		relinq.UpdateRCUNetDelta()
		compen.UpdateRCUNetDelta()
	}

	log.WithFields(log.Fields{"rounds": tradeRound, "elapsed": time.Since(t0)}).Info("hare: harvest trading finished")
	return resrcAvail
}

// doRedistribute spends resrcAvail across every tenant, proportionally to
// their current stateless holdings (conserving mode) or by scaling every
// tenant up by a common factor (non-conserving mode, which may leave
// resrcAvail partially unspent due to rounding).
func (a *Allocator) doRedistribute(resrcAvail StatelessResrcVec) (float64, StatelessResrcVec) {
	resrcSum := a.totalResrc.Stateless.Sub(resrcAvail)
	improveRatio := resrcAvail.DivVec(resrcSum)

	if a.policy.Conserving {
		for _, t := range a.tenants {
			t.ScaleStatelessByOwned(resrcAvail, resrcSum, len(a.tenants))
		}
		log.WithField("improve_pct", improveRatio*100).Trace("hare: redistribute (conserving)")
		return improveRatio, StatelessResrcVec{}
	}

	scaleFactor := 1 + improveRatio
	for _, t := range a.tenants {
		t.ScaleStateless(scaleFactor)
	}
	resrcSum = AggregateResrc(a.tenants)
	resrcAvail = a.totalResrc.Stateless.Sub(resrcSum)
	return improveRatio, resrcAvail
}

// doMemshare runs Memshare's cache-only reallocation: repeatedly relocate
// one CacheDelta unit from the tenant best positioned to donate it to the
// tenant that would benefit most, stopping once no further relocation
// improves the predicted miss ratios.
//
// The receiver is the tenant with the largest mr_inc. The donator is the
// tenant other than the receiver with the smallest mr_dec that can still
// donate CacheDelta; the relocation happens only when the receiver's
// mr_inc exceeds that donator's mr_dec.
func (a *Allocator) doMemshare() {
	t0 := time.Now()
	tradeRound := 0

	for {
		for _, t := range a.tenants {
			t.UpdateMRDelta()
		}

		receiver := maxBy(a.tenants, func(t *Tenant) float64 { return t.MRIncIfMoreCache() })

		donators := append([]*Tenant(nil), a.tenants...)
		sort.Slice(donators, func(i, j int) bool {
			return donators[i].MRDecIfLessCache() < donators[j].MRDecIfLessCache()
		})

		var donator *Tenant
		for _, cand := range donators {
			if cand == receiver {
				continue
			}
			if cand.CanDonate(a.params.CacheDelta) {
				donator = cand
				break
			}
		}

		if donator == nil {
			log.Info("hare: memshare fails to find a donator")
			break
		}

		mrInc := receiver.MRIncIfMoreCache()
		mrDec := donator.MRDecIfLessCache()

		if mrInc <= mrDec {
			log.WithFields(log.Fields{
				"donator": donator.Index, "mr_dec_pct": mrDec * 100,
				"receiver": receiver.Index, "mr_inc_pct": mrInc * 100,
			}).Trace("hare: memshare terminates, relocation does not profit")
			break
		}

		RelocateCache(receiver, donator, a.params.CacheDelta)
		log.WithFields(log.Fields{
			"donator": donator.Index, "mr_dec_pct": mrDec * 100,
			"receiver": receiver.Index, "mr_inc_pct": mrInc * 100,
		}).Trace("hare: memshare relocates cache")
		tradeRound++
	}

	log.WithFields(log.Fields{"rounds": tradeRound, "elapsed": time.Since(t0)}).Info("hare: memshare finished")
}

func maxBy(ts []*Tenant, key func(*Tenant) float64) *Tenant {
	best := ts[0]
	bestV := key(best)
	for _, t := range ts[1:] {
		if v := key(t); v > bestV {
			best, bestV = t, v
		}
	}
	return best
}

func minBy(ts []*Tenant, key func(*Tenant) float64) *Tenant {
	best := ts[0]
	bestV := key(best)
	for _, t := range ts[1:] {
		if v := key(t); v < bestV {
			best, bestV = t, v
		}
	}
	return best
}

// secondMinBy returns the minimum over ts excluding exclude.
func secondMinBy(ts []*Tenant, exclude *Tenant, key func(*Tenant) float64) *Tenant {
	var best *Tenant
	var bestV float64
	for _, t := range ts {
		if t == exclude {
			continue
		}
		if best == nil || key(t) < bestV {
			best, bestV = t, key(t)
		}
	}
	return best
}
