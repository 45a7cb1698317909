package hare

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// tradingTestParams mirrors the overrides the original allocator test
// applies on top of the production defaults: net bandwidth is excluded from
// DRF, and cache_delta/min_* are shrunk from their megabyte-scale
// production defaults to fit small test fixtures.
func tradingTestParams() Params {
	p := DefaultParams()
	p.AllocTotalNetBW = false
	p.CacheDelta = 10
	p.MinCacheSize = 10
	p.MinDBRCU = 10
	p.MinDBWCU = 10
	p.MinNetBW = 10
	return p
}

// tick scales a tick count by the test cache_delta, matching the original
// test's TICK_UNIT(x) macro.
func tick(n uint64) uint64 { return n * 10 }

// requireResrcSimilar matches the original's is_resrc_similar: exact
// equality on cache_size, 0.01 tolerance on the stateless components.
func requireResrcSimilar(t *testing.T, expected, actual ResrcVec) {
	t.Helper()
	require.Equal(t, expected.CacheSize, actual.CacheSize)
	require.InDelta(t, expected.Stateless.DBRCU, actual.Stateless.DBRCU, 0.01)
	require.InDelta(t, expected.Stateless.DBWCU, actual.Stateless.DBWCU, 0.01)
	require.InDelta(t, expected.Stateless.NetBW, actual.Stateless.NetBW, 0.01)
}

// TestDoAllocTrivialSingleTenantIsNoop is S1: a lone tenant has nothing to
// trade with, so DoAlloc must leave its allocation untouched.
func TestDoAllocTrivialSingleTenantIsNoop(t *testing.T) {
	p := tradingTestParams()
	ticks := []uint64{tick(1), tick(2), tick(4), tick(8), tick(10)}
	missRatios := []float64{0.9, 0.8, 0.7, 0.6, 0.4}
	demand := StatelessResrcVec{DBRCU: 0.5, DBWCU: 0.5, NetBW: 4}
	base := ResrcVec{CacheSize: 20, Stateless: StatelessResrcVec{DBRCU: 2, DBWCU: 1.2, NetBW: 6}}

	a := NewAllocator(Policy{Harvest: true, Conserving: true}, p)
	a.AddTenant(demand, base, NewMissRatioCurve(ticks, missRatios, p), 0)

	a.DoAlloc()

	requireResrcSimilar(t, base, a.Tenant(0).Resrc())
}

// TestDoAllocSymmetricFourTenantsIsNoop is S2: four identical tenants are
// already at a symmetric equilibrium, so nothing should move.
func TestDoAllocSymmetricFourTenantsIsNoop(t *testing.T) {
	p := tradingTestParams()
	ticks := []uint64{tick(1), tick(2), tick(4), tick(8), tick(10)}
	missRatios := []float64{0.9, 0.8, 0.7, 0.6, 0.4}
	demand := StatelessResrcVec{DBRCU: 0.5, DBWCU: 0.5, NetBW: 4}
	base := ResrcVec{CacheSize: tick(2), Stateless: StatelessResrcVec{DBRCU: 2, DBWCU: 2, NetBW: 16}}

	a := NewAllocator(Policy{Harvest: true, Conserving: true}, p)
	for i := 0; i < 4; i++ {
		a.AddTenant(demand, base, NewMissRatioCurve(ticks, missRatios, p), 0)
	}

	a.DoAlloc()

	for i := 0; i < 4; i++ {
		requireResrcSimilar(t, base, a.Tenant(i).Resrc())
	}
}

// TestDoAllocRWRatioAppliesDRF is S3: two tenants with identical cache
// behavior but opposite read/write mixes should each keep their cache_size
// but have their stateless resources split by dominant-resource fairness.
func TestDoAllocRWRatioAppliesDRF(t *testing.T) {
	p := tradingTestParams()
	ticks := []uint64{tick(1), tick(2), tick(4), tick(8), tick(10)}
	missRatios := []float64{1, 1, 1, 1, 1}
	demand1 := StatelessResrcVec{DBRCU: 0.8, DBWCU: 0.2, NetBW: 4}
	demand2 := StatelessResrcVec{DBRCU: 0.2, DBWCU: 0.8, NetBW: 4}
	base := ResrcVec{CacheSize: tick(2), Stateless: StatelessResrcVec{DBRCU: 2, DBWCU: 2, NetBW: 16}}

	a := NewAllocator(Policy{Harvest: true, Conserving: true}, p)
	a.AddTenant(demand1, base, NewMissRatioCurve(ticks, missRatios, p), 0)
	a.AddTenant(demand2, base, NewMissRatioCurve(ticks, missRatios, p), 0)

	a.DoAlloc()

	requireResrcSimilar(t, ResrcVec{CacheSize: tick(2), Stateless: StatelessResrcVec{DBRCU: 3.2, DBWCU: 0.8, NetBW: 16}}, a.Tenant(0).Resrc())
	requireResrcSimilar(t, ResrcVec{CacheSize: tick(2), Stateless: StatelessResrcVec{DBRCU: 0.8, DBWCU: 3.2, NetBW: 16}}, a.Tenant(1).Resrc())
}

// TestDoAllocHarvestTradesCacheForRCU is S4: a read-heavy tenant with a
// much steeper miss-ratio curve should harvest cache from its neighbor in
// exchange for db_rcu, since its cache hits are worth more.
func TestDoAllocHarvestTradesCacheForRCU(t *testing.T) {
	p := tradingTestParams()
	ticks := []uint64{tick(2), tick(4), tick(6), tick(8), tick(10)}
	missRatios1 := []float64{0.9, 0.85, 0.8, 0.7, 0.5}
	missRatios2 := []float64{0.8, 0.6, 0.3, 0.2, 0.15}
	demand := StatelessResrcVec{DBRCU: 0.8, DBWCU: 0.2, NetBW: 4}
	base := ResrcVec{CacheSize: tick(4), Stateless: StatelessResrcVec{DBRCU: 2, DBWCU: 2, NetBW: 16}}

	a := NewAllocator(Policy{Harvest: true, Conserving: true}, p)
	a.AddTenant(demand, base, NewMissRatioCurve(ticks, missRatios1, p), 0)
	a.AddTenant(demand, base, NewMissRatioCurve(ticks, missRatios2, p), 0)

	a.DoAlloc()

	requireResrcSimilar(t, ResrcVec{CacheSize: tick(2), Stateless: StatelessResrcVec{DBRCU: 2.75, DBWCU: 1.69, NetBW: 13.56}}, a.Tenant(0).Resrc())
	requireResrcSimilar(t, ResrcVec{CacheSize: tick(6), Stateless: StatelessResrcVec{DBRCU: 1.25, DBWCU: 2.31, NetBW: 18.44}}, a.Tenant(1).Resrc())
}
