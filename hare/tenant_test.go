package hare

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func flatParams() Params {
	p := DefaultParams()
	p.AllocTotalNetBW = false
	p.CacheDelta = 1 << 20 // 1 MiB
	return p
}

const mib = uint64(1) << 20

func TestTenantUpdateRCUNetDelta(t *testing.T) {
	p := flatParams()
	mrc := NewMissRatioCurve([]uint64{1 * mib, 2 * mib, 3 * mib}, []float64{0.8, 0.5, 0.3}, p)

	base := ResrcVec{CacheSize: 2 * mib, Stateless: StatelessResrcVec{DBRCU: 25}}
	tenant := NewTenant(0, StatelessResrcVec{}, base, mrc, 0, p)

	tenant.UpdateRCUNetDelta()

	require.InDelta(t, 10.0, tenant.RCUDeltaRelinq(), 1e-9)
	require.InDelta(t, 15.0, tenant.RCUDeltaCompen(), 1e-9)
	require.Zero(t, tenant.NetDeltaRelinq())
	require.Zero(t, tenant.NetDeltaCompen())
}

func TestTenantPredRCUNetDeltaAbortsCompenBelowMinCacheSize(t *testing.T) {
	p := flatParams()
	p.MinCacheSize = 10 * mib
	mrc := NewMissRatioCurve([]uint64{1 * mib, 2 * mib, 3 * mib}, []float64{0.8, 0.5, 0.3}, p)

	base := ResrcVec{CacheSize: 2 * mib, Stateless: StatelessResrcVec{DBRCU: 25}}
	tenant := NewTenant(0, StatelessResrcVec{}, base, mrc, 0, p)

	tenant.UpdateRCUNetDelta()

	require.Equal(t, math.MaxFloat32, tenant.RCUDeltaCompen())
}

func TestTenantPredRCUNetDeltaAbortsRelinqAtZeroMissRatio(t *testing.T) {
	p := flatParams()
	mrc := NewMissRatioCurve([]uint64{1 * mib, 2 * mib, 3 * mib}, []float64{0.1, 0, 0}, p)

	base := ResrcVec{CacheSize: 2 * mib, Stateless: StatelessResrcVec{DBRCU: 25}}
	tenant := NewTenant(0, StatelessResrcVec{}, base, mrc, 0, p)

	tenant.UpdateRCUNetDelta()

	require.Equal(t, 0.0, tenant.RCUDeltaRelinq())
}

func TestTenantCanDonateRespectsReservedFloor(t *testing.T) {
	p := DefaultParams()
	p.ReservedRatio = 0.5
	mrc := NewMissRatioCurve([]uint64{1 * mib, 10 * mib}, []float64{0.5, 0.1}, p)

	base := ResrcVec{CacheSize: 10 * mib}
	tenant := NewTenant(0, StatelessResrcVec{}, base, mrc, 0, p)
	// reservedCacheSize = 10MiB * 0.5 = 5MiB

	require.True(t, tenant.CanDonate(4*mib))  // 10 - 4 = 6 >= 5
	require.False(t, tenant.CanDonate(6*mib)) // 10 - 6 = 4 < 5
}

func TestAggregateResrcSumsAcrossTenants(t *testing.T) {
	p := DefaultParams()
	mrc := NewMissRatioCurve([]uint64{1 * mib}, []float64{0.5}, p)

	a := NewTenant(0, StatelessResrcVec{}, ResrcVec{Stateless: StatelessResrcVec{DBRCU: 10, DBWCU: 1, NetBW: 100}}, mrc, 0, p)
	b := NewTenant(1, StatelessResrcVec{}, ResrcVec{Stateless: StatelessResrcVec{DBRCU: 20, DBWCU: 2, NetBW: 200}}, mrc, 0, p)

	sum := AggregateResrc([]*Tenant{a, b})
	require.Equal(t, StatelessResrcVec{DBRCU: 30, DBWCU: 3, NetBW: 300}, sum)
}

func TestRelocateCacheMovesExactDelta(t *testing.T) {
	p := DefaultParams()
	mrc := NewMissRatioCurve([]uint64{1 * mib}, []float64{0.5}, p)

	receiver := NewTenant(0, StatelessResrcVec{}, ResrcVec{CacheSize: 5 * mib}, mrc, 0, p)
	donor := NewTenant(1, StatelessResrcVec{}, ResrcVec{CacheSize: 5 * mib}, mrc, 0, p)

	RelocateCache(receiver, donor, 2*mib)

	require.Equal(t, 7*mib, receiver.Resrc().CacheSize)
	require.Equal(t, 3*mib, donor.Resrc().CacheSize)
}
