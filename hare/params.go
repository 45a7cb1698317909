package hare

import "math"

// Params bundles every tunable the HARE allocator and Tenant predictive
// math consult. Unlike the original's process-global namespace-scoped
// constants/statics, these are fields on a value passed explicitly into
// NewAllocator/NewTenant, so multiple allocator instances (e.g. one per
// test) never share mutable global state.
type Params struct {
	// AllocTotalNetBW: if true, allocate both client-facing and
	// storage-facing network bandwidth; if false, only client-facing.
	AllocTotalNetBW bool

	// MaxTradeRound bounds the harvest trading loop.
	MaxTradeRound uint32
	// MinImproveRatioDelta: stop trading once the estimated improvement
	// ratio stops growing by at least this much per round.
	MinImproveRatioDelta float64
	// MaxMissRatio: do not trade cache away from a tenant if doing so would
	// push its miss ratio above this bound.
	MaxMissRatio float64
	// MinMissRatio: do not trade cache toward a tenant once its miss ratio
	// would drop below this bound.
	MinMissRatio float64

	// CacheDelta is the unit of cache traded per round.
	CacheDelta uint64
	// MinCacheSize is the floor below which a tenant's cache cannot shrink.
	MinCacheSize uint64
	MinDBRCU     float64
	MinDBWCU     float64
	MinNetBW     float64

	// ReservedRatio: fraction of a tenant's base cache_size that memshare
	// may never take away.
	ReservedRatio float64

	DBRCUEpsilon float64
	DBWCUEpsilon float64
	NetBWEpsilon float64
	// Epsilon: miss ratios at or below this are treated as exactly zero.
	Epsilon float64

	// ConservativeOutOfRange / DisableInterpNearInf govern MissRatioCurve
	// out-of-range and near-infinity interpolation behavior.
	ConservativeOutOfRange bool
	DisableInterpNearInf   bool
}

// relinqAbortOffer / compenAbortOffer are the sentinel return values used by
// Tenant's predictive-delta math to signal "abort this trade."
const relinqAbortOffer = 0.0

var compenAbortOffer = math.MaxFloat32

// DefaultParams returns the same placeholder defaults the original engine
// ships with ("TODO: use meaningful default parameter values").
func DefaultParams() Params {
	return Params{
		AllocTotalNetBW:        true,
		MaxTradeRound:          10000,
		MinImproveRatioDelta:   0.0001,
		MaxMissRatio:           1.0,
		MinMissRatio:           0,
		CacheDelta:             1 << 20, // 1 MiB
		MinCacheSize:           0,
		MinDBRCU:               0,
		MinDBWCU:               0,
		MinNetBW:               0,
		ReservedRatio:          0.5,
		DBRCUEpsilon:           0.0001,
		DBWCUEpsilon:           0.0001,
		NetBWEpsilon:           0.0001,
		Epsilon:                math.Nextafter(1, 2) - 1, // machine epsilon
		ConservativeOutOfRange: true,
		DisableInterpNearInf:   false,
	}
}
