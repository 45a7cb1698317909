package engine

import (
	"time"

	"github.com/chenhao-ye/hopperkv/cache"
)

// Config bundles the per-instance policy knobs the original exposes via
// its module-load cmdline arguments and CONFIG SET-style commands.
type Config struct {
	// Metrics receives the underlying cache's hit/miss/evict/size signals.
	// Nil means cache.NoopMetrics.
	Metrics cache.Metrics

	// AdmitWrite: if false, SET on a key with no existing cached value is
	// not written into the cache (but is still written through to storage).
	AdmitWrite bool

	// AllocTotalNetBW: if true, account storage-facing network bandwidth in
	// addition to client-facing bandwidth.
	AllocTotalNetBW bool

	// CacheCapacity is the host table's entry-count limit, enforced
	// alongside the byte-cost budget NewInstance is given. cache.New
	// requires a positive Capacity regardless of whether cost-based
	// limiting is in use, so this always needs a value.
	CacheCapacity int

	// Ghost cache scaffold parameters.
	GhostTick        uint32
	GhostMinTick     uint32
	GhostMaxTick     uint32
	GhostSampleShift uint

	// KVSizeDecayRate is the exponential-decay factor for the running
	// average kv_size statistic (in (0,1); closer to 1 means slower decay).
	KVSizeDecayRate float64

	// MockDynamoLatency simulates a fixed backing-store round trip when the
	// storage backend is a MockBackend.
	MockDynamoLatency time.Duration

	// StorageThreadPollFreq bounds how long the storage dispatcher sleeps
	// when idle or fully rate-limited.
	StorageThreadPollFreq time.Duration
}

// DefaultConfig mirrors the original module's default cmdline values.
func DefaultConfig() Config {
	return Config{
		AdmitWrite:            true,
		AllocTotalNetBW:       true,
		CacheCapacity:         1_000_000,
		GhostTick:             1 << 20,
		GhostMinTick:          1 << 20,
		GhostMaxTick:          1 << 30,
		GhostSampleShift:      5,
		KVSizeDecayRate:       0.99,
		MockDynamoLatency:     2 * time.Millisecond,
		StorageThreadPollFreq: time.Millisecond,
	}
}
