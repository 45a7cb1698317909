package engine

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/chenhao-ye/hopperkv/hare"
)

// ResourceController holds the instance's currently allocated resource
// vector and applies updates from the HARE allocator to the cache's cost
// budget and the storage/network rate limiters. This is the per-instance
// half of resource accounting; hare.Allocator's trading math is the
// cross-tenant half.
type ResourceController struct {
	mu        sync.Mutex
	allocated hare.ResrcVec
	inst      *Instance
}

func newResourceController(inst *Instance) *ResourceController {
	return &ResourceController{inst: inst}
}

// Allocated returns the currently applied resource vector.
func (r *ResourceController) Allocated() hare.ResrcVec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocated
}

// Apply pushes a new allocation into the cache's cost budget and the
// storage/network rate limiters. A negative field in the update (modeled
// here as a nil pointer via ApplyPartial) means "leave unchanged" per the
// original's RESRC.SET convention.
func (r *ResourceController) Apply(v hare.ResrcVec) {
	r.mu.Lock()
	r.allocated = v
	r.mu.Unlock()

	r.inst.cache.SetMaxCost(int64(v.CacheSize))
	r.inst.worker.SetRCULimit(v.Stateless.DBRCU)
	r.inst.worker.SetWCULimit(v.Stateless.DBWCU)
	r.inst.netLimiter.ProposeNewRate(v.Stateless.NetBW)

	log.WithFields(log.Fields{
		"cache_size": v.CacheSize, "db_rcu": v.Stateless.DBRCU,
		"db_wcu": v.Stateless.DBWCU, "net_bw": v.Stateless.NetBW,
	}).Info("engine: resource allocation applied")
}

// ApplyPartial updates only the fields whose pointer is non-nil, mirroring
// RESRC.SET's "negative value means skip" convention.
func (r *ResourceController) ApplyPartial(cacheSize *uint64, dbRCU, dbWCU, netBW *float64) {
	r.mu.Lock()
	v := r.allocated
	if cacheSize != nil {
		v.CacheSize = *cacheSize
	}
	if dbRCU != nil {
		v.Stateless.DBRCU = *dbRCU
	}
	if dbWCU != nil {
		v.Stateless.DBWCU = *dbWCU
	}
	if netBW != nil {
		v.Stateless.NetBW = *netBW
	}
	r.mu.Unlock()
	r.Apply(v)
}
