// Package engine implements one tenant's look-aside cache instance: the
// in-memory table, the sampled ghost cache, inflight-request dedup, the
// rate-limited storage worker, request statistics, and the resource
// controller the HARE allocator drives.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chenhao-ye/hopperkv/cache"
	"github.com/chenhao-ye/hopperkv/ghostcache"
	"github.com/chenhao-ye/hopperkv/inflight"
	"github.com/chenhao-ye/hopperkv/internal/resrcost"
	"github.com/chenhao-ye/hopperkv/ratelimit"
	"github.com/chenhao-ye/hopperkv/storage"
)

type getOutcome struct {
	val string
	err error
}

// costOf is the host table's Cost function: non-string entries (the
// wrong-type edge case of §4.6/4.7) cost nothing extra to hold, since only
// string values are ever actually written by this package.
func costOf(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	return len(s)
}

// Instance is one tenant's complete cache stack.
type Instance struct {
	cfg Config

	cache      cache.Cache[string, any]
	ghost      atomic.Pointer[ghostcache.Cache]
	inflight   *inflight.Table[string, chan getOutcome]
	worker     *storage.Worker
	netLimiter *ratelimit.Limiter

	admitWrite atomic.Bool

	stats   *Stats
	resrc   *ResourceController
	barrier *Barrier
}

// NewInstance wires up one tenant's cache instance backed by backend, with
// an initial cache byte budget of maxCost (0 disables cost limiting).
func NewInstance(cfg Config, backend storage.Backend, maxCost int64) *Instance {
	inst := &Instance{
		cfg: cfg,
		cache: cache.New(cache.Options[string, any]{
			Capacity: cfg.CacheCapacity,
			Cost:     costOf,
			MaxCost:  maxCost,
			Metrics:  cfg.Metrics,
		}),
		inflight:   inflight.NewTable[string, chan getOutcome](),
		worker:     storage.NewWorker(backend, 1_000_000, 1_000_000, cfg.StorageThreadPollFreq),
		netLimiter: ratelimit.NewSingleThread(1_000_000_000),
		stats:      NewStats(cfg),
		barrier:    NewBarrier(),
	}
	inst.ghost.Store(ghostcache.New(cfg.GhostTick, cfg.GhostMinTick, cfg.GhostMaxTick, cfg.GhostSampleShift))
	inst.admitWrite.Store(cfg.AdmitWrite)
	inst.resrc = newResourceController(inst)
	return inst
}

// Run launches the storage dispatcher goroutine; it returns once ctx is
// cancelled.
func (inst *Instance) Run(ctx context.Context) error {
	return inst.worker.Run(ctx)
}

// Stats returns the instance's request/resource counters.
func (inst *Instance) Stats() *Stats { return inst.stats }

// Ghost returns the sampled ghost cache, for MRC reporting and
// checkpointing. The returned pointer is a snapshot: a concurrent
// SetGhostRange may swap in a new scaffold afterwards.
func (inst *Instance) Ghost() *ghostcache.Cache { return inst.ghost.Load() }

// SetGhostRange reinitializes the ghost cache scaffold with a new tick
// schedule, discarding any accumulated hit/miss history. Mirrors the
// original's `ghost.range` config, which reinitializes the scaffold on set.
func (inst *Instance) SetGhostRange(tick, minTick, maxTick uint32) {
	inst.ghost.Store(ghostcache.New(tick, minTick, maxTick, inst.cfg.GhostSampleShift))
}

// AdmitWrite reports whether a SET on a previously-uncached key is written
// into the cache.
func (inst *Instance) AdmitWrite() bool { return inst.admitWrite.Load() }

// SetAdmitWrite updates the admit-write policy at runtime.
func (inst *Instance) SetAdmitWrite(v bool) { inst.admitWrite.Store(v) }

// SetBackend swaps the backing store the storage worker dispatches
// against. Only safe to call when no request submitted before the swap is
// still outstanding.
func (inst *Instance) SetBackend(backend storage.Backend) { inst.worker.SetBackend(backend) }

// Resrc returns the instance's resource controller.
func (inst *Instance) Resrc() *ResourceController { return inst.resrc }

// Barrier returns the instance's client synchronization barrier.
func (inst *Instance) Barrier() *Barrier { return inst.barrier }

func (inst *Instance) waitNet(ctx context.Context) {
	if wait := inst.netLimiter.CheckWaitTime(); wait > 0 {
		t := time.NewTimer(time.Duration(wait * float64(time.Second)))
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}

// Get serves a GET request: memory hit, inflight-deduped miss, or a fresh
// backing-store fetch. See package inflight for the staleness semantics a
// racing SET can introduce mid-fetch.
func (inst *Instance) Get(ctx context.Context, key string) (string, error) {
	if raw, ok := inst.cache.Get(key); ok {
		v, ok := raw.(string)
		if !ok {
			return "", ErrWrongType
		}
		inst.ghost.Load().Access(key, uint32(len(v)), ghostcache.DEFAULT)
		inst.stats.RecordGetDone(len(key), len(v), false)
		inst.waitNet(ctx)
		inst.netLimiter.Consume(resrcost.KVToNetGetClient(len(key), len(v)))
		return v, nil
	}

	inst.ghost.Load().Access(key, 0, ghostcache.DEFAULT)

	if ch, ok := inst.joinInflight(key); ok {
		select {
		case out := <-ch:
			if out.err != nil {
				return "", out.err
			}
			inst.stats.RecordGetDone(len(key), len(out.val), false)
			inst.waitNet(ctx)
			inst.netLimiter.Consume(resrcost.KVToNetGetClient(len(key), len(out.val)))
			return out.val, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return inst.fetchAndWait(ctx, key)
}

// joinInflight attaches a dependent channel to key's inflight entry if one
// exists. The second return is false if no entry exists or if the entry
// completed in the brief window between the check and AddDependent; in
// both cases Get then fetches the key itself as the new owner.
func (inst *Instance) joinInflight(key string) (chan getOutcome, bool) {
	if !inst.inflight.Check(key) {
		return nil, false
	}
	ch := make(chan getOutcome, 1)
	if !inst.inflight.AddDependent(key, ch) {
		return nil, false
	}
	return ch, true
}

func (inst *Instance) fetchAndWait(ctx context.Context, key string) (string, error) {
	task := &inflight.Task{}
	inst.inflight.Begin(key, task)

	resCh := inst.worker.GetAsync(ctx, key)

	var res storage.GetResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	dependents, stale, ok := inst.inflight.End(key, task)
	if !ok {
		// Someone else already completed/owns this generation; our result is
		// still valid to return to our own caller, but we must not touch the
		// cache or notify dependents (not ours to notify).
		if res.Err != nil {
			return "", fmt.Errorf("%w: %w", ErrBackend, res.Err)
		}
		return res.Val, nil
	}

	if res.Err != nil {
		backendErr := fmt.Errorf("%w: %w", ErrBackend, res.Err)
		for _, dep := range dependents {
			dep <- getOutcome{err: backendErr}
		}
		log.WithFields(log.Fields{"key": key, "err": res.Err}).Warn("engine: get from storage failed")
		return "", backendErr
	}

	if !stale {
		inst.cache.Set(key, res.Val)
		inst.ghost.Load().UpdateSize(key, uint32(len(res.Val)))
	}
	for _, dep := range dependents {
		dep <- getOutcome{val: res.Val}
	}

	inst.stats.RecordGetDone(len(key), len(res.Val), true)
	inst.waitNet(ctx)
	netConsumption := resrcost.KVToNetGetClient(len(key), len(res.Val))
	if inst.cfg.AllocTotalNetBW {
		netConsumption += resrcost.KVToNetGetClient(len(key), len(res.Val))
	}
	inst.netLimiter.Consume(netConsumption)

	return res.Val, nil
}

// Set serves a write-through SET request: the in-memory value is updated
// (subject to AdmitWrite for previously-absent keys) and any inflight GET
// on key is marked stale before the write is submitted to the backing
// store.
func (inst *Instance) Set(ctx context.Context, key, val string) error {
	admitWrite := inst.admitWrite.Load()
	raw, existed := inst.cache.Get(key)
	if existed {
		if _, ok := raw.(string); !ok {
			return ErrWrongType
		}
	}
	if existed || admitWrite {
		inst.cache.Set(key, val)
		inst.inflight.Invalidate(key)
	}

	inst.ghost.Load().Access(key, uint32(len(val)), ghostcache.NOOP)
	inst.stats.RecordSetDone(len(key), len(val), existed || admitWrite)

	inst.waitNet(ctx)
	netConsumption := resrcost.KVToNetSetClient(len(key), len(val))
	if inst.cfg.AllocTotalNetBW {
		netConsumption += resrcost.KVToNetSetClient(len(key), len(val))
	}
	inst.netLimiter.Consume(netConsumption)

	errCh := inst.worker.PutAsync(ctx, key, val)
	select {
	case err := <-errCh:
		if err != nil {
			inst.cache.Remove(key) // eventual consistency over latency
			return fmt.Errorf("%w: %w", ErrBackend, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetC writes val into the cache only, without touching the backing
// store: used to warm the cache (and the ghost cache's view of it) ahead
// of a benchmark run.
func (inst *Instance) SetC(key, val string) {
	inst.cache.Set(key, val)
	inst.ghost.Load().Access(key, uint32(len(val)), ghostcache.NOOP)
}

// Load warms the cache (and ghost cache) from a "key,val_size" CSV file,
// synthesizing a val_size-byte placeholder value for each key.
func (inst *Instance) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFileIO, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return fmt.Errorf("%w: empty load file", ErrMalformedKV)
	}
	if sc.Text() != "key,val_size" {
		return fmt.Errorf("%w: invalid load file header", ErrMalformedKV)
	}

	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ",", 2)
		if len(parts) != 2 {
			return fmt.Errorf("%w: invalid load file row", ErrMalformedKV)
		}
		valSize, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("%w: invalid val_size: %s", ErrMalformedKV, err)
		}
		inst.SetC(parts[0], strings.Repeat("v", valSize))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrFileIO, err)
	}
	return nil
}

// Close stops the instance's cache background workers.
func (inst *Instance) Close() error {
	return inst.cache.Close()
}
