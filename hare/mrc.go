package hare

import (
	"fmt"
	"sort"
	"sync"
)

// MissRatioCurve is a piecewise-linear mapping from cache_size (bytes) to
// miss ratio, built from parallel monotone sequences ticks[] (strictly
// increasing) and missRatios[] (non-increasing, in [0,1]).
type MissRatioCurve struct {
	ticks      []uint64
	missRatios []float64
	params     Params

	mu  sync.Mutex
	memo map[uint64]float64
}

// NewMissRatioCurve constructs a curve from sorted ticks/missRatios. The
// slices are copied; callers may reuse their backing arrays afterward.
func NewMissRatioCurve(ticks []uint64, missRatios []float64, p Params) *MissRatioCurve {
	c := &MissRatioCurve{
		ticks:      append([]uint64(nil), ticks...),
		missRatios: append([]float64(nil), missRatios...),
		params:     p,
		memo:       make(map[uint64]float64),
	}
	return c
}

// GetMissRatio returns the miss ratio at cacheSize, memoizing the result.
func (c *MissRatioCurve) GetMissRatio(cacheSize uint64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.memo[cacheSize]; ok {
		return v
	}
	v := c.getMissRatioConstLocked(cacheSize)
	c.memo[cacheSize] = v
	return v
}

// GetMissRatioConst computes the miss ratio at cacheSize without consulting
// or updating the memoization table.
func (c *MissRatioCurve) GetMissRatioConst(cacheSize uint64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getMissRatioConstLocked(cacheSize)
}

func (c *MissRatioCurve) getMissRatioConstLocked(cacheSize uint64) float64 {
	last := c.ticks[len(c.ticks)-1]
	if cacheSize > last {
		if c.params.ConservativeOutOfRange {
			return c.missRatios[len(c.missRatios)-1]
		}
		panic(fmt.Sprintf("hare: cache_size out of range: max=%d, received=%d", last, cacheSize))
	}

	first := c.ticks[0]
	if cacheSize < first {
		return c.interpolate(1.0, c.missRatios[0], cacheSize, first-cacheSize)
	}

	idx := sort.Search(len(c.ticks), func(i int) bool { return c.ticks[i] >= cacheSize })
	if c.ticks[idx] == cacheSize {
		return c.missRatios[idx]
	}
	return c.interpolate(c.missRatios[idx-1], c.missRatios[idx],
		cacheSize-c.ticks[idx-1], c.ticks[idx]-cacheSize)
}

// interpolate computes a distance-weighted average of lVal and rVal: lVal's
// weight is proportional to rDist (the distance to the *other* point), so
// as lDist -> 0 the result approaches lVal.
func (c *MissRatioCurve) interpolate(lVal, rVal float64, lDist, rDist uint64) float64 {
	if c.params.DisableInterpNearInf && (1.0-lVal) < c.params.Epsilon {
		return 1
	}
	total := float64(lDist + rDist)
	lRatio := float64(rDist) / total
	rRatio := float64(lDist) / total
	return lVal*lRatio + rVal*rRatio
}

// CheckSanity validates the curve's invariants: non-empty, equal-length
// ticks/missRatios, non-decreasing ticks, miss ratios within [0,1], and a
// monotonically non-increasing miss ratio sequence.
func (c *MissRatioCurve) CheckSanity() error {
	if len(c.ticks) == 0 {
		return fmt.Errorf("hare: ticks is empty")
	}
	if len(c.ticks) != len(c.missRatios) {
		return fmt.Errorf("hare: ticks/miss_ratios length mismatch")
	}
	// rollingMinTick/rollingMaxMR enforce that ticks are non-decreasing and
	// miss ratios are non-increasing, one step at a time.
	rollingMinTick := c.ticks[0]
	rollingMaxMR := 1.0
	for i, t := range c.ticks {
		mr := c.missRatios[i]
		if t < rollingMinTick {
			return fmt.Errorf("hare: ticks are not monotonically non-decreasing at index %d", i)
		}
		if mr < 0 || mr > rollingMaxMR {
			return fmt.Errorf("hare: miss_ratio %g out of range at index %d", mr, i)
		}
		rollingMinTick = t
		rollingMaxMR = mr
	}
	return nil
}
