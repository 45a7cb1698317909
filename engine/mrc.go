package engine

import "github.com/chenhao-ye/hopperkv/hare"

// BuildMRC converts the instance's current ghost-cache curve into a
// hare.MissRatioCurve the allocator can consult, using byte-size ticks
// (TickStat.Size) rather than key-count so it lines up with hare's
// cache_size-indexed API.
func (inst *Instance) BuildMRC(p hare.Params) *hare.MissRatioCurve {
	curve := inst.ghost.Load().Curve()
	ticks := make([]uint64, len(curve))
	missRatios := make([]float64, len(curve))
	for i, row := range curve {
		ticks[i] = row.Size
		total := row.HitCnt + row.MissCnt
		if total == 0 {
			missRatios[i] = 1.0
			continue
		}
		missRatios[i] = float64(row.MissCnt) / float64(total)
	}
	return hare.NewMissRatioCurve(ticks, missRatios, p)
}
