package hare

import "fmt"

// StatelessResrcVec is a point in (db_rcu, db_wcu, net_bw) space: the three
// per-second resource rates a tenant's traffic consumes that do not depend
// on holding cache_size bytes resident (cache_size itself lives in ResrcVec).
type StatelessResrcVec struct {
	DBRCU float64 // DynamoDB read capacity units, req/s
	DBWCU float64 // DynamoDB write capacity units, req/s
	NetBW float64 // bytes/s
}

// IsEmpty reports whether every component is exactly zero.
func (v StatelessResrcVec) IsEmpty() bool {
	return v.DBRCU == 0 && v.DBWCU == 0 && v.NetBW == 0
}

// IsAlmostEmpty reports whether every component is within its configured
// epsilon of zero.
func (v StatelessResrcVec) IsAlmostEmpty(p Params) bool {
	return abs(v.DBRCU) < p.DBRCUEpsilon && abs(v.DBWCU) < p.DBWCUEpsilon && abs(v.NetBW) < p.NetBWEpsilon
}

// IsAlmostEqual reports whether v and other differ by less than epsilon in
// every component.
func (v StatelessResrcVec) IsAlmostEqual(other StatelessResrcVec, p Params) bool {
	return v.Sub(other).IsAlmostEmpty(p)
}

func (v StatelessResrcVec) Add(o StatelessResrcVec) StatelessResrcVec {
	return StatelessResrcVec{v.DBRCU + o.DBRCU, v.DBWCU + o.DBWCU, v.NetBW + o.NetBW}
}

func (v StatelessResrcVec) Sub(o StatelessResrcVec) StatelessResrcVec {
	return StatelessResrcVec{v.DBRCU - o.DBRCU, v.DBWCU - o.DBWCU, v.NetBW - o.NetBW}
}

// Scale multiplies every component by factor.
func (v StatelessResrcVec) Scale(factor float64) StatelessResrcVec {
	return StatelessResrcVec{v.DBRCU * factor, v.DBWCU * factor, v.NetBW * factor}
}

// DivN splits v evenly across n shares (e.g. tenants).
func (v StatelessResrcVec) DivN(n uint32) StatelessResrcVec {
	d := float64(n)
	return StatelessResrcVec{v.DBRCU / d, v.DBWCU / d, v.NetBW / d}
}

// DivVec returns the element-wise min of v/other's components — the
// "improvement ratio" interpretation: how many multiples of other's demand
// v's availability covers, bottlenecked by the tightest resource.
func (v StatelessResrcVec) DivVec(other StatelessResrcVec) float64 {
	return min3(v.DBRCU/other.DBRCU, v.DBWCU/other.DBWCU, v.NetBW/other.NetBW)
}

func (v StatelessResrcVec) String() string {
	return fmt.Sprintf("{db_rcu=%g, db_wcu=%g, net_bw=%g}", v.DBRCU, v.DBWCU, v.NetBW)
}

// ResrcVec is a tenant's full allocation: a byte cache budget plus its
// stateless resource rates.
type ResrcVec struct {
	CacheSize uint64
	Stateless StatelessResrcVec
}

func (v ResrcVec) Add(o ResrcVec) ResrcVec {
	return ResrcVec{v.CacheSize + o.CacheSize, v.Stateless.Add(o.Stateless)}
}

// AddStateless adds a stateless delta without touching cache_size.
func (v ResrcVec) AddStateless(o StatelessResrcVec) ResrcVec {
	return ResrcVec{v.CacheSize, v.Stateless.Add(o)}
}

// DivN splits v evenly across n shares.
func (v ResrcVec) DivN(n uint32) ResrcVec {
	return ResrcVec{v.CacheSize / uint64(n), v.Stateless.DivN(n)}
}

func (v ResrcVec) String() string {
	return fmt.Sprintf("{cache_size=%d, db_rcu=%g, db_wcu=%g, net_bw=%g}",
		v.CacheSize, v.Stateless.DBRCU, v.Stateless.DBWCU, v.Stateless.NetBW)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
