// Package ghostcache implements a memory-bounded, key-sampled LRU scaffold
// that produces a cache-size → hit/miss curve without actually caching
// values. Only a fraction of keys (those whose hash has sampleShift
// trailing zero bits) are tracked, so the scaffold's memory footprint is
// 2^-sampleShift of the real working set; every counter it produces is
// scaled back up by 2^sampleShift to approximate the full population.
package ghostcache

import (
	"bufio"
	"container/list"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/chenhao-ye/hopperkv/internal/util"
)

// AccessMode controls whether an access updates the hit/miss counters.
type AccessMode int

const (
	// DEFAULT accounts the access against every tick row.
	DEFAULT AccessMode = iota
	// NOOP repositions the LRU entry without touching counters (used for
	// warm-up writes via SETC, and while replaying a checkpoint on load).
	NOOP
)

// checkpointMagic is the 4-byte header every saved file starts with.
const checkpointMagic = "hare"

// ErrIncompatibleCheckpoint is returned by Load when the file's header does
// not match this implementation's hash family (different platform, or the
// file is corrupted).
var ErrIncompatibleCheckpoint = errors.New("ghostcache: incompatible or corrupt checkpoint")

type entry struct {
	keyHash uint32
	kvSize  uint32
}

type tickRow struct {
	hitCnt  uint64
	missCnt uint64
}

// TickStat is one row of the exported miss-ratio curve: the cache size in
// key-count (Count) and estimated resident bytes (Size), together with the
// accumulated hit/miss counters for that tick.
type TickStat struct {
	Count   uint32
	Size    uint64
	HitCnt  uint64
	MissCnt uint64
}

// Cache is the sampled ghost cache. All methods are safe for concurrent use.
type Cache struct {
	sampleShift uint
	ticks       []uint32 // strictly increasing, in full (unsampled) key-count units

	// guards everything below
	order *list.List // front = MRU
	index map[uint32]*list.Element
	rows  []tickRow
}

// New constructs a ghost cache whose tick schedule is
// {minTick, minTick+tick, ..., maxTick}, each tick rounded down to a
// multiple of 2^sampleShift so it aligns with the sampling granularity.
func New(tick, minTick, maxTick uint32, sampleShift uint) *Cache {
	var ticks []uint32
	for t := minTick; t <= maxTick; t += tick {
		rt := RoundTick(t, sampleShift)
		if rt == 0 {
			rt = uint32(1) << sampleShift
		}
		if len(ticks) == 0 || ticks[len(ticks)-1] != rt {
			ticks = append(ticks, rt)
		}
	}
	if len(ticks) == 0 {
		ticks = []uint32{uint32(1) << sampleShift}
	}
	return &Cache{
		sampleShift: sampleShift,
		ticks:       ticks,
		order:       list.New(),
		index:       make(map[uint32]*list.Element),
		rows:        make([]tickRow, len(ticks)),
	}
}

// RoundTick rounds tick down to the nearest multiple of the sampling
// granularity 2^sampleShift, so tick thresholds line up with what the
// sampled scaffold can actually resolve.
func RoundTick(tick uint32, sampleShift uint) uint32 {
	return (tick >> sampleShift) << sampleShift
}

func keyHash(key string) uint32 {
	return uint32(util.Fnv64a[string](key))
}

func (c *Cache) sampled(h uint32) bool {
	mask := uint32(1)<<c.sampleShift - 1
	return h&mask == 0
}

// Access records a touch of key with the given (estimated) kv_size. If mode
// is DEFAULT, every tick row's hit/miss counters are updated as if the
// working set at that tick were the LRU prefix of that many keys.
func (c *Cache) Access(key string, kvSize uint32, mode AccessMode) {
	c.access(keyHash(key), kvSize, mode)
}

// AccessHash is Access for a pre-computed key hash, used when replaying a
// checkpoint (the file only stores hashes, not original keys).
func (c *Cache) AccessHash(keyHash uint32, kvSize uint32, mode AccessMode) {
	c.access(keyHash, kvSize, mode)
}

func (c *Cache) access(h uint32, kvSize uint32, mode AccessMode) {
	if !c.sampled(h) {
		return
	}

	elem, exists := c.index[h]

	if mode == DEFAULT {
		rank := -1
		if exists {
			rank = 0
			for e := c.order.Front(); e != elem; e = e.Next() {
				rank++
			}
		}
		scale := uint64(1) << c.sampleShift
		for i, t := range c.ticks {
			threshold := t >> c.sampleShift
			if threshold == 0 {
				threshold = 1
			}
			if exists && uint32(rank) < threshold {
				c.rows[i].hitCnt += scale
			} else {
				c.rows[i].missCnt += scale
			}
		}
	}

	if exists {
		c.order.MoveToFront(elem)
		elem.Value.(*entry).kvSize = kvSize
		return
	}

	en := &entry{keyHash: h, kvSize: kvSize}
	ne := c.order.PushFront(en)
	c.index[h] = ne

	maxSampled := c.ticks[len(c.ticks)-1] >> c.sampleShift
	for uint32(c.order.Len()) > maxSampled {
		tail := c.order.Back()
		te := tail.Value.(*entry)
		delete(c.index, te.keyHash)
		c.order.Remove(tail)
	}
}

// UpdateSize amends the tracked size for key after a miss-fill reveals the
// real value size. Does not move the entry or touch hit/miss counters. A
// no-op if key is not (or no longer) tracked.
func (c *Cache) UpdateSize(key string, newKvSize uint32) {
	h := keyHash(key)
	if !c.sampled(h) {
		return
	}
	if elem, ok := c.index[h]; ok {
		elem.Value.(*entry).kvSize = newKvSize
	}
}

// Curve returns the current cache-size → hit/miss curve, one row per tick.
// Size estimates the total resident bytes for a cache holding Count keys,
// projected from the sampled scaffold's own cumulative size.
func (c *Cache) Curve() []TickStat {
	out := make([]TickStat, len(c.ticks))
	scale := uint64(1) << c.sampleShift

	// Walk the LRU list once, accumulating sampled cumulative size, and
	// snapshot it at each tick boundary.
	cum := uint64(0)
	pos := uint32(0)
	tickIdx := 0
	for e := c.order.Front(); e != nil && tickIdx < len(out); e = e.Next() {
		en := e.Value.(*entry)
		cum += uint64(en.kvSize)
		pos++
		for tickIdx < len(out) && pos >= (c.ticks[tickIdx]>>c.sampleShift) {
			out[tickIdx] = TickStat{
				Count:   c.ticks[tickIdx],
				Size:    cum * scale,
				HitCnt:  c.rows[tickIdx].hitCnt,
				MissCnt: c.rows[tickIdx].missCnt,
			}
			tickIdx++
		}
	}
	// Any remaining ticks (scaffold smaller than the tick threshold) get
	// the final cumulative size.
	for ; tickIdx < len(out); tickIdx++ {
		out[tickIdx] = TickStat{
			Count:   c.ticks[tickIdx],
			Size:    cum * scale,
			HitCnt:  c.rows[tickIdx].hitCnt,
			MissCnt: c.rows[tickIdx].missCnt,
		}
	}
	return out
}

// Save persists the ghost cache to path: a header ("hare" magic + hash of
// "hare" using the same hash family as keys) followed by (key_hash, kv_size)
// pairs in LRU order (MRU first).
func (c *Cache) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(checkpointMagic); err != nil {
		return err
	}
	headerHash := uint32(util.Fnv64a[string](checkpointMagic))
	if err := binary.Write(w, binary.LittleEndian, headerHash); err != nil {
		return err
	}
	for e := c.order.Front(); e != nil; e = e.Next() {
		en := e.Value.(*entry)
		if err := binary.Write(w, binary.LittleEndian, en.keyHash); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, en.kvSize); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load replaces the current scaffold's contents by replaying a checkpoint
// written by Save. Existing state is cleared first. Returns
// ErrIncompatibleCheckpoint if the header doesn't match.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return ErrIncompatibleCheckpoint
	}
	if string(magic) != checkpointMagic {
		return ErrIncompatibleCheckpoint
	}
	var headerHash uint32
	if err := binary.Read(r, binary.LittleEndian, &headerHash); err != nil {
		return ErrIncompatibleCheckpoint
	}
	if headerHash != uint32(util.Fnv64a[string](checkpointMagic)) {
		return ErrIncompatibleCheckpoint
	}

	c.order.Init()
	for k := range c.index {
		delete(c.index, k)
	}
	for i := range c.rows {
		c.rows[i] = tickRow{}
	}

	var recs []entry
	for {
		var rec struct {
			KeyHash uint32
			KVSize  uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		recs = append(recs, entry{keyHash: rec.KeyHash, kvSize: rec.KVSize})
	}
	// Records are stored MRU first; replay from the LRU end so the first
	// record ends up at the front again.
	for i := len(recs) - 1; i >= 0; i-- {
		c.AccessHash(recs[i].keyHash, recs[i].kvSize, NOOP)
	}
	return nil
}
