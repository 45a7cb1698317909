package ghostcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTick(t *testing.T) {
	cases := []struct {
		tick, shift, want uint32
	}{
		{10, 0, 10},
		{10, 1, 10},
		{11, 1, 10},
		{15, 2, 12},
		{3, 2, 0},
	}
	for _, c := range cases {
		if got := RoundTick(c.tick, uint(c.shift)); got != c.want {
			t.Errorf("RoundTick(%d, %d) = %d, want %d", c.tick, c.shift, got, c.want)
		}
	}
}

func TestNewBuildsStrictlyIncreasingTickSchedule(t *testing.T) {
	c := New(10, 10, 40, 0)
	curve := c.Curve()
	if len(curve) != 4 {
		t.Fatalf("len(curve) = %d, want 4 ticks for {10,20,30,40}", len(curve))
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].Count <= curve[i-1].Count {
			t.Fatalf("tick schedule not strictly increasing at row %d: %+v after %+v", i, curve[i], curve[i-1])
		}
	}
}

func TestCurveOnEmptyCacheIsAllZero(t *testing.T) {
	c := New(1, 1, 4, 0)
	for _, row := range c.Curve() {
		if row.Size != 0 || row.HitCnt != 0 || row.MissCnt != 0 {
			t.Errorf("empty-cache row %+v is not all-zero", row)
		}
	}
}

func TestAccessHitMissAndEviction(t *testing.T) {
	// A single-slot, unsampled (shift=0, so every key is tracked) scaffold:
	// easy to hand-verify hit/miss/eviction exactly.
	c := New(1, 1, 1, 0)

	c.Access("a", 5, DEFAULT) // new key: counted as a miss
	c.Access("a", 5, DEFAULT) // same key, still resident: counted as a hit
	c.Access("b", 7, DEFAULT) // new key, evicts "a" (capacity 1)

	curve := c.Curve()
	if len(curve) != 1 {
		t.Fatalf("len(curve) = %d, want 1", len(curve))
	}
	row := curve[0]
	if row.HitCnt != 1 {
		t.Errorf("HitCnt = %d, want 1", row.HitCnt)
	}
	if row.MissCnt != 2 {
		t.Errorf("MissCnt = %d, want 2", row.MissCnt)
	}
	if row.Size != 7 {
		t.Errorf("Size = %d, want 7 (only \"b\" resident after eviction)", row.Size)
	}
}

func TestAccessNoopModeSkipsCounters(t *testing.T) {
	c := New(1, 1, 1, 0)
	c.Access("a", 5, NOOP)
	row := c.Curve()[0]
	if row.HitCnt != 0 || row.MissCnt != 0 {
		t.Errorf("NOOP access touched counters: %+v", row)
	}
	if row.Size != 5 {
		t.Errorf("Size = %d, want 5 (NOOP still tracks residency)", row.Size)
	}
}

func TestUpdateSizeChangesSizeWithoutTouchingCounters(t *testing.T) {
	c := New(1, 1, 1, 0)
	c.Access("a", 5, DEFAULT)
	before := c.Curve()[0]

	c.UpdateSize("a", 99)
	after := c.Curve()[0]

	if after.Size == before.Size {
		t.Fatal("UpdateSize did not change the tracked size")
	}
	if after.Size != 99 {
		t.Errorf("Size after UpdateSize = %d, want 99", after.Size)
	}
	if after.HitCnt != before.HitCnt || after.MissCnt != before.MissCnt {
		t.Errorf("UpdateSize touched hit/miss counters: before=%+v after=%+v", before, after)
	}
}

func TestUpdateSizeOnUntrackedKeyIsNoop(t *testing.T) {
	c := New(1, 1, 1, 0)
	c.UpdateSize("nope", 99) // must not panic
	if c.Curve()[0].Size != 0 {
		t.Fatal("UpdateSize on an untracked key changed state")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := New(1, 1, 4, 0)
	c.Access("a", 10, DEFAULT)
	c.Access("b", 20, DEFAULT)
	c.Access("c", 30, DEFAULT)
	want := c.Curve()

	path := filepath.Join(t.TempDir(), "ghost.chkpt")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(1, 1, 4, 0)
	// Seed it with unrelated state first, to confirm Load clears it.
	loaded.Access("z", 999, DEFAULT)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := loaded.Curve()
	if len(got) != len(want) {
		t.Fatalf("len(curve) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.chkpt")
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	c := New(1, 1, 4, 0)
	err := c.Load(path)
	if err != ErrIncompatibleCheckpoint {
		t.Errorf("Load on a bad-magic file = %v, want ErrIncompatibleCheckpoint", err)
	}
}
