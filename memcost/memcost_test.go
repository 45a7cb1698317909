package memcost

import "testing"

func TestRoundSizeSmallClasses(t *testing.T) {
	cases := []struct {
		in, want uint32
	}{
		{0, 4},
		{1, 4},
		{4, 4},
		{5, 12},
		{60, 60},
		{61, 76},
		{124, 124},
		{125, 156},
		{252, 252},
		{253, 316},
		{508, 508},
		{509, 636},
		{1020, 1020},
		{1021, 1276},
		{2044, 2044},
		{2045, 2556},
		{4092, 4092},
	}
	for _, c := range cases {
		if got := RoundSize(c.in); got != c.want {
			t.Errorf("RoundSize(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundSizeNeverUndershoots(t *testing.T) {
	for s := uint32(0); s < 20000; s += 37 {
		got := RoundSize(s)
		if got < s {
			t.Fatalf("RoundSize(%d) = %d, undershoots the requested size", s, got)
		}
	}
}

func TestRoundSizeMonotonicAboveSmallTable(t *testing.T) {
	prev := RoundSize(4093)
	for s := uint32(4093); s < 1<<20; s += 997 {
		got := RoundSize(s)
		if got < prev {
			t.Fatalf("RoundSize regressed at %d: %d < %d", s, got, prev)
		}
		prev = got
	}
}

func TestEstimateAddsFixedOverhead(t *testing.T) {
	got := Estimate(10, 100)
	want := FixedOverhead + RoundSize(10) + RoundSize(100)
	if got != want {
		t.Errorf("Estimate(10, 100) = %d, want %d", got, want)
	}
}
