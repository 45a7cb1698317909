package inflight

import "testing"

func TestCheckReportsPresence(t *testing.T) {
	tbl := NewTable[string, chan string]()
	if tbl.Check("k") {
		t.Fatal("Check() = true on an empty table")
	}
	tbl.Begin("k", &Task{})
	if !tbl.Check("k") {
		t.Fatal("Check() = false right after Begin")
	}
}

func TestAddDependentFailsWithoutEntry(t *testing.T) {
	tbl := NewTable[string, chan string]()
	if tbl.AddDependent("k", make(chan string, 1)) {
		t.Fatal("AddDependent() = true with no inflight entry")
	}
}

func TestAddDependentAccumulatesAndEndReturnsThem(t *testing.T) {
	tbl := NewTable[string, chan string]()
	task := &Task{}
	tbl.Begin("k", task)

	d1 := make(chan string, 1)
	d2 := make(chan string, 1)
	if !tbl.AddDependent("k", d1) {
		t.Fatal("AddDependent() = false with an active entry")
	}
	if !tbl.AddDependent("k", d2) {
		t.Fatal("AddDependent() = false with an active entry")
	}

	deps, stale, ok := tbl.End("k", task)
	if !ok {
		t.Fatal("End() = !ok for the task that owns the entry")
	}
	if stale {
		t.Fatal("End() stale = true, want false (never invalidated)")
	}
	if len(deps) != 2 {
		t.Fatalf("End() returned %d dependents, want 2", len(deps))
	}
	if tbl.Check("k") {
		t.Fatal("entry still present after End")
	}
}

func TestEndFailsForWrongTask(t *testing.T) {
	tbl := NewTable[string, chan string]()
	tbl.Begin("k", &Task{})

	_, _, ok := tbl.End("k", &Task{}) // a distinct *Task value
	if ok {
		t.Fatal("End() = ok for a task that never owned the entry")
	}
	if !tbl.Check("k") {
		t.Fatal("entry removed despite End() failing")
	}
}

func TestEndFailsAfterAlreadyEnded(t *testing.T) {
	tbl := NewTable[string, chan string]()
	task := &Task{}
	tbl.Begin("k", task)
	if _, _, ok := tbl.End("k", task); !ok {
		t.Fatal("first End() should succeed")
	}
	if _, _, ok := tbl.End("k", task); ok {
		t.Fatal("second End() on the same (now-removed) entry should fail")
	}
}

func TestInvalidateMarksStaleWithoutRemoving(t *testing.T) {
	tbl := NewTable[string, chan string]()
	task := &Task{}
	tbl.Begin("k", task)

	tbl.Invalidate("k")
	if !tbl.Check("k") {
		t.Fatal("Invalidate should not remove the entry")
	}

	_, stale, ok := tbl.End("k", task)
	if !ok {
		t.Fatal("End() should still succeed for the original task after Invalidate")
	}
	if !stale {
		t.Fatal("End() stale = false after Invalidate, want true")
	}
}

func TestInvalidateOnMissingKeyIsNoop(t *testing.T) {
	tbl := NewTable[string, chan string]()
	tbl.Invalidate("nope") // must not panic
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tbl.Len())
	}
}

func TestBeginOverwritesPriorEntry(t *testing.T) {
	tbl := NewTable[string, chan string]()
	oldTask := &Task{}
	tbl.Begin("k", oldTask)
	tbl.AddDependent("k", make(chan string, 1))

	newTask := &Task{}
	tbl.Begin("k", newTask)

	// The old task no longer owns the entry, so its End must fail.
	if _, _, ok := tbl.End("k", oldTask); ok {
		t.Fatal("stale task's End() should fail after Begin overwrote the entry")
	}
	deps, _, ok := tbl.End("k", newTask)
	if !ok {
		t.Fatal("new task's End() should succeed")
	}
	if len(deps) != 0 {
		t.Fatalf("new generation should start with no dependents, got %d", len(deps))
	}
}

func TestLenCountsDistinctKeys(t *testing.T) {
	tbl := NewTable[string, chan string]()
	tbl.Begin("a", &Task{})
	tbl.Begin("b", &Task{})
	if got := tbl.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}
