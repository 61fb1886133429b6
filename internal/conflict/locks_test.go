package conflict

import (
	"testing"
)

func excl(resource string) Claim   { return Claim{Resource: resource, Mode: Exclusive} }
func shared(resource string) Claim { return Claim{Resource: resource, Mode: Shared} }

func TestExclusiveMutualExclusion(t *testing.T) {
	lt := NewLockTable()

	if !lt.Acquire("t1", []Claim{excl("file:a.txt")}) {
		t.Fatal("first exclusive acquisition should succeed")
	}
	if lt.Acquire("t2", []Claim{excl("file:a.txt")}) {
		t.Fatal("second exclusive acquisition on the same key must fail")
	}
	if lt.Acquire("t2", []Claim{shared("file:a.txt")}) {
		t.Fatal("shared acquisition must fail while an exclusive lock is held")
	}

	lt.Release("t1")
	if !lt.Acquire("t2", []Claim{excl("file:a.txt")}) {
		t.Fatal("acquisition should succeed after release")
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	lt := NewLockTable()

	if !lt.Acquire("t1", []Claim{shared("svc:db")}) {
		t.Fatal("t1 shared acquisition failed")
	}
	if !lt.Acquire("t2", []Claim{shared("svc:db")}) {
		t.Fatal("t2 shared acquisition should coexist with t1")
	}
	if lt.Holders("svc:db") != 2 {
		t.Errorf("Holders = %d, want 2", lt.Holders("svc:db"))
	}

	if lt.Acquire("t3", []Claim{excl("svc:db")}) {
		t.Fatal("exclusive must not coexist with shared holders")
	}

	lt.Release("t1")
	if lt.Acquire("t3", []Claim{excl("svc:db")}) {
		t.Fatal("exclusive must still fail with one shared holder left")
	}

	lt.Release("t2")
	if !lt.Acquire("t3", []Claim{excl("svc:db")}) {
		t.Fatal("exclusive should succeed once all shared holders released")
	}
}

func TestAcquireAllOrNothing(t *testing.T) {
	lt := NewLockTable()

	lt.Acquire("t1", []Claim{excl("file:b.txt")})

	// t2 wants two resources, one of them blocked: neither may be granted.
	if lt.Acquire("t2", []Claim{excl("file:a.txt"), excl("file:b.txt")}) {
		t.Fatal("partial acquisition must be refused")
	}
	if lt.Holders("file:a.txt") != 0 {
		t.Error("refused acquisition leaked a lock on file:a.txt")
	}

	lt.Release("t1")
	if !lt.Acquire("t2", []Claim{excl("file:a.txt"), excl("file:b.txt")}) {
		t.Fatal("acquisition should succeed once nothing is blocked")
	}
	if got := lt.HeldBy("t2"); len(got) != 2 {
		t.Errorf("HeldBy(t2) = %v, want both resources", got)
	}
}

func TestReacquireOwnLock(t *testing.T) {
	lt := NewLockTable()

	lt.Acquire("t1", []Claim{excl("file:a.txt")})
	if !lt.Acquire("t1", []Claim{excl("file:a.txt")}) {
		t.Fatal("a task's own holdings must not conflict with it")
	}
	if !lt.CanAcquire("t1", []Claim{shared("file:a.txt")}) {
		t.Fatal("holder should be able to re-declare its own resource")
	}
}

func TestReleaseReturnsFreedKeys(t *testing.T) {
	lt := NewLockTable()

	lt.Acquire("t1", []Claim{excl("file:b.txt"), excl("file:a.txt"), shared("svc:cache")})

	freed := lt.Release("t1")
	want := []string{"file:a.txt", "file:b.txt", "svc:cache"}
	if len(freed) != len(want) {
		t.Fatalf("freed = %v, want %v", freed, want)
	}
	for i := range want {
		if freed[i] != want[i] {
			t.Errorf("freed[%d] = %s, want %s (sorted)", i, freed[i], want[i])
		}
	}

	// Releasing again is a no-op.
	if freed := lt.Release("t1"); len(freed) != 0 {
		t.Errorf("second release freed %v, want nothing", freed)
	}
}

func TestContentionCounting(t *testing.T) {
	lt := NewLockTable()

	lt.Acquire("t1", []Claim{excl("file:a.txt")})

	for i := 0; i < 3; i++ {
		lt.Acquire("t2", []Claim{excl("file:a.txt")})
	}

	if got := lt.Contention("file:a.txt"); got != 3 {
		t.Errorf("Contention = %d, want 3", got)
	}
	if got := lt.Contention("file:untouched"); got != 0 {
		t.Errorf("Contention on untouched resource = %d, want 0", got)
	}
}

func TestInvariantNeverViolated(t *testing.T) {
	// Drive a mixed workload and assert the invariant after every step:
	// never exclusive+anything, never two exclusives, on any key.
	lt := NewLockTable()

	steps := []struct {
		task    string
		claims  []Claim
		release bool
	}{
		{task: "t1", claims: []Claim{shared("r1"), excl("r2")}},
		{task: "t2", claims: []Claim{shared("r1")}},
		{task: "t3", claims: []Claim{excl("r1")}}, // refused
		{task: "t1", release: true},
		{task: "t3", claims: []Claim{excl("r1")}}, // still refused (t2 shares r1)
		{task: "t2", release: true},
		{task: "t3", claims: []Claim{excl("r1"), excl("r2")}},
	}

	for i, step := range steps {
		if step.release {
			lt.Release(step.task)
		} else {
			lt.Acquire(step.task, step.claims)
		}

		for resource, entry := range lt.locks {
			if entry.mode == Exclusive && len(entry.holders) > 1 {
				t.Fatalf("step %d: resource %s has %d exclusive holders", i, resource, len(entry.holders))
			}
		}
	}

	if lt.Holders("r1") != 1 || lt.Holders("r2") != 1 {
		t.Errorf("final state: r1=%d r2=%d holders, want 1 and 1", lt.Holders("r1"), lt.Holders("r2"))
	}
}
