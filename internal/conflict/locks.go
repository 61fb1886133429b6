package conflict

import (
	"sort"
	"time"
)

// Mode is the access mode a task declares for a resource.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Claim is one resource in a task's declared touch-set.
type Claim struct {
	Resource string
	Mode     Mode
}

// lockEntry tracks the holders of one resource key.
type lockEntry struct {
	mode     Mode
	holders  map[string]time.Time // task ID -> acquired timestamp
}

// LockTable arbitrates resource access. At most one exclusive holder per
// key, and an exclusive lock never coexists with shared ones.
//
// The table is deliberately unsynchronized: only the scheduling loop mutates
// it, so an acquisition is a plain check-and-set under single-writer
// discipline. Anything outside the loop sees lock state only through
// scheduler snapshots.
type LockTable struct {
	locks      map[string]*lockEntry
	contention map[string]int // failed acquisition attempts per resource
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{
		locks:      make(map[string]*lockEntry),
		contention: make(map[string]int),
	}
}

// CanAcquire reports whether every claim could be granted to the task
// without violating mutual exclusion. A task's own holdings never conflict
// with it.
func (lt *LockTable) CanAcquire(taskID string, claims []Claim) bool {
	for _, c := range claims {
		entry, held := lt.locks[c.Resource]
		if !held || len(entry.holders) == 0 {
			continue
		}
		if _, mine := entry.holders[taskID]; mine && len(entry.holders) == 1 {
			continue
		}
		// Someone else holds the key: only shared+shared is compatible.
		if entry.mode == Exclusive || c.Mode == Exclusive {
			return false
		}
	}
	return true
}

// Acquire grants every claim to the task, or none of them. On refusal the
// per-resource contention counters are bumped for the blocked keys.
func (lt *LockTable) Acquire(taskID string, claims []Claim) bool {
	if !lt.CanAcquire(taskID, claims) {
		for _, c := range claims {
			if entry, held := lt.locks[c.Resource]; held && len(entry.holders) > 0 {
				lt.contention[c.Resource]++
			}
		}
		return false
	}

	now := time.Now()
	for _, c := range claims {
		entry, held := lt.locks[c.Resource]
		if !held {
			entry = &lockEntry{holders: make(map[string]time.Time)}
			lt.locks[c.Resource] = entry
		}
		// CanAcquire already guaranteed compatibility, so the claim's mode
		// can only strengthen an entry we (alone) hold, never weaken one
		// shared with others.
		if len(entry.holders) == 0 || c.Mode == Exclusive {
			entry.mode = c.Mode
		}
		entry.holders[taskID] = now
	}
	return true
}

// Release drops every lock the task holds and returns the freed resource
// keys in sorted order. Called unconditionally on terminal task transitions
// so crashes cannot orphan locks.
func (lt *LockTable) Release(taskID string) []string {
	var freed []string
	for resource, entry := range lt.locks {
		if _, mine := entry.holders[taskID]; !mine {
			continue
		}
		delete(entry.holders, taskID)
		if len(entry.holders) == 0 {
			delete(lt.locks, resource)
		}
		freed = append(freed, resource)
	}
	sort.Strings(freed)
	return freed
}

// Holders returns how many tasks hold the resource.
func (lt *LockTable) Holders(resource string) int {
	if entry, ok := lt.locks[resource]; ok {
		return len(entry.holders)
	}
	return 0
}

// Contention returns the failed-acquisition count for a resource.
func (lt *LockTable) Contention(resource string) int {
	return lt.contention[resource]
}

// HeldBy returns the resources a task currently holds, sorted.
func (lt *LockTable) HeldBy(taskID string) []string {
	var out []string
	for resource, entry := range lt.locks {
		if _, mine := entry.holders[taskID]; mine {
			out = append(out, resource)
		}
	}
	sort.Strings(out)
	return out
}
