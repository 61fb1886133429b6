// Package conflict arbitrates shared-resource access and task dependencies
// for the scheduler: a shared/exclusive lock table, a dependency graph with
// cycle rejection, and a per-assignment risk score. All state here follows
// single-writer discipline — the scheduling loop is the only mutator.
package conflict

// Risk score weights. The score is reported for observability and never
// gates an assignment.
const (
	riskContentionWeight = 0.5
	riskDepthWeight      = 0.3
	riskResourceWeight   = 0.2
)

// Detector combines the lock table and dependency graph.
type Detector struct {
	Locks *LockTable
	Graph *Graph
}

// NewDetector creates an empty Detector.
func NewDetector() *Detector {
	return &Detector{
		Locks: NewLockTable(),
		Graph: NewGraph(),
	}
}

// AdmitDependencies registers a task and its dependency edges. The first
// edge that would close a cycle aborts admission with a *CycleError; edges
// admitted before it remain (they are valid on their own).
func (d *Detector) AdmitDependencies(taskID string, deps []string) error {
	d.Graph.AddTask(taskID)
	for _, dep := range deps {
		if err := d.Graph.AddDependency(taskID, dep); err != nil {
			return err
		}
	}
	return nil
}

// DependenciesMet reports whether every declared dependency satisfies the
// given predicate (typically "task completed").
func (d *Detector) DependenciesMet(taskID string, done func(string) bool) bool {
	for _, dep := range d.Graph.Dependencies(taskID) {
		if !done(dep) {
			return false
		}
	}
	return true
}

// TryAcquire attempts all-or-nothing lock acquisition for the task.
func (d *Detector) TryAcquire(taskID string, claims []Claim) bool {
	return d.Locks.Acquire(taskID, claims)
}

// ReleaseAll frees every lock the task holds.
func (d *Detector) ReleaseAll(taskID string) []string {
	return d.Locks.Release(taskID)
}

// Forget removes a task from the dependency graph once it is terminal and
// no longer referenced.
func (d *Detector) Forget(taskID string) {
	d.Graph.Remove(taskID)
}

// RiskScore estimates how entangled a pending assignment is: a weighted
// count of lock contention on its resources, its dependency depth, and the
// number of distinct resources it touches.
func (d *Detector) RiskScore(taskID string, claims []Claim) float64 {
	distinct := make(map[string]bool)
	contention := 0
	for _, c := range claims {
		if !distinct[c.Resource] {
			distinct[c.Resource] = true
			contention += d.Locks.Contention(c.Resource)
		}
	}

	return riskContentionWeight*float64(contention) +
		riskDepthWeight*float64(d.Graph.Depth(taskID)) +
		riskResourceWeight*float64(len(distinct))
}
