package conflict

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// CycleError reports a dependency edge that would close a cycle. Chain is
// the full task chain, ending where it started.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Chain, " -> "))
}

// Graph is the directed dependency graph over tasks. An edge task -> dep
// means the task cannot run until dep completes. Like the lock table it is
// mutated only by the scheduling loop.
type Graph struct {
	nodes map[string]bool
	deps  map[string][]string // task -> its dependencies
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		deps:  make(map[string][]string),
	}
}

// AddTask registers a task node. Idempotent.
func (g *Graph) AddTask(taskID string) {
	g.nodes[taskID] = true
}

// AddDependency admits the edge taskID -> depID after checking that it does
// not close a cycle. On a cycle the edge is not admitted and the returned
// *CycleError carries the full chain; the task that brought the edge is the
// one that fails.
func (g *Graph) AddDependency(taskID, depID string) error {
	g.AddTask(taskID)
	g.AddTask(depID)

	for _, existing := range g.deps[taskID] {
		if existing == depID {
			return nil
		}
	}

	g.deps[taskID] = append(g.deps[taskID], depID)

	if chain := g.findCycleFrom(taskID); chain != nil {
		// Roll the edge back; the graph stays acyclic.
		deps := g.deps[taskID]
		g.deps[taskID] = deps[:len(deps)-1]
		return &CycleError{Chain: chain}
	}
	return nil
}

// Dependencies returns the declared dependencies of a task.
func (g *Graph) Dependencies(taskID string) []string {
	out := make([]string, len(g.deps[taskID]))
	copy(out, g.deps[taskID])
	return out
}

// Depth returns the length of the longest dependency chain below the task.
// A task with no dependencies has depth 0.
func (g *Graph) Depth(taskID string) int {
	seen := make(map[string]bool)
	var walk func(id string) int
	walk = func(id string) int {
		if seen[id] {
			return 0 // the graph is acyclic; this only guards repeated work
		}
		seen[id] = true
		max := 0
		for _, dep := range g.deps[id] {
			if d := walk(dep) + 1; d > max {
				max = d
			}
		}
		seen[id] = false
		return max
	}
	return walk(taskID)
}

// Remove deletes a task and every edge touching it.
func (g *Graph) Remove(taskID string) {
	delete(g.nodes, taskID)
	delete(g.deps, taskID)
	for id, deps := range g.deps {
		kept := deps[:0]
		for _, dep := range deps {
			if dep != taskID {
				kept = append(kept, dep)
			}
		}
		g.deps[id] = kept
	}
}

// Validate runs a full topological sort over the graph. AddDependency keeps
// the graph acyclic edge by edge; this is the belt-and-suspenders check the
// scheduler runs when a whole batch of tasks arrives at once.
func (g *Graph) Validate() ([]string, error) {
	var edges []toposort.Edge
	for id := range g.nodes {
		if len(g.deps[id]) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range g.deps[id] {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// findCycleFrom runs DFS with recursion-stack tracking starting at the given
// node. Returns the cycle chain (start ... start) or nil.
func (g *Graph) findCycleFrom(start string) []string {
	onStack := make(map[string]bool)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		if onStack[id] {
			// Close the chain at the first repeated node.
			for i, sid := range stack {
				if sid == id {
					chain := append([]string{}, stack[i:]...)
					return append(chain, id)
				}
			}
			return []string{id, id}
		}

		onStack[id] = true
		stack = append(stack, id)
		defer func() {
			onStack[id] = false
			stack = stack[:len(stack)-1]
		}()

		for _, dep := range g.deps[id] {
			if chain := visit(dep); chain != nil {
				return chain
			}
		}
		return nil
	}

	return visit(start)
}
