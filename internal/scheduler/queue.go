package scheduler

import (
	"container/heap"
)

// taskQueue is a priority queue over queued tasks: highest priority first,
// FIFO among equal priorities (by submission sequence number). The ordering
// is total and stable, which is what makes assignment order reproducible.
type taskQueue struct {
	items []*Task
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	heap.Init(q)
	return q
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *taskQueue) Push(x any) {
	q.items = append(q.items, x.(*Task))
}

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// push enqueues a task.
func (q *taskQueue) push(t *Task) {
	heap.Push(q, t)
}

// pop removes and returns the highest-priority task, or nil when empty.
func (q *taskQueue) pop() *Task {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*Task)
}

// drain removes every task in scheduling order. The assignment pass walks
// the result and pushes deferred tasks back; their sequence numbers keep
// relative order stable across cycles.
func (q *taskQueue) drain() []*Task {
	out := make([]*Task, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}
