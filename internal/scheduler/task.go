package scheduler

import (
	"context"
	"time"

	"github.com/apetros/agentsched/internal/conflict"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskQueued TaskStatus = iota
	TaskAssigned
	TaskRunning
	TaskCompleted
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskAssigned:
		return "assigned"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Failure reasons recorded on TaskFailed transitions.
const (
	ReasonCircularDependency = "circular-dependency"
	ReasonDependencyFailed   = "dependency-failed"
	ReasonStallTimeout       = "stall-timeout"
	ReasonLockTimeout        = "lock-timeout"
	ReasonCancelled          = "cancelled"
	ReasonExecutionError     = "execution-error"
)

// Task is a unit of work submitted to the scheduler.
type Task struct {
	ID                string
	Name              string
	Priority          int // higher runs first
	Requirements      []float64
	Claims            []conflict.Claim // declared resource touch-set
	DependsOn         []string
	EstimatedDuration time.Duration
	Payload           string // opaque body handed to the execution backend

	Status     TaskStatus
	Reason     string // failure reason when Status == TaskFailed
	InstanceID string // assigned instance, empty while queued
	Submitted  time.Time
	Started    time.Time
	Finished   time.Time

	// Loop-owned bookkeeping, never exposed in snapshots.
	seq             uint64             // FIFO tie-break among equal priorities
	blockedSince    time.Time          // first cycle the task was lock-deferred
	cancelRequested bool
	cancelDispatch  context.CancelFunc // cancels the in-flight backend execution
}

// clone returns a detached copy safe to hand outside the loop.
func (t *Task) clone() *Task {
	cp := *t
	cp.cancelDispatch = nil
	if t.Requirements != nil {
		cp.Requirements = append([]float64(nil), t.Requirements...)
	}
	if t.Claims != nil {
		cp.Claims = append([]conflict.Claim(nil), t.Claims...)
	}
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &cp
}
