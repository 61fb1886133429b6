// Package backend defines the contract between the scheduler and the agent
// execution backend. The scheduler hands a task to an instance and gets an
// acknowledgement; progress comes back as activity pings and one terminal
// result per task, delivered over bounded channels the scheduler drains on
// its own loop. The scheduler never interprets task output.
package backend

import (
	"context"
	"time"
)

// TaskPayload is the unit of work dispatched to an agent instance.
type TaskPayload struct {
	TaskID            string
	InstanceID        string
	Payload           string   // opaque task body, not inspected by the scheduler
	Route             []string // delivery path computed by the topology manager
	EstimatedDuration time.Duration
}

// Result is the terminal outcome of one task execution.
type Result struct {
	InstanceID string
	TaskID     string
	Success    bool
	Output     string  // opaque to the scheduler
	Quality    float64 // [0,1], feeds the matcher's outcome weighting
}

// Ping is a periodic activity signal from a busy instance. A task whose
// instance stops pinging is eventually reaped by the stall timeout.
type Ping struct {
	InstanceID string
	At         time.Time
}

// Sinks are the scheduler-owned channels a backend reports into. Sends
// should be non-blocking from the backend's perspective; both channels are
// bounded and drained every scheduling cycle.
type Sinks struct {
	Results chan<- Result
	Pings   chan<- Ping
}

// Backend executes tasks on behalf of agent instances.
//
// ExecuteTask returns once the backend has accepted the task; the actual
// work proceeds asynchronously. Cancellation is cooperative: when ctx is
// cancelled the backend is expected to stop the task and deliver a failed
// Result acknowledging the cancellation.
type Backend interface {
	ExecuteTask(ctx context.Context, task TaskPayload) error
	Close() error
}

// Factory builds a backend wired to the scheduler's sinks.
type Factory func(sinks Sinks) Backend
