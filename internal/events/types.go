package events

import (
	"time"
)

// Event is the base interface for all scheduler events.
type Event interface {
	EventType() string
}

// Topic constants.
const (
	TopicTask     = "task"
	TopicAgent    = "agent"
	TopicScale    = "scale"
	TopicTopology = "topology"
	TopicResource = "resource"
)

// Event type constants.
const (
	EventTypeTaskSubmitted    = "task.submitted"
	EventTypeTaskAssigned     = "task.assigned"
	EventTypeTaskDeferred     = "task.deferred"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskCancelled    = "task.cancelled"
	EventTypeAgentSpawned     = "agent.spawned"
	EventTypeAgentTerminated  = "agent.terminated"
	EventTypeScaleDecision    = "scale.decision"
	EventTypeTopologySwitched = "topology.switched"
	EventTypeResourceAlert    = "resource.alert"
)

// TaskSubmitted is published when a task enters the queue.
type TaskSubmitted struct {
	TaskID    string
	Priority  int
	Timestamp time.Time
}

func (e TaskSubmitted) EventType() string { return EventTypeTaskSubmitted }

// TaskAssigned is published when a task is matched to an instance.
// LowConfidence marks round-robin fallback assignments, RiskScore is the
// conflict detector's observability score for the assignment.
type TaskAssigned struct {
	TaskID        string
	InstanceID    string
	Score         float64
	LowConfidence bool
	RiskScore     float64
	Timestamp     time.Time
}

func (e TaskAssigned) EventType() string { return EventTypeTaskAssigned }

// TaskDeferred is published when a task stays queued (lock contention or capacity).
type TaskDeferred struct {
	TaskID    string
	Reason    string
	Timestamp time.Time
}

func (e TaskDeferred) EventType() string { return EventTypeTaskDeferred }

// TaskCompleted is published on successful task completion.
type TaskCompleted struct {
	TaskID     string
	InstanceID string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskCompleted) EventType() string { return EventTypeTaskCompleted }

// TaskFailed is published on task failure; Reason is one of the failure
// reasons (circular-dependency, stall-timeout, lock-timeout, execution-error).
type TaskFailed struct {
	TaskID    string
	Reason    string
	Err       error
	Timestamp time.Time
}

func (e TaskFailed) EventType() string { return EventTypeTaskFailed }

// TaskCancelled is published when a cancellation takes effect.
type TaskCancelled struct {
	TaskID    string
	Timestamp time.Time
}

func (e TaskCancelled) EventType() string { return EventTypeTaskCancelled }

// AgentSpawned is published when a new instance becomes Ready.
type AgentSpawned struct {
	InstanceID string
	TypeID     string
	Timestamp  time.Time
}

func (e AgentSpawned) EventType() string { return EventTypeAgentSpawned }

// AgentTerminated is published when an instance is retired.
type AgentTerminated struct {
	InstanceID string
	Reason     string
	Timestamp  time.Time
}

func (e AgentTerminated) EventType() string { return EventTypeAgentTerminated }

// ScaleDecision is published each cycle the scaler produces an actionable decision.
type ScaleDecision struct {
	Direction  string // "scale-up", "scale-down", "hold"
	Target     int
	Current    int
	Confidence float64
	Timestamp  time.Time
}

func (e ScaleDecision) EventType() string { return EventTypeScaleDecision }

// TopologySwitched is published after a successful routing table swap.
type TopologySwitched struct {
	From      string
	To        string
	Version   uint64
	Timestamp time.Time
}

func (e TopologySwitched) EventType() string { return EventTypeTopologySwitched }

// ResourceAlert is published when host utilization crosses a threshold.
// Alerts freeze admission; they never terminate running agents.
type ResourceAlert struct {
	Kind        string // "memory" or "cpu"
	Utilization float64
	Threshold   float64
	Timestamp   time.Time
}

func (e ResourceAlert) EventType() string { return EventTypeResourceAlert }
