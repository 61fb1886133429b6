package registry

import (
	"fmt"
	"time"
)

// DefaultCapabilityDim is the vector length used for the generic fallback
// type when no template source is available.
const DefaultCapabilityDim = 8

// AgentType is a template describing a category of worker. Immutable once
// registered; a refresh replaces the whole type set, never edits one in place.
type AgentType struct {
	ID           string    `json:"id"`
	Capabilities []float64 `json:"capabilities"` // normalized skill strengths, each in [0,1]
	MemoryCost   uint64    `json:"memory_cost"`  // bytes
	CPUWeight    float64   `json:"cpu_weight"`
	MaxContext   int       `json:"max_context"`
	Tools        []string  `json:"tools"`
}

// Validate rejects templates the matcher cannot score.
func (t AgentType) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("agent type has no id")
	}
	if len(t.Capabilities) == 0 {
		return fmt.Errorf("agent type %q has no capability vector", t.ID)
	}
	for i, c := range t.Capabilities {
		if c < 0 || c > 1 {
			return fmt.Errorf("agent type %q capability[%d] = %v, want [0,1]", t.ID, i, c)
		}
	}
	return nil
}

// GenericType is the fallback used when no template source is available.
func GenericType() AgentType {
	caps := make([]float64, DefaultCapabilityDim)
	for i := range caps {
		caps[i] = 1
	}
	return AgentType{
		ID:           "generic",
		Capabilities: caps,
		MemoryCost:   200 * 1024 * 1024,
		CPUWeight:    1,
	}
}

// State is the lifecycle state of an agent instance.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateAssigned
	StateProcessing
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateAssigned:
		return "assigned"
	case StateProcessing:
		return "processing"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Instance is a running worker bound to one agent type. All mutation goes
// through the Registry, which the scheduling loop alone drives; everyone
// else sees clones.
type Instance struct {
	ID         string
	Type       AgentType
	State      State
	TaskID     string // empty when idle
	Created    time.Time
	LastActive time.Time
	Stalls     int // lifetime stall count, drives retirement
	Order      int // registration order, used for deterministic tie-breaks and ring/star layout
}

// Idle reports whether the instance can accept a task.
func (i *Instance) Idle() bool {
	return i.State == StateReady && i.TaskID == ""
}

func cloneInstance(in *Instance) *Instance {
	if in == nil {
		return nil
	}
	cp := *in
	return &cp
}
