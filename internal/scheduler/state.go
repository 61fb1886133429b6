package scheduler

import (
	"time"

	"github.com/apetros/agentsched/internal/monitor"
	"github.com/apetros/agentsched/internal/registry"
)

// InstanceInfo is a read-only view of one agent instance.
type InstanceInfo struct {
	ID         string
	TypeID     string
	State      string
	TaskID     string
	Stalls     int
	LastActive time.Time
}

// Snapshot is a consistent view of scheduler state, rebuilt once per cycle
// and swapped in atomically. Readers never see a half-updated view.
type Snapshot struct {
	Time            time.Time
	QueueDepth      int
	Tasks           []*Task // detached clones
	Instances       []InstanceInfo
	Topology        string
	TopologyVersion uint64
	Resources       monitor.Snapshot
	Degraded        bool
}

// Task returns the snapshot's view of a task, or nil if unknown.
func (s *Snapshot) Task(id string) *Task {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Scheduler) publishSnapshot() {
	table := s.deps.Topology.Current()

	snap := &Snapshot{
		Time:            time.Now(),
		QueueDepth:      s.queue.Len(),
		Tasks:           make([]*Task, 0, len(s.tasks)),
		Topology:        table.Kind().String(),
		TopologyVersion: table.Version(),
		Resources:       s.resources,
		Degraded:        s.degraded,
	}

	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t.clone())
	}

	for _, inst := range s.deps.Registry.Instances() {
		snap.Instances = append(snap.Instances, InstanceInfo{
			ID:         inst.ID,
			TypeID:     inst.Type.ID,
			State:      inst.State.String(),
			TaskID:     inst.TaskID,
			Stalls:     inst.Stalls,
			LastActive: inst.LastActive,
		})
	}

	s.snapshot.Store(snap)

	if m := s.deps.Metrics; m != nil {
		m.QueueDepth.Set(float64(snap.QueueDepth))
		m.RunningInstances.Set(float64(s.deps.Registry.Running()))
	}
}

// GetSnapshot returns the most recent state snapshot, or an empty one if
// the scheduler has not completed a cycle yet.
func (s *Scheduler) GetSnapshot() Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return Snapshot{}
}

func (s *Scheduler) busyCount() int {
	n := 0
	for _, inst := range s.deps.Registry.Instances() {
		switch inst.State {
		case registry.StateAssigned, registry.StateProcessing:
			n++
		}
	}
	return n
}
