// Package registry holds the known agent type templates and the set of
// running agent instances. Instance state is mutated only on behalf of the
// scheduling loop; readers get clones.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks agent types (via a Provider) and running instances.
type Registry struct {
	provider Provider

	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string // instance IDs in registration order
	nextOrder int
}

// New creates a Registry over the given type provider.
func New(provider Provider) *Registry {
	return &Registry{
		provider:  provider,
		instances: make(map[string]*Instance),
	}
}

// Types returns the current agent type snapshot.
func (r *Registry) Types() []AgentType {
	return r.provider.Types()
}

// TypeByID looks up an agent type in the current snapshot.
func (r *Registry) TypeByID(id string) (AgentType, bool) {
	for _, t := range r.provider.Types() {
		if t.ID == id {
			return t, true
		}
	}
	return AgentType{}, false
}

// Refresh rescans the type source. Running instances keep the type they
// were created with; only future spawns see the new set.
func (r *Registry) Refresh() error {
	return r.provider.Refresh()
}

// AddInstance creates a new Initializing instance of the given type.
func (r *Registry) AddInstance(typeID string) (*Instance, error) {
	t, ok := r.TypeByID(typeID)
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q", typeID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	inst := &Instance{
		ID:         uuid.NewString(),
		Type:       t,
		State:      StateInitializing,
		Created:    now,
		LastActive: now,
		Order:      r.nextOrder,
	}
	r.nextOrder++

	r.instances[inst.ID] = inst
	r.order = append(r.order, inst.ID)

	return cloneInstance(inst), nil
}

// SetState transitions an instance's lifecycle state.
func (r *Registry) SetState(id string, state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("instance %q not found", id)
	}
	inst.State = state
	return nil
}

// Bind associates a task with an instance and marks it Assigned.
func (r *Registry) Bind(id, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("instance %q not found", id)
	}
	if inst.TaskID != "" {
		return fmt.Errorf("instance %q already bound to task %q", id, inst.TaskID)
	}

	inst.TaskID = taskID
	inst.State = StateAssigned
	inst.LastActive = time.Now()
	return nil
}

// Unbind clears an instance's task and returns it to Ready.
func (r *Registry) Unbind(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("instance %q not found", id)
	}

	inst.TaskID = ""
	inst.State = StateReady
	inst.LastActive = time.Now()
	return nil
}

// Touch records activity for an instance (activity pings, state progress).
func (r *Registry) Touch(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[id]; ok {
		inst.LastActive = at
	}
}

// RecordStall bumps an instance's lifetime stall count and returns the total.
func (r *Registry) RecordStall(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return 0
	}
	inst.Stalls++
	return inst.Stalls
}

// Remove deletes a terminated instance.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[id]; !ok {
		return
	}
	delete(r.instances, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a clone of the instance.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, false
	}
	return cloneInstance(inst), true
}

// Instances returns clones of all instances in registration order.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneInstance(r.instances[id]))
	}
	return out
}

// Idle returns clones of instances that can accept work, in registration order.
func (r *Registry) Idle() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Instance
	for _, id := range r.order {
		if inst := r.instances[id]; inst.Idle() {
			out = append(out, cloneInstance(inst))
		}
	}
	return out
}

// Running counts instances that occupy host resources (everything not yet
// Terminated). This is the count the admission invariant bounds.
func (r *Registry) Running() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, inst := range r.instances {
		if inst.State != StateTerminated {
			n++
		}
	}
	return n
}

// MemberIDs returns the IDs of routable instances (Ready or busy, not
// terminating) in registration order. This is the topology member set.
func (r *Registry) MemberIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, id := range r.order {
		switch r.instances[id].State {
		case StateReady, StateAssigned, StateProcessing:
			out = append(out, id)
		}
	}
	return out
}
