package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/apetros/agentsched/internal/backend"
	"github.com/apetros/agentsched/internal/events"
	"github.com/apetros/agentsched/internal/matcher"
	"github.com/apetros/agentsched/internal/registry"
)

// newDispatchBreaker guards the backend against repeated dispatch failures.
// While the breaker is open, assignments requeue immediately instead of
// hammering a backend that keeps refusing work.
func newDispatchBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dispatch",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("WARNING: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// A cancelled dispatch is not a backend failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// dispatch hands an assigned task to the backend. On acceptance the task is
// running; on refusal the assignment unwinds and the task requeues, because
// a dispatch failure says nothing about the task itself.
func (s *Scheduler) dispatch(ctx context.Context, t *Task, inst *registry.Instance) {
	taskCtx, cancel := context.WithCancel(ctx)
	t.cancelDispatch = cancel

	payload := backend.TaskPayload{
		TaskID:            t.ID,
		InstanceID:        inst.ID,
		Payload:           t.Payload,
		Route:             s.routeTo(inst.ID),
		EstimatedDuration: t.EstimatedDuration,
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.backend.ExecuteTask(taskCtx, payload)
	})
	if err != nil {
		log.Printf("WARNING: dispatching task %s to %s: %v; requeueing", t.ID, inst.ID, err)
		cancel()
		t.cancelDispatch = nil

		s.deps.Detector.ReleaseAll(t.ID)
		if uerr := s.deps.Registry.Unbind(inst.ID); uerr != nil {
			log.Printf("WARNING: unbinding instance %s after failed dispatch: %v", inst.ID, uerr)
		}
		t.Status = TaskQueued
		t.InstanceID = ""
		s.queue.push(t)
		return
	}

	now := time.Now()
	t.Status = TaskRunning
	t.Started = now
	s.deps.Registry.SetState(inst.ID, registry.StateProcessing)
	s.deps.Registry.Touch(inst.ID, now)
	s.journalSave(ctx, t)
}

// routeTo computes the delivery path from the coordinator to an instance
// under the active routing table. The coordinator reaches every member in
// all four topologies; an unroutable pair here means the table is stale, in
// which case delivery degrades to a direct path.
func (s *Scheduler) routeTo(instanceID string) []string {
	table := s.deps.Topology.Current()
	coord := table.Coordinator()
	if coord == "" {
		return []string{instanceID}
	}

	path, err := table.Route(coord, instanceID)
	if err != nil {
		log.Printf("WARNING: routing to %s: %v", instanceID, err)
		return []string{instanceID}
	}
	return path
}

// spawnInstance creates one agent instance of the type the queued tasks
// need most and makes it routable. Registry failures retry with exponential
// backoff before the scheduler reports itself degraded.
func (s *Scheduler) spawnInstance(ctx context.Context, queued []*Task) error {
	typeID, err := s.mostNeededType(queued)
	if err != nil {
		return err
	}

	var inst *registry.Instance
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var err error
		inst, err = s.deps.Registry.AddInstance(typeID)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.Scheduler.SpawnBackoffBase.Std()
	if err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(s.cfg.Scheduler.SpawnRetries)), ctx)); err != nil {
		return fmt.Errorf("spawning instance of type %q: %w", typeID, err)
	}

	// The loopback backend needs no warm-up; a remote backend would hold
	// the instance in Initializing until its first ping.
	s.deps.Registry.SetState(inst.ID, registry.StateReady)
	s.syncTopology()

	log.Printf("instance %s spawned (type %s)", inst.ID, typeID)
	s.publish(events.TopicAgent, events.AgentSpawned{InstanceID: inst.ID, TypeID: typeID, Timestamp: time.Now()})
	return nil
}

// mostNeededType picks the agent type whose capabilities best cover the
// aggregate requirements of the queued tasks, weighting each task by its
// priority so a deep queue of one profile outvotes a differently shaped
// head. With no queued requirements the first registered type wins.
func (s *Scheduler) mostNeededType(queued []*Task) (string, error) {
	types := s.deps.Registry.Types()
	if len(types) == 0 {
		return "", errors.New("no agent types registered")
	}

	best, bestScore := types[0].ID, 0.0
	for _, at := range types {
		total := 0.0
		for _, t := range queued {
			if t.Status.Terminal() || len(t.Requirements) == 0 {
				continue
			}
			w := float64(t.Priority)
			if w < 1 {
				w = 1
			}
			total += w * matcher.Score(t.Requirements, at.Capabilities)
		}
		if total > bestScore {
			best, bestScore = at.ID, total
		}
	}
	return best, nil
}
