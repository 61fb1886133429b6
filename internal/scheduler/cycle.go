package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/apetros/agentsched/internal/events"
	"github.com/apetros/agentsched/internal/matcher"
	"github.com/apetros/agentsched/internal/registry"
	"github.com/apetros/agentsched/internal/scaler"
)

// cycle is one scheduling pass: reap stalled work, adjust the agent pool,
// assign queued tasks, publish the new state snapshot.
func (s *Scheduler) cycle(ctx context.Context) {
	s.reapStalls(ctx)
	s.scale(ctx)
	s.assign(ctx)
	s.publishSnapshot()
}

// admissionFrozen reports whether host utilization is past an alert
// threshold. A frozen scheduler spawns no new agents; it never terminates
// running ones.
func (s *Scheduler) admissionFrozen() bool {
	if s.resources.Timestamp.IsZero() {
		return true // no sample yet, don't spawn blind
	}
	return s.resources.MemoryFraction() > s.cfg.Monitor.MemoryAlert ||
		s.resources.CPUFraction > s.cfg.Monitor.CPUAlert
}

// capacity is the hard ceiling on concurrently running agents: the binding
// host resource limit capped by the configured safety limit.
func (s *Scheduler) capacity() int {
	c := s.resources.MaxAgents()
	if c > s.cfg.Scaler.SafetyLimit {
		c = s.cfg.Scaler.SafetyLimit
	}
	return c
}

func (s *Scheduler) scale(ctx context.Context) {
	running := s.deps.Registry.Running()
	in := scaler.Inputs{
		MaxAgentsByMemory: s.resources.MaxAgentsByMemory,
		MaxAgentsByCPU:    s.resources.MaxAgentsByCPU,
		QueueDepth:        s.queueDepth(),
		AvgComplexity:     s.avgComplexity(),
		RunningAgents:     running,
		BusyAgents:        s.busyCount(),
	}

	dec := s.deps.Scaler.Evaluate(in)
	if !dec.Actionable {
		return
	}

	if m := s.deps.Metrics; m != nil {
		m.ScaleDecisions.WithLabelValues(dec.Direction.String()).Inc()
	}
	s.publish(events.TopicScale, events.ScaleDecision{
		Direction:  dec.Direction.String(),
		Target:     dec.Target,
		Current:    running,
		Confidence: dec.Confidence,
		Timestamp:  time.Now(),
	})

	switch dec.Direction {
	case scaler.ScaleUp:
		s.scaleUp(ctx, dec.Target)
	case scaler.ScaleDown:
		s.scaleDown(running - dec.Target)
	}
}

func (s *Scheduler) scaleUp(ctx context.Context, target int) {
	if s.admissionFrozen() {
		log.Printf("WARNING: scale-up to %d suppressed: admission frozen by resource pressure", target)
		return
	}
	if limit := s.capacity(); target > limit {
		target = limit
	}

	for s.deps.Registry.Running() < target {
		if err := s.spawnInstance(ctx, s.queue.items); err != nil {
			log.Printf("ERROR: spawning agent instance: %v", err)
			s.degraded = true
			return
		}
		s.degraded = false
	}
}

// scaleDown retires up to n idle instances, least recently active first.
// Busy instances are never terminated; if fewer than n are idle the rest of
// the scale-down waits for a later cycle.
func (s *Scheduler) scaleDown(n int) {
	idle := s.deps.Registry.Idle()
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastActive.Before(idle[j].LastActive)
	})

	if n > len(idle) {
		n = len(idle)
	}
	for i := 0; i < n; i++ {
		s.terminateInstance(idle[i].ID, "scale-down")
	}
	if n > 0 {
		s.syncTopology()
	}
}

func (s *Scheduler) terminateInstance(id, reason string) {
	if err := s.deps.Registry.SetState(id, registry.StateTerminating); err != nil {
		log.Printf("WARNING: terminating instance %s: %v", id, err)
		return
	}
	// No teardown handshake with the loopback backend; a remote backend
	// would drain the instance here before the final transition.
	s.deps.Registry.SetState(id, registry.StateTerminated)
	s.deps.Registry.Remove(id)

	log.Printf("instance %s terminated (%s)", id, reason)
	s.publish(events.TopicAgent, events.AgentTerminated{InstanceID: id, Reason: reason, Timestamp: time.Now()})
}

// assign drains the queue in scheduling order and places every task whose
// dependencies are met and whose locks are free onto an idle instance.
// A blocked high-priority task defers itself, never the tasks behind it.
func (s *Scheduler) assign(ctx context.Context) {
	if s.queue.Len() == 0 {
		return
	}

	now := time.Now()
	pending := s.queue.drain()
	var requeue []*Task

	for _, t := range pending {
		if t.Status.Terminal() {
			continue // cancelled while queued
		}

		if dep, failed := s.failedDependency(t); failed {
			s.failTask(ctx, t, ReasonDependencyFailed, fmt.Errorf("dependency %s did not complete", dep))
			continue
		}
		if !s.deps.Detector.DependenciesMet(t.ID, s.dependencyDone) {
			requeue = append(requeue, t)
			continue
		}

		idle := s.deps.Registry.Idle()
		if len(idle) == 0 && s.canSpawnOnDemand() {
			// A runnable task with nobody to run it spawns its own instance,
			// so a cold start does not wait out the scaler's hysteresis.
			if err := s.spawnInstance(ctx, []*Task{t}); err != nil {
				log.Printf("ERROR: spawning agent instance on demand: %v", err)
				s.degraded = true
			} else {
				s.degraded = false
				idle = s.deps.Registry.Idle()
			}
		}
		if len(idle) == 0 {
			requeue = append(requeue, t)
			continue
		}

		if !s.deps.Detector.TryAcquire(t.ID, t.Claims) {
			requeue = append(requeue, s.deferOnLocks(ctx, t, now)...)
			continue
		}
		t.blockedSince = time.Time{}

		inst, score, lowConfidence := s.pickInstance(t, idle)
		risk := s.deps.Detector.RiskScore(t.ID, t.Claims)

		if err := s.deps.Registry.Bind(inst.ID, t.ID); err != nil {
			log.Printf("WARNING: binding task %s to %s: %v", t.ID, inst.ID, err)
			s.deps.Detector.ReleaseAll(t.ID)
			requeue = append(requeue, t)
			continue
		}

		t.Status = TaskAssigned
		t.InstanceID = inst.ID
		s.journalSave(ctx, t)

		if m := s.deps.Metrics; m != nil {
			m.AssignmentRisk.Observe(risk)
			if lowConfidence {
				m.LowConfidence.Inc()
			}
		}
		s.publish(events.TopicTask, events.TaskAssigned{
			TaskID:        t.ID,
			InstanceID:    inst.ID,
			Score:         score,
			LowConfidence: lowConfidence,
			RiskScore:     risk,
			Timestamp:     now,
		})

		s.dispatch(ctx, t, inst)
	}

	for _, t := range requeue {
		s.queue.push(t)
	}
}

// deferOnLocks handles a task whose claims are contended: defer it, and
// fail it outright once it has waited past the configured lock timeout.
// Returns the task for requeue, or nothing if it timed out.
func (s *Scheduler) deferOnLocks(ctx context.Context, t *Task, now time.Time) []*Task {
	if t.blockedSince.IsZero() {
		t.blockedSince = now
		if m := s.deps.Metrics; m != nil {
			m.LockDeferrals.Inc()
		}
		s.publish(events.TopicTask, events.TaskDeferred{TaskID: t.ID, Reason: "lock-contention", Timestamp: now})
	}

	if wait := s.cfg.Scheduler.MaxLockWait.Std(); wait > 0 && now.Sub(t.blockedSince) >= wait {
		s.failTask(ctx, t, ReasonLockTimeout, fmt.Errorf("locks contended for %s", now.Sub(t.blockedSince)))
		return nil
	}
	return []*Task{t}
}

// pickInstance ranks the idle instances against the task's requirements.
// Below the matcher's confidence floor assignment falls back to round-robin
// so weak matches still make progress and spread evenly.
func (s *Scheduler) pickInstance(t *Task, idle []*registry.Instance) (inst *registry.Instance, score float64, lowConfidence bool) {
	byID := make(map[string]*registry.Instance, len(idle))
	candidates := make([]matcher.Candidate, 0, len(idle))
	for _, in := range idle {
		byID[in.ID] = in
		candidates = append(candidates, matcher.Candidate{
			ID:           in.ID,
			Capabilities: in.Type.Capabilities,
			Order:        in.Order,
		})
	}

	matches, confident := s.deps.Matcher.Rank(t.Requirements, candidates)
	if confident {
		return byID[matches[0].CandidateID], matches[0].Score, false
	}

	inst = idle[s.rrCursor%len(idle)]
	s.rrCursor++
	for _, m := range matches {
		if m.CandidateID == inst.ID {
			score = m.Score
			break
		}
	}
	return inst, score, true
}

// reapStalls fails tasks whose instances stopped reporting activity, and
// retires instances that hit the lifetime stall limit.
func (s *Scheduler) reapStalls(ctx context.Context) {
	timeout := s.cfg.Scheduler.StallTimeout.Std()
	if timeout <= 0 {
		return
	}

	now := time.Now()
	retired := false
	for _, inst := range s.deps.Registry.Instances() {
		if inst.TaskID == "" {
			continue
		}
		switch inst.State {
		case registry.StateAssigned, registry.StateProcessing:
		default:
			continue
		}
		if now.Sub(inst.LastActive) <= timeout {
			continue
		}

		if t, ok := s.tasks[inst.TaskID]; ok && !t.Status.Terminal() {
			s.failTask(ctx, t, ReasonStallTimeout, fmt.Errorf("no activity from %s for %s", inst.ID, now.Sub(inst.LastActive)))
		}

		stalls := s.deps.Registry.RecordStall(inst.ID)
		log.Printf("WARNING: instance %s stalled (%d lifetime)", inst.ID, stalls)
		if stalls >= s.cfg.Scheduler.MaxStalls {
			s.terminateInstance(inst.ID, "stall-limit")
			retired = true
		}
	}
	if retired {
		s.syncTopology()
	}
}

// dependencyDone is the detector's completion predicate.
func (s *Scheduler) dependencyDone(depID string) bool {
	dep, ok := s.tasks[depID]
	return ok && dep.Status == TaskCompleted
}

// failedDependency returns a terminally failed dependency, if any.
func (s *Scheduler) failedDependency(t *Task) (string, bool) {
	for _, depID := range t.DependsOn {
		if dep, ok := s.tasks[depID]; ok && dep.Status == TaskFailed {
			return depID, true
		}
	}
	return "", false
}

// queueDepth counts queued tasks that are still live.
func (s *Scheduler) queueDepth() int {
	n := 0
	for _, t := range s.queue.items {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// avgComplexity is the priority-weighted mean requirement magnitude of the
// queued tasks, in [0,1]. It feeds the scaler's workload term.
func (s *Scheduler) avgComplexity() float64 {
	var sum, weights float64
	for _, t := range s.queue.items {
		if t.Status.Terminal() {
			continue
		}
		w := float64(t.Priority)
		if w < 1 {
			w = 1
		}
		sum += w * requirementMagnitude(t.Requirements)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func requirementMagnitude(req []float64) float64 {
	if len(req) == 0 {
		return 0
	}
	var total float64
	for _, r := range req {
		if r < 0 {
			r = 0
		}
		if r > 1 {
			r = 1
		}
		total += r
	}
	return total / float64(len(req))
}

// canSpawnOnDemand reports whether the assignment pass may spawn for a
// runnable task with no idle instance: capacity must remain and admission
// must not be frozen by resource pressure.
func (s *Scheduler) canSpawnOnDemand() bool {
	return !s.admissionFrozen() && s.deps.Registry.Running() < s.capacity()
}

// syncTopology rebuilds the routing table after a membership change.
func (s *Scheduler) syncTopology() {
	if err := s.deps.Topology.SetMembers(s.deps.Registry.MemberIDs()); err != nil {
		log.Printf("ERROR: rebuilding routing table: %v", err)
	}
}
