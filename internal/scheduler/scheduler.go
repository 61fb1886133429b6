// Package scheduler is the orchestration core: a single-goroutine loop that
// owns the task queue, drives admission, matching, locking, scaling, and
// dispatch, and is the only writer of scheduling state. Everything else
// (submissions, cancellations, backend results, monitor samples) reaches the
// loop over channels, which is what lets the lock table and dependency graph
// stay unsynchronized.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/apetros/agentsched/internal/backend"
	"github.com/apetros/agentsched/internal/config"
	"github.com/apetros/agentsched/internal/conflict"
	"github.com/apetros/agentsched/internal/events"
	"github.com/apetros/agentsched/internal/matcher"
	"github.com/apetros/agentsched/internal/metrics"
	"github.com/apetros/agentsched/internal/monitor"
	"github.com/apetros/agentsched/internal/registry"
	"github.com/apetros/agentsched/internal/scaler"
	"github.com/apetros/agentsched/internal/topology"
)

var (
	// ErrTaskNotFound is returned for operations on unknown task IDs.
	ErrTaskNotFound = errors.New("task not found")
	// ErrAlreadyCancelled is returned when a cancellation has already taken
	// effect for the task. Cancellation is idempotent; this is informational.
	ErrAlreadyCancelled = errors.New("task already cancelled")
	// ErrNotRunning is returned when the scheduling loop is not active.
	ErrNotRunning = errors.New("scheduler is not running")
)

// Journal persists task state across restarts. Implementations must be safe
// for use from the scheduling loop; all calls happen there.
type Journal interface {
	SaveTask(ctx context.Context, t *Task) error
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, reason, instanceID string) error
	LoadQueued(ctx context.Context) ([]*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
}

// Deps are the scheduler's collaborators. Metrics and Journal are optional.
type Deps struct {
	Config   *config.Config
	Monitor  *monitor.Monitor
	Registry *registry.Registry
	Matcher  *matcher.Matcher
	Scaler   *scaler.Scaler
	Detector *conflict.Detector
	Topology *topology.Manager
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Backend  backend.Factory
	Journal  Journal
}

type submitReply struct {
	id  string
	err error
}

type submitRequest struct {
	task  *Task
	reply chan submitReply
}

type cancelRequest struct {
	id    string
	reply chan error
}

type switchRequest struct {
	kind  topology.Type
	reply chan error
}

// Scheduler runs the scheduling loop.
type Scheduler struct {
	cfg  *config.Config
	deps Deps

	backend backend.Backend
	breaker *gobreaker.CircuitBreaker
	results chan backend.Result
	pings   chan backend.Ping

	submitCh chan submitRequest
	cancelCh chan cancelRequest
	switchCh chan switchRequest

	// Loop-owned state. Touched only by the loop goroutine.
	queue     *taskQueue
	tasks     map[string]*Task
	nextSeq   uint64
	rrCursor  int
	resources monitor.Snapshot
	degraded  bool

	snapshot atomic.Pointer[Snapshot]
	running  atomic.Bool
}

// New creates a Scheduler and its backend.
func New(deps Deps) (*Scheduler, error) {
	if deps.Config == nil {
		return nil, errors.New("scheduler requires a config")
	}
	if deps.Backend == nil {
		return nil, errors.New("scheduler requires a backend factory")
	}

	results := make(chan backend.Result, 256)
	pings := make(chan backend.Ping, 1024)

	s := &Scheduler{
		cfg:      deps.Config,
		deps:     deps,
		breaker:  newDispatchBreaker(),
		results:  results,
		pings:    pings,
		submitCh: make(chan submitRequest),
		cancelCh: make(chan cancelRequest),
		switchCh: make(chan switchRequest),
		queue:    newTaskQueue(),
		tasks:    make(map[string]*Task),
	}
	s.backend = deps.Backend(backend.Sinks{Results: results, Pings: pings})
	return s, nil
}

// SubmitTask queues a task for scheduling and returns its ID. The task is
// validated on the scheduling loop; a dependency edge that would close a
// cycle rejects the submission with a *conflict.CycleError in the chain.
func (s *Scheduler) SubmitTask(ctx context.Context, t *Task) (string, error) {
	if t == nil {
		return "", errors.New("nil task")
	}
	if !s.running.Load() {
		return "", ErrNotRunning
	}

	req := submitRequest{task: t.clone(), reply: make(chan submitReply, 1)}
	select {
	case s.submitCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.id, rep.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CancelTask requests cancellation of a task. Queued tasks fail immediately;
// running tasks are cancelled cooperatively through the backend and reach
// their terminal state when the backend acknowledges. A second cancellation
// returns ErrAlreadyCancelled.
func (s *Scheduler) CancelTask(ctx context.Context, id string) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	req := cancelRequest{id: id, reply: make(chan error, 1)}
	select {
	case s.cancelCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SwitchTopology rebuilds the routing table under a new topology type.
func (s *Scheduler) SwitchTopology(ctx context.Context, kind topology.Type) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	req := switchRequest{kind: kind, reply: make(chan error, 1)}
	select {
	case s.switchCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the monitor and the scheduling loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	defer func() {
		if err := s.backend.Close(); err != nil {
			log.Printf("WARNING: closing backend: %v", err)
		}
	}()

	if err := s.restore(ctx); err != nil {
		return fmt.Errorf("restoring journalled tasks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.deps.Monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.loop(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Scheduler.CyclePeriod.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-s.submitCh:
			req.reply <- s.admit(ctx, req.task)

		case req := <-s.cancelCh:
			req.reply <- s.cancel(ctx, req.id)

		case req := <-s.switchCh:
			req.reply <- s.switchTopology(req.kind)

		case snap := <-s.deps.Monitor.Snapshots():
			s.resources = snap

		case alert := <-s.deps.Monitor.Alerts():
			s.handleAlert(alert)

		case res := <-s.results:
			s.handleResult(ctx, res)

		case ping := <-s.pings:
			s.deps.Registry.Touch(ping.InstanceID, ping.At)

		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// admit validates a submission and queues it.
func (s *Scheduler) admit(ctx context.Context, t *Task) submitReply {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, dup := s.tasks[t.ID]; dup {
		return submitReply{err: fmt.Errorf("task %q already submitted", t.ID)}
	}

	// Dependencies may reference tasks not submitted yet; the graph holds a
	// placeholder node for them and the dependent waits until they arrive.
	// The cycle check arbitrates every edge either way.
	if err := s.deps.Detector.AdmitDependencies(t.ID, t.DependsOn); err != nil {
		// The task is recorded as failed so dependents see a terminal state,
		// but it never enters the queue.
		s.tasks[t.ID] = t
		t.Status = TaskQueued
		t.Submitted = time.Now()
		s.journalSave(ctx, t)
		s.failTask(ctx, t, ReasonCircularDependency, err)
		return submitReply{id: t.ID, err: fmt.Errorf("admitting task %q: %w", t.ID, err)}
	}

	s.nextSeq++
	t.seq = s.nextSeq
	t.Status = TaskQueued
	t.Submitted = time.Now()

	s.tasks[t.ID] = t
	s.queue.push(t)
	s.journalSave(ctx, t)

	s.publish(events.TopicTask, events.TaskSubmitted{TaskID: t.ID, Priority: t.Priority, Timestamp: t.Submitted})
	return submitReply{id: t.ID}
}

// cancel handles a cancellation request on the loop.
func (s *Scheduler) cancel(ctx context.Context, id string) error {
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if t.cancelRequested || (t.Status == TaskFailed && t.Reason == ReasonCancelled) {
		return ErrAlreadyCancelled
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %q is already %s", id, t.Status)
	}

	t.cancelRequested = true
	if t.Status == TaskQueued {
		// Still our own: take effect immediately. The queue entry is skipped
		// on the next drain because the task is terminal.
		s.failTask(ctx, t, ReasonCancelled, nil)
		return nil
	}

	// Assigned or running: cooperative. The backend stops the task and
	// acknowledges with a failed result, which completes the cancellation.
	if t.cancelDispatch != nil {
		t.cancelDispatch()
	}
	return nil
}

func (s *Scheduler) switchTopology(kind topology.Type) error {
	from := s.deps.Topology.Type()
	if err := s.deps.Topology.Switch(kind); err != nil {
		return fmt.Errorf("switching topology to %s: %w", kind, err)
	}

	table := s.deps.Topology.Current()
	log.Printf("topology switched %s -> %s (version %d)", from, kind, table.Version())
	s.publish(events.TopicTopology, events.TopologySwitched{
		From:      from.String(),
		To:        kind.String(),
		Version:   table.Version(),
		Timestamp: time.Now(),
	})
	return nil
}

func (s *Scheduler) handleAlert(a monitor.Alert) {
	log.Printf("WARNING: resource alert: %s utilization %.2f exceeds %.2f", a.Kind, a.Utilization, a.Threshold)
	if m := s.deps.Metrics; m != nil {
		m.ResourceAlerts.WithLabelValues(a.Kind).Inc()
	}
	s.publish(events.TopicResource, events.ResourceAlert{
		Kind:        a.Kind,
		Utilization: a.Utilization,
		Threshold:   a.Threshold,
		Timestamp:   a.Timestamp,
	})
}

// handleResult processes a terminal result from the backend.
func (s *Scheduler) handleResult(ctx context.Context, res backend.Result) {
	t, ok := s.tasks[res.TaskID]
	if !ok || t.Status.Terminal() || t.InstanceID != res.InstanceID {
		// Late result, e.g. after a stall timeout already failed the task.
		return
	}

	if res.Success && !t.cancelRequested {
		s.completeTask(ctx, t, res)
		return
	}

	reason := ReasonExecutionError
	if t.cancelRequested {
		reason = ReasonCancelled
	}
	var cause error
	if res.Output != "" {
		cause = errors.New(res.Output)
	}
	s.failTask(ctx, t, reason, cause)

	if reason == ReasonExecutionError {
		s.deps.Matcher.RecordOutcome(t.ID, t.Requirements, false, 0)
	}
}

func (s *Scheduler) completeTask(ctx context.Context, t *Task, res backend.Result) {
	t.Status = TaskCompleted
	t.Finished = time.Now()
	t.cancelDispatch = nil

	s.releaseTask(t)
	s.journalStatus(ctx, t)

	s.deps.Matcher.RecordOutcome(t.ID, t.Requirements, true, res.Quality)
	if m := s.deps.Metrics; m != nil {
		m.TasksTerminal.WithLabelValues("completed").Inc()
	}

	s.publish(events.TopicTask, events.TaskCompleted{
		TaskID:     t.ID,
		InstanceID: res.InstanceID,
		Duration:   t.Finished.Sub(t.Started),
		Timestamp:  t.Finished,
	})
	log.Printf("task %s completed on %s in %s", t.ID, res.InstanceID, t.Finished.Sub(t.Started))
}

// failTask moves a task to its terminal failed state: locks released,
// instance unbound, journal and events updated. Safe to call for any
// non-terminal status.
func (s *Scheduler) failTask(ctx context.Context, t *Task, reason string, cause error) {
	t.Status = TaskFailed
	t.Reason = reason
	t.Finished = time.Now()
	if t.cancelDispatch != nil {
		t.cancelDispatch()
		t.cancelDispatch = nil
	}

	s.releaseTask(t)
	s.journalStatus(ctx, t)

	if m := s.deps.Metrics; m != nil {
		m.TasksTerminal.WithLabelValues(reason).Inc()
	}

	if reason == ReasonCancelled {
		s.publish(events.TopicTask, events.TaskCancelled{TaskID: t.ID, Timestamp: t.Finished})
		log.Printf("task %s cancelled", t.ID)
		return
	}

	s.publish(events.TopicTask, events.TaskFailed{TaskID: t.ID, Reason: reason, Err: cause, Timestamp: t.Finished})
	log.Printf("WARNING: task %s failed (%s): %v", t.ID, reason, cause)
}

// releaseTask frees everything a terminal task holds.
func (s *Scheduler) releaseTask(t *Task) {
	if freed := s.deps.Detector.ReleaseAll(t.ID); len(freed) > 0 {
		log.Printf("task %s released locks: %v", t.ID, freed)
	}
	s.deps.Detector.Forget(t.ID)

	if t.InstanceID != "" {
		if err := s.deps.Registry.Unbind(t.InstanceID); err != nil {
			log.Printf("WARNING: unbinding instance %s: %v", t.InstanceID, err)
		}
	}
}

// restore reloads non-terminal tasks from the journal. Instances from the
// previous process are gone, so assigned and running tasks re-queue.
func (s *Scheduler) restore(ctx context.Context) error {
	if s.deps.Journal == nil {
		return nil
	}

	tasks, err := s.deps.Journal.LoadQueued(ctx)
	if err != nil {
		return err
	}

	loaded := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		loaded[t.ID] = true
	}

	for _, t := range tasks {
		// Dependencies that reached a terminal state before the restart are
		// not in the non-terminal load; pull them back so dependents can
		// observe their outcome instead of waiting forever.
		for _, dep := range t.DependsOn {
			if loaded[dep] {
				continue
			}
			if _, known := s.tasks[dep]; known {
				continue
			}
			s.resolveJournalledDependency(ctx, dep)
		}

		if err := s.deps.Detector.AdmitDependencies(t.ID, t.DependsOn); err != nil {
			log.Printf("WARNING: dropping journalled task %s: %v", t.ID, err)
			continue
		}
		s.nextSeq++
		t.seq = s.nextSeq
		t.Status = TaskQueued
		t.InstanceID = ""
		s.tasks[t.ID] = t
		s.queue.push(t)
	}
	if len(tasks) > 0 {
		// Edges were admitted one at a time; a full topological sort
		// cross-checks the batch as a whole.
		if _, err := s.deps.Detector.Graph.Validate(); err != nil {
			return fmt.Errorf("validating restored dependency graph: %w", err)
		}
		log.Printf("restored %d journalled tasks", len(tasks))
	}
	return nil
}

// resolveJournalledDependency loads a dependency's terminal journal record
// into the task table. A dependency the journal does not know stays a graph
// placeholder awaiting submission.
func (s *Scheduler) resolveJournalledDependency(ctx context.Context, id string) {
	dep, err := s.deps.Journal.GetTask(ctx, id)
	if err != nil {
		return
	}
	if !dep.Status.Terminal() {
		return
	}
	s.tasks[id] = dep
}

func (s *Scheduler) publish(topic string, e events.Event) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(topic, e)
	}
}

func (s *Scheduler) journalSave(ctx context.Context, t *Task) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.SaveTask(ctx, t); err != nil {
		log.Printf("WARNING: journalling task %s: %v", t.ID, err)
	}
}

func (s *Scheduler) journalStatus(ctx context.Context, t *Task) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.UpdateTaskStatus(ctx, t.ID, t.Status, t.Reason, t.InstanceID); err != nil {
		log.Printf("WARNING: journalling status of task %s: %v", t.ID, err)
	}
}
