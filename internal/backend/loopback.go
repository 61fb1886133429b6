package backend

import (
	"context"
	"sync"
	"time"
)

// Loopback is an in-process backend that simulates task execution. It exists
// for the CLI's dry-run mode and for exercising the scheduler end to end
// without an external agent runtime.
type Loopback struct {
	sinks        Sinks
	defaultWork  time.Duration
	pingInterval time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// LoopbackOption configures a Loopback.
type LoopbackOption func(*Loopback)

// WithWorkDuration sets the simulated work time for tasks that carry no
// estimate of their own.
func WithWorkDuration(d time.Duration) LoopbackOption {
	return func(l *Loopback) { l.defaultWork = d }
}

// WithPingInterval sets how often a busy instance pings.
func WithPingInterval(d time.Duration) LoopbackOption {
	return func(l *Loopback) { l.pingInterval = d }
}

// NewLoopback creates a loopback backend reporting into the given sinks.
func NewLoopback(sinks Sinks, opts ...LoopbackOption) *Loopback {
	l := &Loopback{
		sinks:        sinks,
		defaultWork:  200 * time.Millisecond,
		pingInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ExecuteTask accepts the task and simulates it on a goroutine. The task
// "runs" for its estimated duration (or the configured default), pinging
// along the way, then reports success. A cancelled context stops the work
// and reports a failed result instead.
func (l *Loopback) ExecuteTask(ctx context.Context, task TaskPayload) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return context.Canceled
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		l.run(ctx, task)
	}()
	return nil
}

func (l *Loopback) run(ctx context.Context, task TaskPayload) {
	work := task.EstimatedDuration
	if work <= 0 {
		work = l.defaultWork
	}

	done := time.NewTimer(work)
	defer done.Stop()
	pings := time.NewTicker(l.pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			l.deliver(Result{
				InstanceID: task.InstanceID,
				TaskID:     task.TaskID,
				Success:    false,
				Output:     "cancelled",
			})
			return
		case <-pings.C:
			select {
			case l.sinks.Pings <- Ping{InstanceID: task.InstanceID, At: time.Now()}:
			default:
			}
		case <-done.C:
			l.deliver(Result{
				InstanceID: task.InstanceID,
				TaskID:     task.TaskID,
				Success:    true,
				Output:     "ok",
				Quality:    0.9,
			})
			return
		}
	}
}

func (l *Loopback) deliver(r Result) {
	select {
	case l.sinks.Results <- r:
	case <-time.After(5 * time.Second):
		// The scheduler is gone; drop rather than leak the goroutine.
	}
}

// Close waits for in-flight simulated tasks to finish.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
