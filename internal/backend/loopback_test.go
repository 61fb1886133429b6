package backend

import (
	"context"
	"testing"
	"time"
)

func newTestLoopback(t *testing.T) (*Loopback, chan Result, chan Ping) {
	t.Helper()
	results := make(chan Result, 16)
	pings := make(chan Ping, 64)
	l := NewLoopback(
		Sinks{Results: results, Pings: pings},
		WithWorkDuration(30*time.Millisecond),
		WithPingInterval(5*time.Millisecond),
	)
	t.Cleanup(func() { l.Close() })
	return l, results, pings
}

func TestLoopbackCompletesTask(t *testing.T) {
	l, results, pings := newTestLoopback(t)

	err := l.ExecuteTask(context.Background(), TaskPayload{TaskID: "t1", InstanceID: "i1"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	select {
	case r := <-results:
		if !r.Success || r.TaskID != "t1" || r.InstanceID != "i1" {
			t.Errorf("result = %+v, want success for t1/i1", r)
		}
		if r.Quality <= 0 {
			t.Errorf("quality = %v, want positive", r.Quality)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}

	select {
	case p := <-pings:
		if p.InstanceID != "i1" {
			t.Errorf("ping from %s, want i1", p.InstanceID)
		}
	default:
		t.Error("expected at least one activity ping during the run")
	}
}

func TestLoopbackCooperativeCancellation(t *testing.T) {
	l, results, _ := newTestLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.ExecuteTask(ctx, TaskPayload{TaskID: "t1", InstanceID: "i1", EstimatedDuration: time.Hour}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	cancel()

	select {
	case r := <-results:
		if r.Success {
			t.Error("cancelled task must not report success")
		}
		if r.Output != "cancelled" {
			t.Errorf("output = %q, want cancelled", r.Output)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation was not acknowledged with a result")
	}
}

func TestLoopbackRejectsAfterClose(t *testing.T) {
	l, _, _ := newTestLoopback(t)
	l.Close()

	if err := l.ExecuteTask(context.Background(), TaskPayload{TaskID: "t1"}); err == nil {
		t.Fatal("expected error executing on a closed backend")
	}
}

func TestLoopbackUsesTaskEstimate(t *testing.T) {
	l, results, _ := newTestLoopback(t)

	start := time.Now()
	l.ExecuteTask(context.Background(), TaskPayload{TaskID: "t1", InstanceID: "i1", EstimatedDuration: 80 * time.Millisecond})

	select {
	case <-results:
		if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
			t.Errorf("task finished in %s, estimate should have held it longer", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
	}
}
