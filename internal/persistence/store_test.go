package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/apetros/agentsched/internal/conflict"
	"github.com/apetros/agentsched/internal/scheduler"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &scheduler.Task{
		ID:                "t1",
		Name:              "build index",
		Priority:          7,
		Requirements:      []float64{0.9, 0.1, 0.5},
		Claims:            []conflict.Claim{{Resource: "db:index", Mode: conflict.Exclusive}},
		DependsOn:         []string{"t0"},
		EstimatedDuration: 90 * time.Second,
		Payload:           "reindex everything",
		Status:            scheduler.TaskQueued,
		Submitted:         time.Now().UTC(),
	}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != task.Name || got.Priority != task.Priority {
		t.Errorf("got name=%q priority=%d, want %q/%d", got.Name, got.Priority, task.Name, task.Priority)
	}
	if len(got.Requirements) != 3 || got.Requirements[0] != 0.9 {
		t.Errorf("requirements = %v, want %v", got.Requirements, task.Requirements)
	}
	if len(got.Claims) != 1 || got.Claims[0].Resource != "db:index" || got.Claims[0].Mode != conflict.Exclusive {
		t.Errorf("claims = %v, want exclusive db:index", got.Claims)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "t0" {
		t.Errorf("depends_on = %v, want [t0]", got.DependsOn)
	}
	if got.EstimatedDuration != 90*time.Second {
		t.Errorf("estimated duration = %v, want 90s", got.EstimatedDuration)
	}
}

func TestSaveTaskUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &scheduler.Task{ID: "t1", Name: "first", Status: scheduler.TaskQueued, Submitted: time.Now().UTC()}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	task.Name = "second"
	task.Status = scheduler.TaskRunning
	task.InstanceID = "inst-1"
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask (update): %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Name != "second" || got.Status != scheduler.TaskRunning || got.InstanceID != "inst-1" {
		t.Errorf("got %q/%v/%q after upsert, want second/running/inst-1", got.Name, got.Status, got.InstanceID)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &scheduler.Task{ID: "t1", Name: "x", Status: scheduler.TaskQueued, Submitted: time.Now().UTC()}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	if err := store.UpdateTaskStatus(ctx, "t1", scheduler.TaskFailed, "stall-timeout", "inst-9"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != scheduler.TaskFailed || got.Reason != "stall-timeout" || got.InstanceID != "inst-9" {
		t.Errorf("got %v/%q/%q, want failed/stall-timeout/inst-9", got.Status, got.Reason, got.InstanceID)
	}

	if err := store.UpdateTaskStatus(ctx, "missing", scheduler.TaskCompleted, "", ""); err == nil {
		t.Error("expected error updating a task that does not exist")
	}
}

func TestLoadQueuedSkipsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	tasks := []*scheduler.Task{
		{ID: "t1", Name: "a", Status: scheduler.TaskQueued, Submitted: base},
		{ID: "t2", Name: "b", Status: scheduler.TaskCompleted, Submitted: base.Add(time.Second)},
		{ID: "t3", Name: "c", Status: scheduler.TaskRunning, Submitted: base.Add(2 * time.Second)},
		{ID: "t4", Name: "d", Status: scheduler.TaskFailed, Reason: "cancelled", Submitted: base.Add(3 * time.Second)},
	}
	for _, task := range tasks {
		if err := store.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask %s: %v", task.ID, err)
		}
	}

	queued, err := store.LoadQueued(ctx)
	if err != nil {
		t.Fatalf("LoadQueued: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("got %d tasks, want 2 (queued + running)", len(queued))
	}
	if queued[0].ID != "t1" || queued[1].ID != "t3" {
		t.Errorf("order = [%s %s], want [t1 t3]", queued[0].ID, queued[1].ID)
	}
}

func TestRecordAndListOutcomes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordOutcome("t1", true, 0.9, 1); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := store.RecordOutcome("t1", false, 0, 2); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := store.RecordOutcome("other", true, 0.5, 3); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	outcomes, err := store.Outcomes(ctx, "t1")
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	if !outcomes[0].Success || outcomes[0].Quality != 0.9 || outcomes[0].WeightVersion != 1 {
		t.Errorf("first outcome = %+v, want success/0.9/v1", outcomes[0])
	}
	if outcomes[1].Success {
		t.Error("second outcome should be a failure")
	}
}
