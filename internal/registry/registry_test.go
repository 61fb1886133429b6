package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func coderType() AgentType {
	return AgentType{ID: "coder", Capabilities: []float64{1, 0.2, 0}, MemoryCost: 100 << 20, CPUWeight: 1}
}

func reviewerType() AgentType {
	return AgentType{ID: "reviewer", Capabilities: []float64{0.1, 1, 0}, MemoryCost: 80 << 20, CPUWeight: 0.5}
}

func TestInstanceLifecycle(t *testing.T) {
	r := New(Static(coderType()))

	inst, err := r.AddInstance("coder")
	if err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	if inst.State != StateInitializing {
		t.Errorf("new instance state = %s, want initializing", inst.State)
	}

	if err := r.SetState(inst.ID, StateReady); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if err := r.Bind(inst.ID, "task-1"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, _ := r.Get(inst.ID)
	if got.State != StateAssigned || got.TaskID != "task-1" {
		t.Errorf("after Bind: state=%s task=%q", got.State, got.TaskID)
	}

	// Double-bind is a scheduler bug and must be rejected.
	if err := r.Bind(inst.ID, "task-2"); err == nil {
		t.Error("expected error binding a busy instance")
	}

	if err := r.Unbind(inst.ID); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	got, _ = r.Get(inst.ID)
	if !got.Idle() {
		t.Errorf("after Unbind instance should be idle, got state=%s task=%q", got.State, got.TaskID)
	}

	r.SetState(inst.ID, StateTerminated)
	if r.Running() != 0 {
		t.Errorf("Running = %d after termination, want 0", r.Running())
	}
	r.Remove(inst.ID)
	if _, ok := r.Get(inst.ID); ok {
		t.Error("instance still present after Remove")
	}
}

func TestAddInstanceUnknownType(t *testing.T) {
	r := New(Static(coderType()))
	if _, err := r.AddInstance("nonexistent"); err == nil {
		t.Fatal("expected error for unknown agent type")
	}
}

func TestRegistrationOrderPreserved(t *testing.T) {
	r := New(Static(coderType(), reviewerType()))

	var ids []string
	for i := 0; i < 5; i++ {
		inst, err := r.AddInstance("coder")
		if err != nil {
			t.Fatalf("AddInstance: %v", err)
		}
		r.SetState(inst.ID, StateReady)
		ids = append(ids, inst.ID)
	}

	instances := r.Instances()
	for i, inst := range instances {
		if inst.ID != ids[i] {
			t.Fatalf("Instances()[%d] = %s, want %s", i, inst.ID, ids[i])
		}
		if inst.Order != i {
			t.Errorf("instance %d Order = %d", i, inst.Order)
		}
	}

	members := r.MemberIDs()
	if len(members) != 5 {
		t.Fatalf("MemberIDs returned %d members, want 5", len(members))
	}
	for i, id := range members {
		if id != ids[i] {
			t.Errorf("member %d = %s, want %s", i, id, ids[i])
		}
	}
}

func TestIdleExcludesBusyAndTerminating(t *testing.T) {
	r := New(Static(coderType()))

	a, _ := r.AddInstance("coder")
	b, _ := r.AddInstance("coder")
	c, _ := r.AddInstance("coder")
	for _, inst := range []*Instance{a, b, c} {
		r.SetState(inst.ID, StateReady)
	}

	r.Bind(b.ID, "task-1")
	r.SetState(c.ID, StateTerminating)

	idle := r.Idle()
	if len(idle) != 1 || idle[0].ID != a.ID {
		t.Fatalf("Idle = %v, want only %s", idle, a.ID)
	}
}

func TestRecordStall(t *testing.T) {
	r := New(Static(coderType()))
	inst, _ := r.AddInstance("coder")

	for want := 1; want <= 3; want++ {
		if got := r.RecordStall(inst.ID); got != want {
			t.Errorf("RecordStall #%d = %d", want, got)
		}
	}
}

func TestClonesAreDetached(t *testing.T) {
	r := New(Static(coderType()))
	inst, _ := r.AddInstance("coder")
	r.SetState(inst.ID, StateReady)

	clone, _ := r.Get(inst.ID)
	clone.State = StateTerminated
	clone.TaskID = "sneaky"

	fresh, _ := r.Get(inst.ID)
	if fresh.State != StateReady || fresh.TaskID != "" {
		t.Error("mutating a clone leaked into registry state")
	}
}

func TestFileProviderScan(t *testing.T) {
	dir := t.TempDir()

	writeTemplate(t, dir, "coder.json", `{"id":"coder","capabilities":[1,0.5,0],"memory_cost":104857600,"cpu_weight":1}`)
	writeTemplate(t, dir, "reviewer.json", `{"id":"reviewer","capabilities":[0,1,0.3]}`)
	writeTemplate(t, dir, "broken.json", `{"id":"broken","capabilities":[2.5]}`) // out of range, skipped
	writeTemplate(t, dir, "notes.txt", `not a template`)

	p := NewFileProvider(dir)
	types := p.Types()

	if len(types) != 2 {
		t.Fatalf("got %d types, want 2 (broken and non-json skipped): %v", len(types), types)
	}
	// Sorted by ID for determinism.
	if types[0].ID != "coder" || types[1].ID != "reviewer" {
		t.Errorf("types = [%s, %s], want [coder, reviewer]", types[0].ID, types[1].ID)
	}
}

func TestFileProviderMissingDirFallsBack(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "does-not-exist"))

	types := p.Types()
	if len(types) != 1 || types[0].ID != "generic" {
		t.Fatalf("expected generic fallback, got %v", types)
	}
}

func TestFileProviderHotReload(t *testing.T) {
	dir := t.TempDir()
	p := NewFileProvider(dir)

	if got := p.Types(); len(got) != 1 || got[0].ID != "generic" {
		t.Fatalf("empty dir should fall back to generic, got %v", got)
	}

	writeTemplate(t, dir, "coder.json", `{"id":"coder","capabilities":[1,0,0]}`)
	if err := p.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	types := p.Types()
	if len(types) != 1 || types[0].ID != "coder" {
		t.Fatalf("after refresh got %v, want [coder]", types)
	}
}

func TestGenericTypeIsValid(t *testing.T) {
	if err := GenericType().Validate(); err != nil {
		t.Fatalf("generic type must validate: %v", err)
	}
}

func TestTouchUpdatesLastActive(t *testing.T) {
	r := New(Static(coderType()))
	inst, _ := r.AddInstance("coder")

	at := time.Now().Add(time.Hour)
	r.Touch(inst.ID, at)

	got, _ := r.Get(inst.ID)
	if !got.LastActive.Equal(at) {
		t.Errorf("LastActive = %v, want %v", got.LastActive, at)
	}
}

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing template %s: %v", name, err)
	}
}
