package matcher

import (
	"math"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0, 0}, []float64{1, 0, 0}, 1.0},
		{"orthogonal", []float64{1, 0, 0}, []float64{0, 1, 0}, 0.0},
		{"scaled parallel", []float64{2, 0}, []float64{0.5, 0}, 1.0},
		{"zero requirement", []float64{0, 0, 0}, []float64{1, 1, 1}, 0.0},
		{"zero capability", []float64{1, 1}, []float64{0, 0}, 0.0},
		{"shorter capability zero padded", []float64{0, 0, 1}, []float64{1, 1}, 0.0},
		{"both empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRankPicksBestMatch(t *testing.T) {
	m := New(0.5, nil)

	// Requirement [1,0,0]: exact match scores 1.0, orthogonal scores 0.0.
	matches, confident := m.Rank([]float64{1, 0, 0}, []Candidate{
		{ID: "exact", Capabilities: []float64{1, 0, 0}, Order: 1},
		{ID: "orthogonal", Capabilities: []float64{0, 1, 0}, Order: 0},
	})

	if !confident {
		t.Fatal("expected a confident match")
	}
	if matches[0].CandidateID != "exact" {
		t.Errorf("best match = %s, want exact", matches[0].CandidateID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-9 {
		t.Errorf("best score = %v, want 1.0", matches[0].Score)
	}
	if math.Abs(matches[1].Score-0.0) > 1e-9 {
		t.Errorf("second score = %v, want 0.0", matches[1].Score)
	}
}

func TestRankTieBreaks(t *testing.T) {
	m := New(0.5, nil)
	req := []float64{1, 0}

	// Equal scores: lower load wins.
	matches, _ := m.Rank(req, []Candidate{
		{ID: "busy", Capabilities: []float64{1, 0}, Load: 2, Order: 0},
		{ID: "idle", Capabilities: []float64{1, 0}, Load: 0, Order: 1},
	})
	if matches[0].CandidateID != "idle" {
		t.Errorf("tie by load: got %s, want idle", matches[0].CandidateID)
	}

	// Equal scores and loads: earliest registration order wins.
	matches, _ = m.Rank(req, []Candidate{
		{ID: "second", Capabilities: []float64{1, 0}, Order: 7},
		{ID: "first", Capabilities: []float64{1, 0}, Order: 3},
	})
	if matches[0].CandidateID != "first" {
		t.Errorf("tie by order: got %s, want first", matches[0].CandidateID)
	}
}

func TestRankDeterministic(t *testing.T) {
	m := New(0.5, nil)
	req := []float64{0.5, 0.5, 0.1}
	candidates := []Candidate{
		{ID: "a", Capabilities: []float64{1, 0, 0}, Order: 0},
		{ID: "b", Capabilities: []float64{0.5, 0.5, 0}, Order: 1},
		{ID: "c", Capabilities: []float64{0, 1, 0.2}, Order: 2},
		{ID: "d", Capabilities: []float64{0.5, 0.5, 0}, Load: 1, Order: 3},
	}

	first, _ := m.Rank(req, candidates)
	for i := 0; i < 10; i++ {
		again, _ := m.Rank(req, candidates)
		for j := range first {
			if again[j].CandidateID != first[j].CandidateID {
				t.Fatalf("run %d position %d: %s != %s", i, j, again[j].CandidateID, first[j].CandidateID)
			}
		}
	}
}

func TestNoConfidentMatch(t *testing.T) {
	m := New(0.5, nil)

	matches, confident := m.Rank([]float64{1, 0, 0}, []Candidate{
		{ID: "wrong-skill", Capabilities: []float64{0, 1, 0}},
	})
	if confident {
		t.Error("score 0.0 should not be a confident match at threshold 0.5")
	}
	if len(matches) != 1 {
		t.Fatalf("matches still returned for fallback handling, got %d", len(matches))
	}

	if _, confident := m.Rank([]float64{1}, nil); confident {
		t.Error("no candidates can never be confident")
	}
}

func TestRecordOutcomeMovesWeights(t *testing.T) {
	m := New(0.5, nil)
	req := []float64{1, 0}

	// Two equally capable candidates; dimension 0 weight drops after failures
	// won't change relative ranking here, but the version must advance and
	// weights stay within bounds.
	if m.Version() != 0 {
		t.Fatalf("initial version = %d, want 0", m.Version())
	}

	m.RecordOutcome("t1", req, true, 0.9)
	if m.Version() != 1 {
		t.Errorf("version after one outcome = %d, want 1", m.Version())
	}

	for i := 0; i < 100; i++ {
		m.RecordOutcome("t", req, false, 0)
	}
	weights := m.snapshotWeights()
	if weights[0] < minWeight-1e-9 {
		t.Errorf("weight[0] = %v fell below floor %v", weights[0], minWeight)
	}

	for i := 0; i < 200; i++ {
		m.RecordOutcome("t", req, true, 1.0)
	}
	weights = m.snapshotWeights()
	if weights[0] > maxWeight+1e-9 {
		t.Errorf("weight[0] = %v rose above ceiling %v", weights[0], maxWeight)
	}
}

type captureSink struct {
	taskIDs  []string
	versions []uint64
}

func (s *captureSink) RecordOutcome(taskID string, success bool, quality float64, version uint64) error {
	s.taskIDs = append(s.taskIDs, taskID)
	s.versions = append(s.versions, version)
	return nil
}

func TestRecordOutcomeJournalled(t *testing.T) {
	sink := &captureSink{}
	m := New(0.5, sink)

	m.RecordOutcome("t1", []float64{1}, true, 0.8)
	m.RecordOutcome("t2", []float64{1}, false, 0.2)

	if len(sink.taskIDs) != 2 || sink.taskIDs[0] != "t1" || sink.taskIDs[1] != "t2" {
		t.Fatalf("journalled tasks = %v", sink.taskIDs)
	}
	if sink.versions[0] != 1 || sink.versions[1] != 2 {
		t.Errorf("journalled versions = %v, want [1 2]", sink.versions)
	}
}
