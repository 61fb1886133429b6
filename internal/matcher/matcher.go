// Package matcher ranks agent candidates against task requirement vectors.
// Scoring is plain cosine similarity over weighted capability vectors; the
// weights drift with recorded task outcomes but there is no model behind
// them, just the documented arithmetic.
package matcher

import (
	"log"
	"math"
	"sort"
	"sync"
)

const (
	// learningRate bounds how far one outcome can move a weight.
	learningRate = 0.05
	minWeight    = 0.1
	maxWeight    = 2.0
)

// Candidate is one agent under consideration. The matcher holds no agent
// state of its own; callers pass in everything it needs.
type Candidate struct {
	ID           string
	Capabilities []float64
	Load         int // tasks currently bound to the agent
	Order        int // registration order, final tie-break
}

// Match is a scored candidate.
type Match struct {
	CandidateID string
	Score       float64
}

// OutcomeSink journals recorded outcomes (e.g. to the SQLite store).
type OutcomeSink interface {
	RecordOutcome(taskID string, success bool, quality float64, version uint64) error
}

// Matcher scores and ranks candidates. Rank is pure; RecordOutcome is the
// only mutation and runs behind a single-writer mutex.
type Matcher struct {
	minConfidence float64

	mu      sync.Mutex
	weights []float64 // per-dimension multipliers, 1.0 until outcomes move them
	version uint64
	sink    OutcomeSink
}

// New creates a Matcher. sink may be nil.
func New(minConfidence float64, sink OutcomeSink) *Matcher {
	return &Matcher{minConfidence: minConfidence, sink: sink}
}

// Version returns the current weight table version.
func (m *Matcher) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Rank scores every candidate against the requirement vector and returns
// them in descending score order. Ties break by lowest load, then earliest
// registration order, so results are reproducible. confident is false when
// the best score is below the configured minimum (or there are no
// candidates), in which case the caller falls back to round-robin.
func (m *Matcher) Rank(requirements []float64, candidates []Candidate) (matches []Match, confident bool) {
	weights := m.snapshotWeights()

	matches = make([]Match, 0, len(candidates))
	order := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		matches = append(matches, Match{
			CandidateID: c.ID,
			Score:       Score(requirements, weighted(c.Capabilities, weights)),
		})
		order[c.ID] = c
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		ci, cj := order[matches[i].CandidateID], order[matches[j].CandidateID]
		if ci.Load != cj.Load {
			return ci.Load < cj.Load
		}
		return ci.Order < cj.Order
	})

	if len(matches) == 0 || matches[0].Score < m.minConfidence {
		return matches, false
	}
	return matches, true
}

// RecordOutcome feeds a task result back into the weight table. Dimensions
// the task actually required move toward (success) or away from (failure)
// the outcome, scaled by the quality score; every update bumps the table
// version. requirements is the task's requirement vector.
func (m *Matcher) RecordOutcome(taskID string, requirements []float64, success bool, quality float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(requirements) > len(m.weights) {
		grown := make([]float64, len(requirements))
		for i := range grown {
			grown[i] = 1
		}
		copy(grown, m.weights)
		// Newly seen dimensions start neutral.
		for i := len(m.weights); i < len(grown); i++ {
			grown[i] = 1
		}
		m.weights = grown
	}

	direction := quality
	if !success {
		direction = -1
	}
	for i, r := range requirements {
		if r <= 0 {
			continue
		}
		m.weights[i] += learningRate * direction * r
		m.weights[i] = math.Max(minWeight, math.Min(maxWeight, m.weights[i]))
	}
	m.version++

	if m.sink != nil {
		if err := m.sink.RecordOutcome(taskID, success, quality, m.version); err != nil {
			log.Printf("WARNING: recording matcher outcome for task %q: %v", taskID, err)
		}
	}
}

func (m *Matcher) snapshotWeights() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.weights))
	copy(out, m.weights)
	return out
}

// Score returns the cosine similarity of two vectors, 0 when either has a
// zero norm. Vectors of different length are compared as if the shorter one
// were zero-padded.
func Score(a, b []float64) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// weighted scales capabilities by per-dimension weights. Dimensions beyond
// the weight table are left as-is (weight 1).
func weighted(caps, weights []float64) []float64 {
	if len(weights) == 0 {
		return caps
	}
	out := make([]float64, len(caps))
	for i, c := range caps {
		if i < len(weights) {
			out[i] = c * weights[i]
		} else {
			out[i] = c
		}
	}
	return out
}
