// Package scaler turns resource, workload, and performance signals into a
// target agent count. The blend is deliberately plain arithmetic with
// documented weights; the prediction term is just a trailing moving average
// that damps oscillation.
package scaler

import (
	"math"

	"github.com/apetros/agentsched/internal/config"
)

// Direction is the scaling decision.
type Direction int

const (
	Hold Direction = iota
	ScaleUp
	ScaleDown
)

func (d Direction) String() string {
	switch d {
	case ScaleUp:
		return "scale-up"
	case ScaleDown:
		return "scale-down"
	default:
		return "hold"
	}
}

// Inputs are the per-cycle signals the scheduler feeds the scaler.
type Inputs struct {
	MaxAgentsByMemory int
	MaxAgentsByCPU    int
	QueueDepth        int
	// AvgComplexity is the mean priority-weighted requirement magnitude of
	// queued tasks, in [0,1]; 0 when the queue is empty.
	AvgComplexity float64
	RunningAgents int
	BusyAgents    int // Assigned or Processing
}

// Decision is the scaler's output for one cycle. Actionable is true only
// once the same non-hold direction has persisted long enough to clear
// hysteresis; the scheduler acts on nothing else.
type Decision struct {
	Direction  Direction
	Target     int
	Confidence float64
	Actionable bool
}

// Scaler computes scale decisions. Not safe for concurrent use; it lives
// inside the scheduling loop.
type Scaler struct {
	cfg     config.ScalerConfig
	history []int // trailing targets, newest last

	lastDirection Direction
	streak        int
}

// New creates a Scaler.
func New(cfg config.ScalerConfig) *Scaler {
	return &Scaler{cfg: cfg}
}

// Evaluate computes the blended target and applies hysteresis.
func (s *Scaler) Evaluate(in Inputs) Decision {
	byResource := float64(min(in.MaxAgentsByMemory, in.MaxAgentsByCPU))
	byWorkload := s.workloadTarget(in)
	byPerformance := s.performanceTarget(in)
	byPrediction := s.predictionTarget(byResource)

	blended := s.cfg.ResourceWeight*byResource +
		s.cfg.WorkloadWeight*byWorkload +
		s.cfg.PerformanceWeight*byPerformance +
		s.cfg.PredictionWeight*byPrediction

	target := int(math.Round(blended))
	if target < 1 {
		target = 1
	}
	if target > s.cfg.SafetyLimit {
		target = s.cfg.SafetyLimit
	}

	s.recordTarget(target)

	direction := Hold
	switch {
	case target > in.RunningAgents:
		direction = ScaleUp
	case target < in.RunningAgents:
		direction = ScaleDown
	}

	// Hysteresis: only a direction that persists across consecutive cycles
	// is acted on, so a single noisy sample cannot thrash the agent pool.
	if direction != Hold && direction == s.lastDirection {
		s.streak++
	} else if direction != Hold {
		s.streak = 1
	} else {
		s.streak = 0
	}
	s.lastDirection = direction

	gap := math.Abs(float64(target - in.RunningAgents))
	confidence := gap / math.Max(1, float64(max(target, in.RunningAgents)))

	return Decision{
		Direction:  direction,
		Target:     target,
		Confidence: confidence,
		Actionable: direction != Hold && s.streak >= s.cfg.HysteresisCycles,
	}
}

// workloadTarget grows with queue depth and task complexity: a deep queue of
// heavy high-priority work asks for more agents than a shallow one.
func (s *Scaler) workloadTarget(in Inputs) float64 {
	if in.QueueDepth == 0 {
		return float64(in.BusyAgents)
	}
	return float64(in.QueueDepth) * (0.5 + in.AvgComplexity)
}

// performanceTarget nudges toward the busy set: idle agents pull the target
// down, saturation pushes it above the current pool.
func (s *Scaler) performanceTarget(in Inputs) float64 {
	if in.RunningAgents == 0 {
		return 1
	}
	utilization := float64(in.BusyAgents) / float64(in.RunningAgents)
	switch {
	case utilization >= 0.9:
		return float64(in.RunningAgents) * 1.5
	case utilization <= 0.3:
		return float64(in.RunningAgents) * 0.5
	default:
		return float64(in.RunningAgents)
	}
}

// predictionTarget is the trailing moving average of recent targets; before
// any history exists it echoes the resource term.
func (s *Scaler) predictionTarget(fallback float64) float64 {
	if len(s.history) == 0 {
		return fallback
	}
	sum := 0
	for _, t := range s.history {
		sum += t
	}
	return float64(sum) / float64(len(s.history))
}

func (s *Scaler) recordTarget(target int) {
	s.history = append(s.history, target)
	if window := s.cfg.PredictionWindow; window > 0 && len(s.history) > window {
		s.history = s.history[len(s.history)-window:]
	}
}
