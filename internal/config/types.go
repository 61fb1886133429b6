package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can use strings like "5m" or "500ms".
type Duration time.Duration

// MarshalJSON renders the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string ("1s") or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", data)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MonitorConfig tunes host resource sampling and admission limits.
type MonitorConfig struct {
	SampleInterval Duration `json:"sample_interval"`  // How often to sample CPU/memory
	MemoryHeadroom float64  `json:"memory_headroom"`  // Fraction of available memory agents may claim
	PerAgentMemory uint64   `json:"per_agent_memory"` // Estimated memory cost per agent, bytes
	CPUHeadroom    float64  `json:"cpu_headroom"`     // Fraction of cores agents may claim
	AgentsPerCore  int      `json:"agents_per_core"`
	MemoryAlert    float64  `json:"memory_alert"` // Utilization fraction that raises an alert
	CPUAlert       float64  `json:"cpu_alert"`
}

// ScalerConfig tunes the target-agent-count blend and its hysteresis.
type ScalerConfig struct {
	SafetyLimit       int     `json:"safety_limit"`
	ResourceWeight    float64 `json:"resource_weight"`
	WorkloadWeight    float64 `json:"workload_weight"`
	PerformanceWeight float64 `json:"performance_weight"`
	PredictionWeight  float64 `json:"prediction_weight"`
	PredictionWindow  int     `json:"prediction_window"` // Trailing cycles averaged for the forecast
	HysteresisCycles  int     `json:"hysteresis_cycles"` // Consecutive identical decisions before acting
}

// MatcherConfig tunes capability matching.
type MatcherConfig struct {
	MinConfidence float64 `json:"min_confidence"` // Below this the round-robin fallback kicks in
}

// SchedulerConfig tunes the admission loop.
type SchedulerConfig struct {
	CyclePeriod      Duration `json:"cycle_period"`
	StallTimeout     Duration `json:"stall_timeout"` // Task failed if no activity ping within this window
	MaxLockWait      Duration `json:"max_lock_wait"` // 0 means wait forever for contended locks
	MaxStalls        int      `json:"max_stalls"`    // Lifetime stalls before an instance is retired
	SpawnRetries     int      `json:"spawn_retries"`
	SpawnBackoffBase Duration `json:"spawn_backoff_base"`
}

// RegistryConfig locates agent type templates.
type RegistryConfig struct {
	TemplateDir string `json:"template_dir"` // Directory of *.json agent type templates; empty uses the generic fallback
}

// Config is the top-level configuration.
type Config struct {
	Monitor     MonitorConfig   `json:"monitor"`
	Scaler      ScalerConfig    `json:"scaler"`
	Matcher     MatcherConfig   `json:"matcher"`
	Scheduler   SchedulerConfig `json:"scheduler"`
	Registry    RegistryConfig  `json:"registry"`
	Topology    string          `json:"topology"`     // hierarchical, mesh, ring, star
	DBPath      string          `json:"db_path"`      // SQLite journal path; empty disables persistence
	MetricsAddr string          `json:"metrics_addr"` // host:port for the Prometheus endpoint; empty disables
}
