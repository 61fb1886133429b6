package config

import "time"

// DefaultConfig returns the built-in configuration.
// Every value can be overridden by the global or project config file.
func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			SampleInterval: Duration(time.Second),
			MemoryHeadroom: 0.70,
			PerAgentMemory: 200 * 1024 * 1024,
			CPUHeadroom:    0.80,
			AgentsPerCore:  5,
			MemoryAlert:    0.85,
			CPUAlert:       0.80,
		},
		Scaler: ScalerConfig{
			SafetyLimit:       1000,
			ResourceWeight:    0.40,
			WorkloadWeight:    0.30,
			PerformanceWeight: 0.20,
			PredictionWeight:  0.10,
			PredictionWindow:  5,
			HysteresisCycles:  2,
		},
		Matcher: MatcherConfig{
			MinConfidence: 0.5,
		},
		Scheduler: SchedulerConfig{
			CyclePeriod:      Duration(500 * time.Millisecond),
			StallTimeout:     Duration(5 * time.Minute),
			MaxLockWait:      0, // wait forever
			MaxStalls:        3,
			SpawnRetries:     3,
			SpawnBackoffBase: Duration(time.Second),
		},
		Registry: RegistryConfig{},
		Topology: "hierarchical",
	}
}
