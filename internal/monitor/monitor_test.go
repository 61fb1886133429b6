package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/apetros/agentsched/internal/config"
)

const gib = 1024 * 1024 * 1024

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		SampleInterval: config.Duration(10 * time.Millisecond),
		MemoryHeadroom: 0.70,
		PerAgentMemory: 200 * 1024 * 1024,
		CPUHeadroom:    0.80,
		AgentsPerCore:  5,
		MemoryAlert:    0.85,
		CPUAlert:       0.80,
	}
}

func staticSampler(stats HostStats) Sampler {
	return func(ctx context.Context) (HostStats, error) {
		return stats, nil
	}
}

func TestSampleDerivations(t *testing.T) {
	tests := []struct {
		name      string
		stats     HostStats
		wantByMem int
		wantByCPU int
	}{
		{
			name: "8 cores 4GiB available",
			stats: HostStats{
				CPUFraction:     0.25,
				Cores:           8,
				MemoryTotal:     16 * gib,
				MemoryAvailable: 4 * gib,
			},
			// 4GiB * 0.70 / 200MiB = 14.3 -> 14
			wantByMem: 14,
			// 8 * 0.80 * 5 = 32
			wantByCPU: 32,
		},
		{
			name: "tight memory binds",
			stats: HostStats{
				Cores:           16,
				MemoryTotal:     8 * gib,
				MemoryAvailable: 300 * 1024 * 1024,
			},
			// 300MiB * 0.70 / 200MiB = 1.05 -> 1
			wantByMem: 1,
			wantByCPU: 64,
		},
		{
			name: "no available memory",
			stats: HostStats{
				Cores:           4,
				MemoryTotal:     8 * gib,
				MemoryAvailable: 0,
			},
			wantByMem: 0,
			wantByCPU: 16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(testConfig(), WithSampler(staticSampler(tt.stats)))

			snap, err := m.Sample(context.Background())
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}

			if snap.MaxAgentsByMemory != tt.wantByMem {
				t.Errorf("MaxAgentsByMemory = %d, want %d", snap.MaxAgentsByMemory, tt.wantByMem)
			}
			if snap.MaxAgentsByCPU != tt.wantByCPU {
				t.Errorf("MaxAgentsByCPU = %d, want %d", snap.MaxAgentsByCPU, tt.wantByCPU)
			}

			wantMax := tt.wantByMem
			if tt.wantByCPU < wantMax {
				wantMax = tt.wantByCPU
			}
			if snap.MaxAgents() != wantMax {
				t.Errorf("MaxAgents = %d, want %d", snap.MaxAgents(), wantMax)
			}
		})
	}
}

func TestAlertThresholds(t *testing.T) {
	tests := []struct {
		name      string
		stats     HostStats
		wantKinds []string
	}{
		{
			name: "calm host raises nothing",
			stats: HostStats{
				CPUFraction:     0.30,
				Cores:           4,
				MemoryTotal:     8 * gib,
				MemoryAvailable: 6 * gib,
			},
		},
		{
			name: "hot cpu",
			stats: HostStats{
				CPUFraction:     0.95,
				Cores:           4,
				MemoryTotal:     8 * gib,
				MemoryAvailable: 6 * gib,
			},
			wantKinds: []string{"cpu"},
		},
		{
			name: "hot memory",
			stats: HostStats{
				CPUFraction:     0.10,
				Cores:           4,
				MemoryTotal:     8 * gib,
				MemoryAvailable: 512 * 1024 * 1024, // ~94% used
			},
			wantKinds: []string{"memory"},
		},
		{
			name: "both hot",
			stats: HostStats{
				CPUFraction:     0.99,
				Cores:           4,
				MemoryTotal:     8 * gib,
				MemoryAvailable: 256 * 1024 * 1024,
			},
			wantKinds: []string{"memory", "cpu"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(testConfig(), WithSampler(staticSampler(tt.stats)))
			m.sampleOnce(context.Background())

			var got []string
		drain:
			for {
				select {
				case a := <-m.Alerts():
					got = append(got, a.Kind)
				default:
					break drain
				}
			}

			if len(got) != len(tt.wantKinds) {
				t.Fatalf("got alerts %v, want kinds %v", got, tt.wantKinds)
			}
			for i, kind := range tt.wantKinds {
				if got[i] != kind {
					t.Errorf("alert %d = %q, want %q", i, got[i], kind)
				}
			}
		})
	}
}

func TestSnapshotLatestWins(t *testing.T) {
	m := New(testConfig(), WithSampler(staticSampler(HostStats{
		Cores:           4,
		MemoryTotal:     8 * gib,
		MemoryAvailable: 4 * gib,
	})))

	// Two samples with no consumer: the second must displace the first,
	// never block.
	m.sampleOnce(context.Background())
	first := <-m.Snapshots()

	m.sampleOnce(context.Background())
	m.sampleOnce(context.Background())

	second := <-m.Snapshots()
	if !second.Timestamp.After(first.Timestamp) && !second.Timestamp.Equal(first.Timestamp) {
		t.Error("expected the retained snapshot to be the most recent")
	}

	select {
	case <-m.Snapshots():
		t.Error("expected only one buffered snapshot")
	default:
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := New(testConfig(), WithSampler(staticSampler(HostStats{
		Cores:           2,
		MemoryTotal:     4 * gib,
		MemoryAvailable: 2 * gib,
	})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-m.Snapshots():
	case <-time.After(time.Second):
		t.Fatal("no snapshot produced")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
