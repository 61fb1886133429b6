// Package monitor samples host CPU and memory and derives how many agent
// instances the host can safely carry. It never acts on what it sees: the
// scheduler reads snapshots and alerts and makes the admission decisions.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/apetros/agentsched/internal/config"
)

// HostStats is one raw sample of host state.
type HostStats struct {
	CPUFraction     float64 // utilization in [0,1]
	Cores           int
	MemoryTotal     uint64
	MemoryAvailable uint64
}

// Sampler produces host stats. Injectable so tests can run without a real host.
type Sampler func(ctx context.Context) (HostStats, error)

// Snapshot is an immutable view of host resources plus the derived agent
// limits. A new one replaces the old wholesale each sampling cycle.
type Snapshot struct {
	Timestamp         time.Time
	CPUFraction       float64
	Cores             int
	MemoryTotal       uint64
	MemoryUsed        uint64
	MemoryAvailable   uint64
	MaxAgentsByMemory int
	MaxAgentsByCPU    int
}

// MemoryFraction returns memory utilization in [0,1].
func (s Snapshot) MemoryFraction() float64 {
	if s.MemoryTotal == 0 {
		return 0
	}
	return float64(s.MemoryUsed) / float64(s.MemoryTotal)
}

// MaxAgents returns the binding resource limit.
func (s Snapshot) MaxAgents() int {
	if s.MaxAgentsByMemory < s.MaxAgentsByCPU {
		return s.MaxAgentsByMemory
	}
	return s.MaxAgentsByCPU
}

func (s Snapshot) String() string {
	return fmt.Sprintf("cpu %.0f%%, mem %s/%s, max agents mem=%d cpu=%d",
		s.CPUFraction*100,
		humanize.IBytes(s.MemoryUsed), humanize.IBytes(s.MemoryTotal),
		s.MaxAgentsByMemory, s.MaxAgentsByCPU)
}

// Alert signals that a utilization threshold was crossed. Alerts stop new
// admissions; they never terminate running agents.
type Alert struct {
	Kind        string // "memory" or "cpu"
	Utilization float64
	Threshold   float64
	Timestamp   time.Time
}

// Monitor runs the sampling loop.
type Monitor struct {
	cfg       config.MonitorConfig
	sampler   Sampler
	snapshots chan Snapshot
	alerts    chan Alert
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampler replaces the gopsutil-backed sampler (tests).
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// New creates a Monitor with the default host sampler.
func New(cfg config.MonitorConfig, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		sampler:   hostSampler,
		snapshots: make(chan Snapshot, 1),
		alerts:    make(chan Alert, 16),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshots returns the snapshot channel. Capacity 1, latest-wins: the
// monitor replaces an unconsumed snapshot rather than block, so a stale
// read is always available and the scheduling loop never waits here.
func (m *Monitor) Snapshots() <-chan Snapshot { return m.snapshots }

// Alerts returns the alert channel. Alerts are dropped if unconsumed.
func (m *Monitor) Alerts() <-chan Alert { return m.alerts }

// Run samples on the configured interval until ctx is cancelled.
// Sampling errors are not fatal; the previous snapshot simply stays current.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SampleInterval.Std())
	defer ticker.Stop()

	// Take one sample up front so consumers don't start blind.
	m.sampleOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	snap, err := m.Sample(ctx)
	if err != nil {
		return
	}

	// Latest-wins delivery: displace an unread snapshot.
	select {
	case <-m.snapshots:
	default:
	}
	m.snapshots <- snap

	m.checkThresholds(snap)
}

// Sample takes one sample and derives the agent limits.
func (m *Monitor) Sample(ctx context.Context) (Snapshot, error) {
	stats, err := m.sampler(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sampling host: %w", err)
	}

	snap := Snapshot{
		Timestamp:       time.Now(),
		CPUFraction:     stats.CPUFraction,
		Cores:           stats.Cores,
		MemoryTotal:     stats.MemoryTotal,
		MemoryAvailable: stats.MemoryAvailable,
	}
	if stats.MemoryTotal >= stats.MemoryAvailable {
		snap.MemoryUsed = stats.MemoryTotal - stats.MemoryAvailable
	}

	snap.MaxAgentsByMemory = int(float64(stats.MemoryAvailable) * m.cfg.MemoryHeadroom / float64(m.cfg.PerAgentMemory))
	snap.MaxAgentsByCPU = int(float64(stats.Cores) * m.cfg.CPUHeadroom * float64(m.cfg.AgentsPerCore))

	return snap, nil
}

func (m *Monitor) checkThresholds(snap Snapshot) {
	if memFrac := snap.MemoryFraction(); memFrac > m.cfg.MemoryAlert {
		m.emitAlert(Alert{Kind: "memory", Utilization: memFrac, Threshold: m.cfg.MemoryAlert, Timestamp: snap.Timestamp})
	}
	if snap.CPUFraction > m.cfg.CPUAlert {
		m.emitAlert(Alert{Kind: "cpu", Utilization: snap.CPUFraction, Threshold: m.cfg.CPUAlert, Timestamp: snap.Timestamp})
	}
}

func (m *Monitor) emitAlert(a Alert) {
	select {
	case m.alerts <- a:
	default:
		// Alert channel full; the condition will re-trigger next sample.
	}
}

// hostSampler reads real host state via gopsutil.
func hostSampler(ctx context.Context) (HostStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostStats{}, fmt.Errorf("reading memory: %w", err)
	}

	// Interval 0 measures since the previous call, which matches our
	// fixed-interval loop without sleeping inside the sample.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HostStats{}, fmt.Errorf("reading cpu: %w", err)
	}
	cpuFrac := 0.0
	if len(percents) > 0 {
		cpuFrac = percents[0] / 100.0
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}

	return HostStats{
		CPUFraction:     cpuFrac,
		Cores:           cores,
		MemoryTotal:     vm.Total,
		MemoryAvailable: vm.Available,
	}, nil
}
