package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apetros/agentsched/internal/backend"
	"github.com/apetros/agentsched/internal/config"
	"github.com/apetros/agentsched/internal/conflict"
	"github.com/apetros/agentsched/internal/events"
	"github.com/apetros/agentsched/internal/matcher"
	"github.com/apetros/agentsched/internal/metrics"
	"github.com/apetros/agentsched/internal/monitor"
	"github.com/apetros/agentsched/internal/persistence"
	"github.com/apetros/agentsched/internal/registry"
	"github.com/apetros/agentsched/internal/scaler"
	"github.com/apetros/agentsched/internal/scheduler"
	"github.com/apetros/agentsched/internal/topology"
)

func main() {
	topologyFlag := flag.String("topology", "", "override the configured topology (hierarchical, mesh, ring, star)")
	dbFlag := flag.String("db", "", "override the SQLite journal path (empty disables persistence)")
	metricsFlag := flag.String("metrics", "", "override the Prometheus listen address (host:port)")
	templatesFlag := flag.String("templates", "", "override the agent type template directory")
	flag.Parse()

	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *topologyFlag != "" {
		cfg.Topology = *topologyFlag
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	if *metricsFlag != "" {
		cfg.MetricsAddr = *metricsFlag
	}
	if *templatesFlag != "" {
		cfg.Registry.TemplateDir = *templatesFlag
	}

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log.Println("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	bus := events.NewBus()
	defer bus.Close()

	// Log every event; slow consumers only ever cost dropped events, never
	// scheduling latency.
	go logEvents(bus.SubscribeAll(512))

	var journal scheduler.Journal
	var sink matcher.OutcomeSink
	if cfg.DBPath != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer store.Close()
		journal = store
		sink = store
	}

	var provider registry.Provider
	if dir := cfg.Registry.TemplateDir; dir != "" {
		provider = registry.NewFileProvider(dir)
	} else {
		provider = registry.Static(registry.GenericType())
	}

	kind, err := topology.ParseType(cfg.Topology)
	if err != nil {
		return err
	}
	mgr, err := topology.NewManager(kind, nil)
	if err != nil {
		return fmt.Errorf("building routing table: %w", err)
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("ERROR: metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
	}

	sched, err := scheduler.New(scheduler.Deps{
		Config:   cfg,
		Monitor:  monitor.New(cfg.Monitor),
		Registry: registry.New(provider),
		Matcher:  matcher.New(cfg.Matcher.MinConfidence, sink),
		Scaler:   scaler.New(cfg.Scaler),
		Detector: conflict.NewDetector(),
		Topology: mgr,
		Bus:      bus,
		Metrics:  m,
		Backend:  func(sinks backend.Sinks) backend.Backend { return backend.NewLoopback(sinks) },
		Journal:  journal,
	})
	if err != nil {
		return err
	}

	log.Printf("agentsched starting (topology %s)", cfg.Topology)
	return sched.Run(ctx)
}

func logEvents(ch <-chan events.Event) {
	for e := range ch {
		switch ev := e.(type) {
		case events.TaskFailed:
			log.Printf("event %s: task %s (%s): %v", ev.EventType(), ev.TaskID, ev.Reason, ev.Err)
		case events.ResourceAlert:
			log.Printf("event %s: %s at %.0f%% (threshold %.0f%%)", ev.EventType(), ev.Kind, ev.Utilization*100, ev.Threshold*100)
		default:
			log.Printf("event %s: %+v", e.EventType(), e)
		}
	}
}
