package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Provider supplies agent type templates. Implementations must tolerate
// concurrent Types calls; Refresh replaces the set atomically.
type Provider interface {
	Types() []AgentType
	Refresh() error
}

// StaticProvider serves a fixed set of types. Used for tests and as the
// generic fallback when no template directory is configured.
type StaticProvider struct {
	types []AgentType
}

// Static creates a provider over a fixed type list.
func Static(types ...AgentType) *StaticProvider {
	return &StaticProvider{types: types}
}

func (p *StaticProvider) Types() []AgentType {
	out := make([]AgentType, len(p.types))
	copy(out, p.types)
	return out
}

func (p *StaticProvider) Refresh() error { return nil }

// FileProvider scans a directory of *.json agent type templates.
// Invalid templates are skipped with a log line rather than failing the scan;
// a scan that yields nothing keeps the previous set.
type FileProvider struct {
	dir   string
	mu    sync.RWMutex
	types []AgentType
}

// NewFileProvider creates a provider over dir and performs the initial scan.
// A missing or empty directory is not fatal: the provider starts with the
// generic type and a later Refresh can pick up templates.
func NewFileProvider(dir string) *FileProvider {
	p := &FileProvider{dir: dir, types: []AgentType{GenericType()}}
	if err := p.Refresh(); err != nil {
		log.Printf("WARNING: agent template scan failed, using generic type: %v", err)
	}
	return p
}

func (p *FileProvider) Types() []AgentType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AgentType, len(p.types))
	copy(out, p.types)
	return out
}

// Refresh rescans the template directory and swaps in the new set.
func (p *FileProvider) Refresh() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("reading template dir %s: %w", p.dir, err)
	}

	var scanned []AgentType
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(p.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("WARNING: skipping agent template %s: %v", path, err)
			continue
		}

		var t AgentType
		if err := json.Unmarshal(data, &t); err != nil {
			log.Printf("WARNING: skipping agent template %s: %v", path, err)
			continue
		}
		if err := t.Validate(); err != nil {
			log.Printf("WARNING: skipping agent template %s: %v", path, err)
			continue
		}
		if seen[t.ID] {
			log.Printf("WARNING: duplicate agent type %q in %s, keeping the first", t.ID, path)
			continue
		}

		seen[t.ID] = true
		scanned = append(scanned, t)
	}

	if len(scanned) == 0 {
		// Nothing usable; keep whatever we had (generic type at minimum).
		return nil
	}

	// Deterministic type order regardless of directory iteration order.
	sort.Slice(scanned, func(i, j int) bool { return scanned[i].ID < scanned[j].ID })

	p.mu.Lock()
	p.types = scanned
	p.mu.Unlock()
	return nil
}
