package topology

import (
	"sync/atomic"
)

// Manager owns the active routing table. Only the scheduling loop calls the
// mutating methods; readers grab the current table pointer and may keep
// using it after a swap (tables are immutable).
type Manager struct {
	current atomic.Pointer[Table]
	nextVer uint64
}

// NewManager builds the initial table.
func NewManager(kind Type, members []string) (*Manager, error) {
	m := &Manager{}
	table, err := buildTable(kind, members, m.bumpVersion())
	if err != nil {
		return nil, err
	}
	m.current.Store(table)
	return m, nil
}

// Current returns the active routing table snapshot.
func (m *Manager) Current() *Table {
	return m.current.Load()
}

// Type returns the active topology type.
func (m *Manager) Type() Type {
	return m.Current().kind
}

// Switch rebuilds the routing table under a new topology type from the
// current member set and swaps it in atomically. On a build error the
// switch is aborted and the previous table stays active; a table is never
// left half-updated.
func (m *Manager) Switch(kind Type) error {
	old := m.Current()
	table, err := buildTable(kind, old.members, m.bumpVersion())
	if err != nil {
		return err
	}
	m.current.Store(table)
	return nil
}

// SetMembers recomputes the table for a changed member set under the
// current topology type. Join and leave never change the topology type.
func (m *Manager) SetMembers(members []string) error {
	old := m.Current()
	table, err := buildTable(old.kind, members, m.bumpVersion())
	if err != nil {
		return err
	}
	m.current.Store(table)
	return nil
}

func (m *Manager) bumpVersion() uint64 {
	return atomic.AddUint64(&m.nextVer, 1)
}
