// Package topology maintains the inter-agent communication graph. Routing
// tables are immutable snapshots: a switch or membership change builds a
// complete new table and atomically swaps it in, so a message routed under
// the old table keeps a consistent view until delivered.
package topology

import (
	"errors"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
)

// Type identifies the communication pattern.
type Type int

const (
	Hierarchical Type = iota
	Mesh
	Ring
	Star
)

func (t Type) String() string {
	switch t {
	case Hierarchical:
		return "hierarchical"
	case Mesh:
		return "mesh"
	case Ring:
		return "ring"
	case Star:
		return "star"
	default:
		return "unknown"
	}
}

// ParseType parses a topology name.
func ParseType(s string) (Type, error) {
	switch s {
	case "hierarchical":
		return Hierarchical, nil
	case "mesh":
		return Mesh, nil
	case "ring":
		return Ring, nil
	case "star":
		return Star, nil
	default:
		return 0, fmt.Errorf("unknown topology %q", s)
	}
}

var (
	// ErrUnroutable marks a pair the topology forbids (star spoke-to-spoke).
	ErrUnroutable = errors.New("no route between agents under current topology")
	// ErrUnknownMember marks an endpoint that is not in the table.
	ErrUnknownMember = errors.New("agent is not a member of the routing table")
)

// Table is an immutable routing snapshot over a fixed member set. Members
// are kept in agent registration order; the first member acts as the
// hierarchical coordinator or star hub.
type Table struct {
	kind        Type
	members     []string
	index       map[string]int
	version     uint64
	fingerprint uint64
}

type fingerprintInput struct {
	Kind    string
	Members []string
}

// buildTable constructs a table, validating the member set.
func buildTable(kind Type, members []string, version uint64) (*Table, error) {
	switch kind {
	case Hierarchical, Mesh, Ring, Star:
	default:
		return nil, fmt.Errorf("unknown topology type %d", kind)
	}

	index := make(map[string]int, len(members))
	owned := make([]string, len(members))
	for i, id := range members {
		if id == "" {
			return nil, fmt.Errorf("empty member id at position %d", i)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("duplicate member %q in routing table", id)
		}
		index[id] = i
		owned[i] = id
	}

	fp, err := hashstructure.Hash(fingerprintInput{Kind: kind.String(), Members: owned}, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting routing table: %w", err)
	}

	return &Table{
		kind:        kind,
		members:     owned,
		index:       index,
		version:     version,
		fingerprint: fp,
	}, nil
}

// Kind returns the topology type the table was built for.
func (t *Table) Kind() Type { return t.kind }

// Version returns the monotonically increasing table version.
func (t *Table) Version() uint64 { return t.version }

// Fingerprint identifies the table's routing behavior: tables with the same
// type and member set are behaviorally equivalent and share a fingerprint.
func (t *Table) Fingerprint() uint64 { return t.fingerprint }

// Members returns the member IDs in registration order.
func (t *Table) Members() []string {
	out := make([]string, len(t.members))
	copy(out, t.members)
	return out
}

// Coordinator returns the hierarchical coordinator / star hub, or "" for an
// empty table.
func (t *Table) Coordinator() string {
	if len(t.members) == 0 {
		return ""
	}
	return t.members[0]
}

// Route computes the delivery path from one agent to another, inclusive of
// both endpoints. from == to yields a single-element path.
func (t *Table) Route(from, to string) ([]string, error) {
	fi, ok := t.index[from]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMember, from)
	}
	ti, ok := t.index[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMember, to)
	}

	if from == to {
		return []string{from}, nil
	}

	switch t.kind {
	case Mesh:
		return []string{from, to}, nil

	case Hierarchical:
		coord := t.Coordinator()
		if from == coord || to == coord {
			return []string{from, to}, nil
		}
		// Leaf-to-leaf traffic relays through the coordinator.
		return []string{from, coord, to}, nil

	case Star:
		hub := t.Coordinator()
		if from == hub || to == hub {
			return []string{from, to}, nil
		}
		// Unlike hierarchical, the hub does not relay spoke traffic.
		return nil, fmt.Errorf("%w: star topology forbids %s -> %s", ErrUnroutable, from, to)

	case Ring:
		return t.ringPath(fi, ti), nil
	}

	return nil, fmt.Errorf("unknown topology type %d", t.kind)
}

// ringPath hops neighbor-to-neighbor in whichever direction is shorter;
// ties go clockwise (ascending registration order).
func (t *Table) ringPath(from, to int) []string {
	n := len(t.members)
	cw := (to - from + n) % n  // clockwise hops
	ccw := (from - to + n) % n // counter-clockwise hops

	step := 1
	hops := cw
	if ccw < cw {
		step = -1
		hops = ccw
	}

	path := make([]string, 0, hops+1)
	for i, pos := 0, from; i <= hops; i++ {
		path = append(path, t.members[pos])
		pos = (pos + step + n) % n
	}
	return path
}

// Reachable reports whether a message can be delivered from -> to at all.
func (t *Table) Reachable(from, to string) bool {
	_, err := t.Route(from, to)
	return err == nil
}
