// Package security interns the set of tradable (product, exchange) pairs
// into dense uint16 indices. The signal graph arena is sized off these
// indices, so the universe of securities must be fixed before the graph
// is built — there is no way to add a security after construction.
package security

import (
	"fmt"
	"sync/atomic"

	"signalgraph-mm/pkg/types"
)

// Index is a dense, process-stable handle for a types.Security. Index
// values are only meaningful relative to the Map that produced them.
type Index uint16

// maxSecurities is the largest universe a Map can hold — std::u16::MAX,
// one less than the full range of Index, so every assigned index still
// fits the type with no reserved sentinel value needed.
const maxSecurities = 1<<16 - 1

// built guards against constructing more than one Map per process. The
// original system enforces this with a single atomic flag at module
// scope; a second construction almost always indicates a wiring bug
// (e.g. two independently configured graphs sharing one process) rather
// than a deliberate multi-graph deployment, so it is treated as fatal.
var built atomic.Bool

// Map is an immutable bijection between types.Security and Index, built
// once via Create and never mutated afterward.
type Map struct {
	toIndex map[types.Security]Index
	ordered []types.Security // Index(i) -> ordered[i]
}

// Create builds a Map from securities, assigning indices in the order
// given. It fails if securities contains a duplicate, exceeds
// maxSecurities, or if a Map has already been created in this process.
func Create(securities []types.Security) (*Map, error) {
	if !built.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("security: a Map has already been created in this process")
	}
	if len(securities) == 0 {
		return nil, fmt.Errorf("security: empty security list")
	}
	if len(securities) > maxSecurities {
		return nil, fmt.Errorf("security: %d securities exceeds maximum of %d", len(securities), maxSecurities)
	}

	m := &Map{
		toIndex: make(map[types.Security]Index, len(securities)),
		ordered: make([]types.Security, len(securities)),
	}
	for i, sec := range securities {
		if _, dup := m.toIndex[sec]; dup {
			return nil, fmt.Errorf("security: duplicate security %s", sec)
		}
		idx := Index(i)
		m.toIndex[sec] = idx
		m.ordered[i] = sec
	}
	return m, nil
}

// ToIndex returns the dense index for sec, or false if sec is not in the
// map's universe.
func (m *Map) ToIndex(sec types.Security) (Index, bool) {
	idx, ok := m.toIndex[sec]
	return idx, ok
}

// Security returns the security at idx. Panics if idx is out of range —
// callers only ever hold indices this Map produced.
func (m *Map) Security(idx Index) types.Security {
	return m.ordered[idx]
}

// Len returns the number of securities in the map.
func (m *Map) Len() int {
	return len(m.ordered)
}

// All returns the securities in index order; index i is All()[i].
func (m *Map) All() []types.Security {
	return m.ordered
}

// ResetForTesting clears the one-shot construction guard. Only tests use
// it (this package's and those of the packages that build graphs);
// production code builds exactly one Map per process.
func ResetForTesting() {
	built.Store(false)
}
