package signalgraph

import (
	"fmt"

	"signalgraph-mm/internal/security"
	"signalgraph-mm/pkg/types"
)

// Graph is a fully built signal graph: the shared arena, one call list
// per security, and the bookkeeping needed to look up a named instance's
// output from outside the call list (for logging, a dashboard, or the
// quoter reading a terminal signal).
type Graph struct {
	mem         *Mem
	perSecurity []*callList
	securities  *security.Map
	outputSlot  map[string]map[string]uint16
	objects     map[string]NodeKind
}

// TriggerBook applies events to sec's book, then — if any signal
// instance is reachable from sec's book — runs that security's call
// list in topological order, invokes observer (if non-nil) once the
// walk completes, runs any Cleanup hooks, and finally bulk-clears the
// written bits this walk touched. This is the only entry point that
// advances the graph; nothing else mutates the arena.
func (g *Graph) TriggerBook(sec security.Index, events []types.MarketEvent, observer func()) {
	g.mem.books[sec].Apply(events)

	cl := g.perSecurity[sec]
	if cl == nil {
		return
	}

	for _, node := range cl.calls {
		node.Call(g.mem)
	}

	if observer != nil {
		observer()
	}

	for _, c := range cl.cleanup {
		c.Cleanup(g.mem)
	}

	for _, w := range cl.cleanWords {
		g.mem.written[w] = 0
	}
}

// Watch returns a ConsumerWatcher for instance's named output, for
// reading it from outside the call list (after TriggerBook returns).
// Returns ok=false if the instance or output name doesn't exist.
func (g *Graph) Watch(instance, output string) (ConsumerWatcher, bool) {
	outs, ok := g.outputSlot[instance]
	if !ok {
		return ConsumerWatcher{}, false
	}
	slot, ok := outs[output]
	if !ok {
		return ConsumerWatcher{}, false
	}
	return ConsumerWatcher{which: slot}, true
}

// LoadOutput is a convenience wrapper over Watch + Get for one-shot
// reads, e.g. from a logging or dashboard goroutine.
func (g *Graph) LoadOutput(instance, output string) (float64, bool, error) {
	w, ok := g.Watch(instance, output)
	if !ok {
		return 0, false, fmt.Errorf("signalgraph: no such output %s.%s", instance, output)
	}
	v, valid := w.Get(g.mem)
	return v, valid, nil
}

// Securities returns the security map this graph was built against.
func (g *Graph) Securities() *security.Map {
	return g.securities
}
