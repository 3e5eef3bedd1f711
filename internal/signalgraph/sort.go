package signalgraph

import (
	"sort"

	"signalgraph-mm/pkg/types"
)

// parentsOf returns the set of instance names call directly depends on
// (its Consumer and Aggregate member instances). Book inputs are not
// parents in this graph — they are how reachability is seeded in the
// first place.
func parentsOf(call *SignalCall) map[string]struct{} {
	parents := map[string]struct{}{}
	for _, in := range call.Inputs {
		switch in.Kind {
		case TypeConsumer:
			parents[in.ConsumerSignal] = struct{}{}
		case TypeAggregate:
			for _, mem := range in.AggregateMembers {
				parents[mem.Signal] = struct{}{}
			}
		}
	}
	return parents
}

// findSeenSignals computes the fixpoint set of instances reachable from
// sec's book: seeded with every instance that directly subscribes to
// sec's Book, then iteratively grown by adding any instance whose
// parent set intersects the current seen set, until no growth occurs.
func findSeenSignals(sec types.Security, calls map[string]*SignalCall) map[string]struct{} {
	seen := map[string]struct{}{}
	for name, call := range calls {
		for _, in := range call.Inputs {
			if in.Kind == TypeBook && in.Book == sec {
				seen[name] = struct{}{}
			}
		}
	}

	for {
		grew := false
		for name, call := range calls {
			if _, already := seen[name]; already {
				continue
			}
			for parent := range parentsOf(call) {
				if _, ok := seen[parent]; ok {
					seen[name] = struct{}{}
					grew = true
					break
				}
			}
		}
		if !grew {
			break
		}
	}
	return seen
}

// topologicalSort orders seen instances so that every instance appears
// after all of its parents (restricted to the seen set — parents outside
// it, i.e. not reachable from this security, are irrelevant to this
// security's call list). Returns a GraphError{Kind: GraphCycle} rather
// than panicking if no progress can be made with instances remaining.
func topologicalSort(seen map[string]struct{}, calls map[string]*SignalCall) ([]string, error) {
	deps := make(map[string]map[string]struct{}, len(seen))
	for name := range seen {
		call := calls[name]
		d := map[string]struct{}{}
		for parent := range parentsOf(call) {
			if _, ok := seen[parent]; ok {
				d[parent] = struct{}{}
			}
		}
		deps[name] = d
	}

	var ordered []string
	for len(deps) > 0 {
		var ready []string
		for name, d := range deps {
			if len(d) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			remaining := make([]string, 0, len(deps))
			for name := range deps {
				remaining = append(remaining, name)
			}
			sort.Strings(remaining)
			return nil, &GraphError{Kind: GraphCycle, Cycle: remaining}
		}
		sort.Strings(ready) // deterministic ordering among equally-ready instances
		for _, name := range ready {
			delete(deps, name)
		}
		for _, d := range deps {
			for _, name := range ready {
				delete(d, name)
			}
		}
		ordered = append(ordered, ready...)
	}
	return ordered, nil
}

// securityCallOrder computes the topologically sorted list of instances
// reachable from sec's book, for use both in call-list materialization
// and in the global slot-assignment discovery order.
func securityCallOrder(sec types.Security, calls map[string]*SignalCall) ([]string, error) {
	seen := findSeenSignals(sec, calls)
	return topologicalSort(seen, calls)
}
