package signalgraph

import (
	"fmt"
	"sort"

	"signalgraph-mm/internal/security"
)

// maxSignalInstances bounds the number of signal instances a single
// graph may declare. Output slots are 16-bit too, but an instance may
// declare several outputs, so assignSlots separately rejects a graph
// whose outputs need more than 65535 slots in total.
const maxSignalInstances = 65535

// Build validates calls against r's catalog and securities' universe,
// computes per-security reachability and topological order, assigns
// global output slots, allocates the arena, constructs every node, and
// materializes each security's call list. It is the only way to produce
// a Graph.
func (r *GraphRegistrar) Build(securities *security.Map, calls []SignalCall) (*Graph, error) {
	if len(calls) > maxSignalInstances {
		return nil, &GraphError{Kind: TooManySignals, Count: len(calls), Limit: maxSignalInstances}
	}

	byName := make(map[string]*SignalCall, len(calls))
	for i := range calls {
		c := &calls[i]
		if _, dup := byName[c.Name]; dup {
			return nil, &GraphError{Kind: DuplicateSignalInstance, Instance: c.Name}
		}
		byName[c.Name] = c
	}

	defs := make(map[string]SignalDefinition, len(byName))
	for name, c := range byName {
		def, ok := r.definitions[c.Kind]
		if !ok {
			return nil, &GraphError{Kind: DefinitionNotFound, Instance: name, SignalKind: c.Kind}
		}
		defs[name] = def
	}

	if err := validateWiring(byName, defs, securities); err != nil {
		return nil, err
	}

	// Per-security reachability and topological order, computed once
	// and reused both for slot-assignment discovery order and for the
	// final call lists.
	secList := securities.All()
	perSecOrder := make([][]string, len(secList))
	for i, sec := range secList {
		order, err := securityCallOrder(sec, byName)
		if err != nil {
			return nil, err
		}
		perSecOrder[i] = order
	}

	outputSlot, instanceOutputs, nextSlot, err := assignSlots(byName, defs, perSecOrder)
	if err != nil {
		return nil, err
	}

	if err := checkParams(byName, defs); err != nil {
		return nil, err
	}

	m := NewMem(int(nextSlot), len(secList))

	secIndex := make(map[string]security.Index, len(secList))
	for _, sec := range secList {
		idx, _ := securities.ToIndex(sec)
		secIndex[sec.String()] = idx
	}

	aggregateMappingBuilder := make([]uint16, 0, 64)
	objects := make(map[string]NodeKind, len(byName))

	// Construction order: any order works as long as every input an
	// instance references already has its output slots assigned, which
	// assignSlots already guarantees globally. Instances are built in
	// the discovery order of the first security that reaches them,
	// falling back to unreached instances, so construction order lines
	// up with slot-assignment order for readability.
	buildOrder := discoveryOrder(byName, perSecOrder)
	for _, name := range buildOrder {
		call := byName[name]
		def := defs[name]

		hooks := make(OutputHooks, len(instanceOutputs[name]))
		for outName, slot := range instanceOutputs[name] {
			hooks[outName] = ConsumerOutput{which: slot}
		}

		loader, err := buildInputLoader(call, def, outputSlot, m, securities, secIndex, &aggregateMappingBuilder)
		if err != nil {
			return nil, err
		}

		node, err := def.Create(hooks, *loader, call.Params, name)
		if err != nil {
			return nil, &GraphError{Kind: NodeInitError, Instance: name, Wrapped: err}
		}
		objects[name] = node
	}

	m.aggregateMapping = aggregateMappingBuilder

	perSecurity := make([]*callList, len(secList))
	for i, order := range perSecOrder {
		if len(order) == 0 {
			continue
		}
		cl := &callList{}
		touchedWords := map[int]struct{}{}
		for _, name := range order {
			obj := objects[name]
			cl.calls = append(cl.calls, obj)
			if cleaner, ok := obj.(Cleanupable); ok {
				cl.cleanup = append(cl.cleanup, cleaner)
			}
			for _, slot := range instanceOutputs[name] {
				touchedWords[wordIndex(slot)] = struct{}{}
			}
		}
		words := make([]int, 0, len(touchedWords))
		for w := range touchedWords {
			words = append(words, w)
		}
		sort.Ints(words)
		cl.cleanWords = words
		perSecurity[i] = cl
	}

	return &Graph{
		mem:         m,
		perSecurity: perSecurity,
		securities:  securities,
		outputSlot:  outputSlot,
		objects:     objects,
	}, nil
}

// callList is one security's materialized walk: the nodes to call in
// topological order, the subset implementing Cleanupable, and the
// bitset word indices touched by any of this security's instances'
// outputs — cleared in bulk after every walk.
type callList struct {
	calls      []NodeKind
	cleanup    []Cleanupable
	cleanWords []int
}

// validateWiring checks every instance's declared inputs against its
// signal kind's schema: the input must be declared, must be given if
// required, must match the declared type, and (for Book inputs) must
// reference a security that exists.
func validateWiring(byName map[string]*SignalCall, defs map[string]SignalDefinition, securities *security.Map) error {
	for name, call := range byName {
		def := defs[name]
		for inName, wired := range call.Inputs {
			declaredType, exists := def.Schema.Inputs[inName]
			if !exists {
				return &GraphError{Kind: InputNotExist, Instance: name, Input: inName, SignalKind: call.Kind}
			}
			if declaredType != wired.Kind {
				return &GraphError{Kind: InputWrongType, Instance: name, Input: inName}
			}
			switch wired.Kind {
			case TypeBook:
				if _, ok := securities.ToIndex(wired.Book); !ok {
					return &GraphError{Kind: BookNotFound, Instance: name, Input: inName}
				}
			case TypeConsumer:
				if err := validateParentRef(name, inName, wired.ConsumerSignal, wired.ConsumerOutput, byName, defs); err != nil {
					return err
				}
			case TypeAggregate:
				if len(wired.AggregateMembers) == 0 {
					return &GraphError{Kind: AggregateNoInputs, Instance: name, Input: inName}
				}
				if len(wired.AggregateMembers) > MaxAggregateSize {
					return &GraphError{Kind: AggregateTooLarge, Instance: name, Input: inName, Count: len(wired.AggregateMembers), Limit: MaxAggregateSize}
				}
				for _, member := range wired.AggregateMembers {
					if err := validateParentRef(name, inName, member.Signal, member.Output, byName, defs); err != nil {
						return err
					}
				}
			}
		}
		for inName := range def.Schema.Inputs {
			if _, given := call.Inputs[inName]; !given {
				return &GraphError{Kind: InputNotGiven, Instance: name, Input: inName, SignalKind: call.Kind}
			}
		}
	}
	return nil
}

func validateParentRef(instance, input, parent, output string, byName map[string]*SignalCall, defs map[string]SignalDefinition) error {
	parentCall, ok := byName[parent]
	if !ok {
		return &GraphError{Kind: ParentNotFound, Instance: instance, Input: input, Parent: parent, Output: output}
	}
	parentDef := defs[parentCall.Name]
	for _, o := range parentDef.Schema.Outputs {
		if o == output {
			return nil
		}
	}
	return &GraphError{Kind: ParentNotFound, Instance: instance, Input: input, Parent: parent, Output: output}
}

func checkParams(byName map[string]*SignalCall, defs map[string]SignalDefinition) error {
	for name, call := range byName {
		def := defs[name]
		hasParams := len(call.Params) > 0
		if hasParams && !def.Params {
			return &GraphError{Kind: NodeGotParams, Instance: name, SignalKind: call.Kind}
		}
		if !hasParams && def.Params {
			return &GraphError{Kind: NodeNoParams, Instance: name, SignalKind: call.Kind}
		}
	}
	return nil
}

// discoveryOrder returns every instance name in the order it is first
// reached across securities (in security-index order, then each
// security's topological order), followed by any instance unreached from
// every security's book — sorted by name for determinism, since order
// among fully unreached instances has no behavioral meaning.
func discoveryOrder(byName map[string]*SignalCall, perSecOrder [][]string) []string {
	seen := make(map[string]struct{}, len(byName))
	var order []string
	for _, secOrder := range perSecOrder {
		for _, name := range secOrder {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				order = append(order, name)
			}
		}
	}
	var unreached []string
	for name := range byName {
		if _, ok := seen[name]; !ok {
			unreached = append(unreached, name)
		}
	}
	sort.Strings(unreached)
	order = append(order, unreached...)
	return order
}

// assignSlots walks instances in discovery order and assigns each of
// their declared outputs the next free global slot index. Returns the
// full (instance,output)->slot map, a per-instance outputs map for
// convenience, and the total slot count.
func assignSlots(byName map[string]*SignalCall, defs map[string]SignalDefinition, perSecOrder [][]string) (map[string]map[string]uint16, map[string]map[string]uint16, uint16, error) {
	order := discoveryOrder(byName, perSecOrder)

	outputSlot := make(map[string]map[string]uint16, len(byName))
	instanceOutputs := make(map[string]map[string]uint16, len(byName))
	var next uint32

	for _, name := range order {
		def := defs[name]
		outs := make(map[string]uint16, len(def.Schema.Outputs))
		for _, outName := range def.Schema.Outputs {
			if next >= 0xFFFF {
				return nil, nil, 0, fmt.Errorf("signalgraph: output slot space exhausted")
			}
			outs[outName] = uint16(next)
			next++
		}
		outputSlot[name] = outs
		instanceOutputs[name] = outs
	}

	return outputSlot, instanceOutputs, uint16(next), nil
}

// buildInputLoader resolves every declared input of call into its
// runtime handle, appending any Aggregate members into the shared
// mapping array being built for the whole graph.
func buildInputLoader(
	call *SignalCall,
	def SignalDefinition,
	outputSlot map[string]map[string]uint16,
	m *Mem,
	securities *security.Map,
	secIndex map[string]security.Index,
	aggregateMapping *[]uint16,
) (*InputLoader, error) {
	handles := make(map[string]any, len(call.Inputs))
	for inName, wired := range call.Inputs {
		switch wired.Kind {
		case TypeBook:
			idx, _ := securities.ToIndex(wired.Book)
			handles[inName] = BookViewer{b: m.books[idx]}
		case TypeConsumer:
			slot := outputSlot[wired.ConsumerSignal][wired.ConsumerOutput]
			handles[inName] = ConsumerInput{which: slot}
		case TypeAggregate:
			start := uint16(len(*aggregateMapping))
			for _, member := range wired.AggregateMembers {
				slot := outputSlot[member.Signal][member.Output]
				*aggregateMapping = append(*aggregateMapping, slot)
			}
			end := uint16(len(*aggregateMapping))
			handles[inName] = AggregateInput{start: start, end: end}
		}
	}
	return &InputLoader{handles: handles}, nil
}
