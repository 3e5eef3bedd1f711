package signalgraph

import (
	"encoding/json"

	"signalgraph-mm/pkg/types"
)

// SignalType discriminates the kinds of input a signal can declare.
type SignalType int

const (
	// TypeBook subscribes directly to a security's order book.
	TypeBook SignalType = iota
	// TypeConsumer reads a single named output of another instance.
	TypeConsumer
	// TypeAggregate fans in a bounded set of named outputs, possibly
	// from instances attached to different securities.
	TypeAggregate
)

// NodeKind is implemented by every constructed signal node. Call is
// invoked once per graph walk that reaches the node, in topological
// order.
type NodeKind interface {
	Call(m *Mem)
}

// Cleanupable is optionally implemented by a NodeKind that needs to run
// logic after a walk's observer callback but before the written bitset
// is cleared for the next walk (e.g. releasing a per-walk scratch
// buffer). Most signal kinds don't need this.
type Cleanupable interface {
	Cleanup(m *Mem)
}

// OutputHooks hands a signal's Create function a ConsumerOutput for each
// output name the signal kind declares, keyed by that name.
type OutputHooks map[string]ConsumerOutput

// InputLoader hands a signal's Create function the resolved handle for
// each input name the signal kind declares. Handles are stored as `any`
// because ConsumerInput/AggregateInput/BookViewer are structurally
// distinct; Create type-asserts to the type its schema promised for that
// input name.
type InputLoader struct {
	handles map[string]any
}

// Consumer loads a Consumer-typed input. Panics if name was not declared
// as a Consumer input in the signal's schema — that mismatch is a
// builder bug, not a wiring error, since InputWrongType is checked
// before Create ever runs.
func (l InputLoader) Consumer(name string) ConsumerInput {
	return l.handles[name].(ConsumerInput)
}

// Aggregate loads an Aggregate-typed input.
func (l InputLoader) Aggregate(name string) AggregateInput {
	return l.handles[name].(AggregateInput)
}

// Book loads a Book-typed input.
func (l InputLoader) Book(name string) BookViewer {
	return l.handles[name].(BookViewer)
}

// SignalSchema is the declared shape of a signal kind: which named
// inputs it requires (and their types) and which named outputs it
// produces.
type SignalSchema struct {
	Inputs  map[string]SignalType
	Outputs []string
}

// CreateFunc constructs one instance of a signal kind. instanceName is
// passed through for diagnostics; paramsJSON is the raw per-instance
// parameter blob (nil if the signal kind takes no params).
type CreateFunc func(outputs OutputHooks, inputs InputLoader, paramsJSON json.RawMessage, instanceName string) (NodeKind, error)

// SignalDefinition is a catalog entry: a signal kind's schema, whether it
// takes per-instance params, and how to construct it.
type SignalDefinition struct {
	Schema SignalSchema
	Params bool
	Create CreateFunc
}

// NamedDefinition pairs a catalog key with its definition, the unit
// NewGraphRegistrar is built from.
type NamedDefinition struct {
	Name string
	Def  SignalDefinition
}

// GraphRegistrar is the catalog of signal kinds available to build
// graphs from. It is built once at process start and is immutable
// afterward.
type GraphRegistrar struct {
	definitions map[string]SignalDefinition
}

// NewGraphRegistrar builds a registrar from defs, failing if two entries
// share a catalog name.
func NewGraphRegistrar(defs []NamedDefinition) (*GraphRegistrar, error) {
	m := make(map[string]SignalDefinition, len(defs))
	for _, d := range defs {
		if _, dup := m[d.Name]; dup {
			return nil, &GraphError{Kind: DuplicateSignalName, SignalKind: d.Name}
		}
		m[d.Name] = d.Def
	}
	return &GraphRegistrar{definitions: m}, nil
}

// AggregateMember names one (instance, output) pair fanned into an
// Aggregate input.
type AggregateMember struct {
	Signal string
	Output string
}

// NamedSignalType is how a SignalCall wires one of its declared inputs:
// to a security's book, to another instance's single output, or to a
// bounded set of other instances' outputs.
type NamedSignalType struct {
	Kind SignalType

	Book types.Security // Kind == TypeBook

	ConsumerSignal string // Kind == TypeConsumer
	ConsumerOutput string // Kind == TypeConsumer

	AggregateMembers []AggregateMember // Kind == TypeAggregate
}

// SignalCall is one instantiation of a catalog signal kind: a unique
// instance name, which catalog kind to build, how its declared inputs
// are wired, and its raw per-instance params.
type SignalCall struct {
	Name   string
	Kind   string
	Inputs map[string]NamedSignalType
	Params json.RawMessage
}
