package signalgraph

import "fmt"

// ErrorKind discriminates the ways building or wiring a graph can fail.
// Every failure mode the builder can hit is represented here rather than
// as a generic error string, so callers (and tests) can match on Kind
// with errors.As instead of parsing messages.
type ErrorKind int

const (
	DuplicateSignalName ErrorKind = iota
	DuplicateSignalInstance
	DefinitionNotFound
	InputNotExist
	InputNotGiven
	InputWrongType
	BookNotFound
	ParentNotFound
	AggregateNoInputs
	AggregateTooLarge
	GraphCycle
	NodeGotParams
	NodeNoParams
	NodeInitError
	TooManySignals
)

func (k ErrorKind) String() string {
	switch k {
	case DuplicateSignalName:
		return "DuplicateSignalName"
	case DuplicateSignalInstance:
		return "DuplicateSignalInstance"
	case DefinitionNotFound:
		return "DefinitionNotFound"
	case InputNotExist:
		return "InputNotExist"
	case InputNotGiven:
		return "InputNotGiven"
	case InputWrongType:
		return "InputWrongType"
	case BookNotFound:
		return "BookNotFound"
	case ParentNotFound:
		return "ParentNotFound"
	case AggregateNoInputs:
		return "AggregateNoInputs"
	case AggregateTooLarge:
		return "AggregateTooLarge"
	case GraphCycle:
		return "GraphCycle"
	case NodeGotParams:
		return "NodeGotParams"
	case NodeNoParams:
		return "NodeNoParams"
	case NodeInitError:
		return "NodeInitError"
	case TooManySignals:
		return "TooManySignals"
	default:
		return "Unknown"
	}
}

// GraphError is the error type returned by every fallible step of the
// registrar and builder. The fields beyond Kind are filled in as
// available for the specific failure; unused fields are zero.
type GraphError struct {
	Kind ErrorKind

	SignalKind string // registrar catalog key, e.g. "ema"
	Instance   string // signal instance name
	Parent     string // referenced parent instance name
	Input      string // input name on Instance
	Output     string // output name on Parent
	Cycle      []string
	Count      int
	Limit      int
	Wrapped    error
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case DuplicateSignalName:
		return fmt.Sprintf("duplicate signal catalog name %q", e.SignalKind)
	case DuplicateSignalInstance:
		return fmt.Sprintf("duplicate signal instance %q", e.Instance)
	case DefinitionNotFound:
		return fmt.Sprintf("instance %q: no catalog definition for signal kind %q", e.Instance, e.SignalKind)
	case InputNotExist:
		return fmt.Sprintf("instance %q: input %q is not declared by signal kind %q", e.Instance, e.Input, e.SignalKind)
	case InputNotGiven:
		return fmt.Sprintf("instance %q: required input %q was not wired", e.Instance, e.Input)
	case InputWrongType:
		return fmt.Sprintf("instance %q: input %q has the wrong type", e.Instance, e.Input)
	case BookNotFound:
		return fmt.Sprintf("instance %q: input %q references a security not in the security map", e.Instance, e.Input)
	case ParentNotFound:
		return fmt.Sprintf("instance %q: input %q references %q.%q, which does not exist", e.Instance, e.Input, e.Parent, e.Output)
	case AggregateNoInputs:
		return fmt.Sprintf("instance %q: aggregate input %q has no members", e.Instance, e.Input)
	case AggregateTooLarge:
		return fmt.Sprintf("instance %q: aggregate input %q has %d members, limit is %d", e.Instance, e.Input, e.Count, e.Limit)
	case GraphCycle:
		return fmt.Sprintf("dependency cycle among signal instances: %v", e.Cycle)
	case NodeGotParams:
		return fmt.Sprintf("instance %q: params were given but signal kind %q takes none", e.Instance, e.SignalKind)
	case NodeNoParams:
		return fmt.Sprintf("instance %q: signal kind %q requires params but none were given", e.Instance, e.SignalKind)
	case NodeInitError:
		return fmt.Sprintf("instance %q: init failed: %v", e.Instance, e.Wrapped)
	case TooManySignals:
		return fmt.Sprintf("too many signal instances: %d exceeds limit of %d", e.Count, e.Limit)
	default:
		return fmt.Sprintf("graph error (%s)", e.Kind)
	}
}

func (e *GraphError) Unwrap() error { return e.Wrapped }
