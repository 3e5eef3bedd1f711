package signals

import (
	"encoding/json"

	"signalgraph-mm/internal/signalgraph"
)

// Premium compares two EMA'd fair prices — typically a fast and a slow
// smoothing of the same underlying, or the same smoothing run on two
// different securities — and reports their difference. It only
// produces a value when both inputs are currently valid.
type Premium struct {
	in1 signalgraph.ConsumerInput
	in2 signalgraph.ConsumerInput
	out signalgraph.ConsumerOutput
}

func (p *Premium) Call(m *signalgraph.Mem) {
	a, b, ok := p.in1.And(p.in2, m)
	p.out.SetFrom(m, a-b, ok)
}

func PremiumDefinition() signalgraph.SignalDefinition {
	return signalgraph.SignalDefinition{
		Schema: signalgraph.SignalSchema{
			Inputs: map[string]signalgraph.SignalType{
				"in1": signalgraph.TypeConsumer,
				"in2": signalgraph.TypeConsumer,
			},
			Outputs: []string{"out"},
		},
		Create: func(outputs signalgraph.OutputHooks, in signalgraph.InputLoader, paramsJSON json.RawMessage, name string) (signalgraph.NodeKind, error) {
			return &Premium{
				in1: in.Consumer("in1"),
				in2: in.Consumer("in2"),
				out: outputs["out"],
			}, nil
		},
	}
}
