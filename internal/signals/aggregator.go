package signals

import (
	"encoding/json"
	"fmt"

	"signalgraph-mm/internal/signalgraph"
)

// Aggregator combines the fair price reported by several venues into one
// size-weighted fair, the same shape as one venue's book feeding the
// composite but backed by many. fairs and sizes must be wired with the
// same members in the same order — position i of one is that venue's
// fair price, position i of the other its traded-size weight.
//
// Any member whose size is currently invalid or below minSize votes the
// whole aggregate invalid for this walk: a quiet venue shouldn't get
// silently dropped from the weighting, it should block the result until
// it's back.
type Aggregator struct {
	fairs signalgraph.AggregateInput
	sizes signalgraph.AggregateInput
	out   signalgraph.ConsumerOutput

	minSize float64
}

// AggregatorParams is Aggregator's per-instance configuration.
type AggregatorParams struct {
	MinSize float64 `json:"min_size"`
}

func (a *Aggregator) Call(m *signalgraph.Mem) {
	n := a.fairs.Len()
	var totalPrice, totalSize float64
	for i := 0; i < n; i++ {
		fair, fairOK := a.fairs.Get(i, m)
		size, sizeOK := a.sizes.Get(i, m)
		if !fairOK || !sizeOK || size < a.minSize {
			a.out.MarkInvalid(m)
			return
		}
		totalPrice += fair * size
		totalSize += size
	}
	if totalSize <= 0 {
		a.out.MarkInvalid(m)
		return
	}
	a.out.Set(m, totalPrice/totalSize)
}

func AggregatorDefinition() signalgraph.SignalDefinition {
	return signalgraph.SignalDefinition{
		Schema: signalgraph.SignalSchema{
			Inputs: map[string]signalgraph.SignalType{
				"fairs": signalgraph.TypeAggregate,
				"sizes": signalgraph.TypeAggregate,
			},
			Outputs: []string{"fair_price"},
		},
		Params: true,
		Create: func(outputs signalgraph.OutputHooks, in signalgraph.InputLoader, paramsJSON json.RawMessage, name string) (signalgraph.NodeKind, error) {
			var p AggregatorParams
			if err := json.Unmarshal(paramsJSON, &p); err != nil {
				return nil, fmt.Errorf("signals: aggregator %s: %w", name, err)
			}
			fairs := in.Aggregate("fairs")
			sizes := in.Aggregate("sizes")
			if fairs.Len() != sizes.Len() {
				return nil, fmt.Errorf("signals: aggregator %s: fairs and sizes must have the same member count, got %d and %d", name, fairs.Len(), sizes.Len())
			}
			return &Aggregator{fairs: fairs, sizes: sizes, out: outputs["fair_price"], minSize: p.MinSize}, nil
		},
	}
}
