package signals

import (
	"encoding/json"
	"fmt"

	"signalgraph-mm/internal/signalgraph"
)

// Ema smooths its input with an exponential moving average. The ratio
// itself ramps toward its target value rather than applying at full
// strength immediately, so a freshly built graph doesn't snap straight
// to the configured smoothing on its very first few updates.
type Ema struct {
	in  signalgraph.ConsumerInput
	out signalgraph.ConsumerOutput

	targetRatio float64
	curRatio    float64
}

// EmaParams is Ema's per-instance configuration.
type EmaParams struct {
	Ratio float64 `json:"ratio"`
}

// Call reads the input; if this is the first value ever seen it is
// written through unchanged, otherwise it's blended with the previous
// output at the current (ramping) ratio.
func (e *Ema) Call(m *signalgraph.Mem) {
	v, ok := e.in.Get(m)
	if !ok {
		return
	}
	prev, hadPrev := e.out.Get(m)
	if !hadPrev {
		e.out.Set(m, v)
		return
	}
	ratio := e.curRatio
	e.curRatio = 0.95*e.curRatio + 0.05*e.targetRatio
	e.out.Set(m, prev*(1-ratio)+ratio*v)
}

func EmaDefinition() signalgraph.SignalDefinition {
	return signalgraph.SignalDefinition{
		Schema: signalgraph.SignalSchema{
			Inputs:  map[string]signalgraph.SignalType{"input": signalgraph.TypeConsumer},
			Outputs: []string{"output"},
		},
		Params: true,
		Create: func(outputs signalgraph.OutputHooks, in signalgraph.InputLoader, paramsJSON json.RawMessage, name string) (signalgraph.NodeKind, error) {
			var p EmaParams
			if err := json.Unmarshal(paramsJSON, &p); err != nil {
				return nil, fmt.Errorf("signals: ema %s: %w", name, err)
			}
			return &Ema{
				in:          in.Consumer("input"),
				out:         outputs["output"],
				targetRatio: p.Ratio,
				curRatio:    0.5,
			}, nil
		},
	}
}
