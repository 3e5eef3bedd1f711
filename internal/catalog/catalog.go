// Package catalog wires the default signal graph layout: one book-fair
// signal per security, a slow EMA of its size and a fast/slow pair of
// EMAs of its fair price, the premium between that pair, and a single
// cross-security aggregator reading every security's premium weighted
// by its slow size EMA.
package catalog

import (
	"encoding/json"
	"fmt"

	"signalgraph-mm/internal/security"
	"signalgraph-mm/internal/signalgraph"
	"signalgraph-mm/internal/signals"
	"signalgraph-mm/pkg/types"
)

// Params configures the default layout's per-signal parameters. Same
// shape for every security; a future revision could key these by
// security if a market needs bespoke tuning.
type Params struct {
	FairValue signals.FairValueParams
	SizeEma   signals.EmaParams
	FastEma   signals.EmaParams
	SlowEma   signals.EmaParams
	MinSize   float64
}

// DefaultParams mirrors the reference tuning: fast fair EMA at 0.07,
// slow at 0.01, a slow size EMA at 0.001 to smooth out venue-to-venue
// bursts, and fair-value scoring out to $10 over 10 levels.
func DefaultParams() Params {
	return Params{
		FairValue: signals.FairValueParams{Denom: 1.0, Offset: 0.1, DollarsOut: 10, LevelsOut: 10},
		SizeEma:   signals.EmaParams{Ratio: 0.001},
		FastEma:   signals.EmaParams{Ratio: 0.07},
		SlowEma:   signals.EmaParams{Ratio: 0.01},
		MinSize:   10,
	}
}

// Registrar builds the catalog registrar. It never fails in practice —
// the built-in signal kinds never collide on name — but returns the
// error anyway since NewGraphRegistrar does.
func Registrar() (*signalgraph.GraphRegistrar, error) {
	return signalgraph.NewGraphRegistrar(signals.Definitions())
}

// AggregateInstance is the fixed name of the single shared cross-security
// aggregator instance every default layout builds.
const AggregateInstance = "aggregate"

func bookSignalName(sec types.Security) string {
	return fmt.Sprintf("book_%s_%s", sec.Exchange, sec.Product)
}

func emaSignalName(sec types.Security, which, speed string) string {
	return fmt.Sprintf("ema_%s_%s_%s", which, speed, bookSignalName(sec))
}

func premiumSignalName(sec types.Security) string {
	return fmt.Sprintf("premium_%s", bookSignalName(sec))
}

// BookSignalName returns the fair_value instance name for sec, for
// callers (e.g. the quoter) that need to read its "fair"/"size" outputs
// from outside this package.
func BookSignalName(sec types.Security) string { return bookSignalName(sec) }

// PremiumSignalName returns sec's premium instance name, for callers that
// need to compare one security's premium against the aggregate.
func PremiumSignalName(sec types.Security) string { return premiumSignalName(sec) }

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("catalog: unmarshalable params: %v", err))
	}
	return b
}

func consumer(signal, output string) signalgraph.NamedSignalType {
	return signalgraph.NamedSignalType{Kind: signalgraph.TypeConsumer, ConsumerSignal: signal, ConsumerOutput: output}
}

func bookInput(sec types.Security) signalgraph.NamedSignalType {
	return signalgraph.NamedSignalType{Kind: signalgraph.TypeBook, Book: sec}
}

// BuildCalls returns the full set of SignalCall instances for securities
// under p: one book_fair instance per security plus its size/fast/slow
// EMAs and premium, and one shared cross-security aggregator.
func BuildCalls(securities []types.Security, p Params) []signalgraph.SignalCall {
	calls := make([]signalgraph.SignalCall, 0, len(securities)*5+1)

	for _, sec := range securities {
		calls = append(calls, signalgraph.SignalCall{
			Name:   bookSignalName(sec),
			Kind:   "fair_value",
			Inputs: map[string]signalgraph.NamedSignalType{"book": bookInput(sec)},
			Params: mustJSON(p.FairValue),
		})
	}

	for _, sec := range securities {
		calls = append(calls, signalgraph.SignalCall{
			Name:   emaSignalName(sec, "size", "slow"),
			Kind:   "ema",
			Inputs: map[string]signalgraph.NamedSignalType{"input": consumer(bookSignalName(sec), "size")},
			Params: mustJSON(p.SizeEma),
		})
	}

	for _, sec := range securities {
		calls = append(calls, signalgraph.SignalCall{
			Name:   emaSignalName(sec, "fair", "fast"),
			Kind:   "ema",
			Inputs: map[string]signalgraph.NamedSignalType{"input": consumer(bookSignalName(sec), "fair")},
			Params: mustJSON(p.FastEma),
		})
	}

	for _, sec := range securities {
		calls = append(calls, signalgraph.SignalCall{
			Name:   emaSignalName(sec, "fair", "slow"),
			Kind:   "ema",
			Inputs: map[string]signalgraph.NamedSignalType{"input": consumer(bookSignalName(sec), "fair")},
			Params: mustJSON(p.SlowEma),
		})
	}

	for _, sec := range securities {
		calls = append(calls, signalgraph.SignalCall{
			Name: premiumSignalName(sec),
			Kind: "premium",
			Inputs: map[string]signalgraph.NamedSignalType{
				"in1": consumer(emaSignalName(sec, "fair", "fast"), "output"),
				"in2": consumer(emaSignalName(sec, "fair", "slow"), "output"),
			},
		})
	}

	fairMids := make([]signalgraph.AggregateMember, len(securities))
	fairSizes := make([]signalgraph.AggregateMember, len(securities))
	for i, sec := range securities {
		fairMids[i] = signalgraph.AggregateMember{Signal: premiumSignalName(sec), Output: "out"}
		fairSizes[i] = signalgraph.AggregateMember{Signal: emaSignalName(sec, "size", "slow"), Output: "output"}
	}
	calls = append(calls, signalgraph.SignalCall{
		Name: "aggregate",
		Kind: "aggregator",
		Inputs: map[string]signalgraph.NamedSignalType{
			"fairs": {Kind: signalgraph.TypeAggregate, AggregateMembers: fairMids},
			"sizes": {Kind: signalgraph.TypeAggregate, AggregateMembers: fairSizes},
		},
		Params: mustJSON(signals.AggregatorParams{MinSize: p.MinSize}),
	})

	return calls
}

// Build constructs the registrar and the full default graph in one call
// against securities, which must already hold every security named in
// calls.
func Build(securities *security.Map, p Params) (*signalgraph.Graph, error) {
	reg, err := Registrar()
	if err != nil {
		return nil, err
	}
	calls := BuildCalls(securities.All(), p)
	return reg.Build(securities, calls)
}
