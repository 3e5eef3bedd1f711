package signals

import (
	"encoding/json"
	"testing"

	"signalgraph-mm/internal/security"
	"signalgraph-mm/internal/signalgraph"
	"signalgraph-mm/pkg/types"
)

// buildFeederGraph wires a passthrough book signal (bid price straight
// through) into under_test's "input", so numeric traces can be driven by
// feeding book levels.
func buildFeederGraph(t *testing.T, def signalgraph.SignalDefinition, params json.RawMessage) (*signalgraph.Graph, types.Security) {
	t.Helper()
	security.ResetForTesting()
	t.Cleanup(security.ResetForTesting)

	secs, err := security.Create([]types.Security{{Product: "BTC-USD", Exchange: "test"}})
	if err != nil {
		t.Fatalf("security.Create: %v", err)
	}
	sec := secs.All()[0]

	reg, err := signalgraph.NewGraphRegistrar([]signalgraph.NamedDefinition{
		{Name: "feed", Def: feedDefinition()},
		{Name: "under_test", Def: def},
	})
	if err != nil {
		t.Fatalf("NewGraphRegistrar: %v", err)
	}

	g, err := reg.Build(secs, []signalgraph.SignalCall{
		{Name: "fair", Kind: "feed", Inputs: map[string]signalgraph.NamedSignalType{"book": {Kind: signalgraph.TypeBook, Book: sec}}},
		{
			Name: "smoothed",
			Kind: "under_test",
			Inputs: map[string]signalgraph.NamedSignalType{
				"input": {Kind: signalgraph.TypeConsumer, ConsumerSignal: "fair", ConsumerOutput: "output"},
			},
			Params: params,
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g, sec
}

// feedDefinition is a minimal book->output passthrough, local to this
// test file so it doesn't need to import signalgraph's own internal
// test fixtures.
type feed struct {
	book signalgraph.BookViewer
	out  signalgraph.ConsumerOutput
}

func (f *feed) Call(m *signalgraph.Mem) {
	bbo := f.book.Bbo()
	if bbo.HasBid {
		f.out.Set(m, float64(bbo.BidPrice))
	}
}

func feedDefinition() signalgraph.SignalDefinition {
	return signalgraph.SignalDefinition{
		Schema: signalgraph.SignalSchema{
			Inputs:  map[string]signalgraph.SignalType{"book": signalgraph.TypeBook},
			Outputs: []string{"output"},
		},
		Create: func(outputs signalgraph.OutputHooks, in signalgraph.InputLoader, paramsJSON json.RawMessage, name string) (signalgraph.NodeKind, error) {
			return &feed{book: in.Book("book"), out: outputs["output"]}, nil
		},
	}
}

func TestEmaFirstValuePassesThroughUnchanged(t *testing.T) {
	params, _ := json.Marshal(EmaParams{Ratio: 0.5})
	g, sec := buildFeederGraph(t, EmaDefinition(), params)
	idx, _ := g.Securities().ToIndex(sec)

	g.TriggerBook(idx, []types.MarketEvent{{Kind: types.EventBookLevel, Price: 10, Side: types.Buy, Size: 1}}, nil)
	v, valid, err := g.LoadOutput("smoothed", "output")
	if err != nil {
		t.Fatalf("LoadOutput: %v", err)
	}
	if !valid || v != 10 {
		t.Fatalf("first value = (%v, %v), want (10, true)", v, valid)
	}
}

func TestEmaRatioRampsTowardTarget(t *testing.T) {
	params, _ := json.Marshal(EmaParams{Ratio: 0.1})
	g, sec := buildFeederGraph(t, EmaDefinition(), params)
	idx, _ := g.Securities().ToIndex(sec)

	feed := func(price int64) float64 {
		g.TriggerBook(idx, []types.MarketEvent{{Kind: types.EventBookLevel, Price: types.PriceCents(price), Side: types.Buy, Size: 1}}, nil)
		v, _, err := g.LoadOutput("smoothed", "output")
		if err != nil {
			t.Fatalf("LoadOutput: %v", err)
		}
		return v
	}

	// starts with cur_ratio=0.5 (full step toward 100 from 10 -> 55),
	// then cur_ratio ramps down toward the configured 0.1 on later steps.
	first := feed(10)
	second := feed(100)
	if first != 10 {
		t.Fatalf("first = %v, want 10", first)
	}
	if second != 55 {
		t.Fatalf("second = %v, want 55 (cur_ratio starts at 0.5)", second)
	}

	third := feed(100)
	if third <= second {
		t.Fatalf("third (%v) should keep moving toward 100 from second (%v)", third, second)
	}
	if third-second >= second-first {
		t.Fatalf("ratio should be ramping down, but step %v >= previous step %v", third-second, second-first)
	}
}
