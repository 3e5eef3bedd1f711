// Package signals is the catalog of concrete signal kinds wired into a
// signal graph: per-security fair value and EMA smoothing, and the
// cross-security premium and size-weighted aggregator that compare one
// venue against the rest.
package signals

import (
	"encoding/json"
	"fmt"

	"signalgraph-mm/internal/signalgraph"
	"signalgraph-mm/pkg/types"
)

// FairValue computes a depth-weighted fair price off a single security's
// book: each level on a side scores by distance from that same side's
// best price, levels are weighted by score*size, and the two sides'
// weighted midpoints are combined by their total weighted size.
type FairValue struct {
	book    signalgraph.BookViewer
	fairOut signalgraph.ConsumerOutput
	sizeOut signalgraph.ConsumerOutput

	denom      float64
	offset     float64
	dollarsOut float64
	levelsOut  int
}

// FairValueParams is FairValue's per-instance configuration.
type FairValueParams struct {
	Denom      float64 `json:"denom"`
	Offset     float64 `json:"offset"`
	DollarsOut float64 `json:"dollars_out"`
	LevelsOut  int     `json:"levels_out"`
}

func (p FairValueParams) validate() error {
	if p.Denom <= 0 {
		return fmt.Errorf("signals: fair_value denom must be > 0")
	}
	if p.Offset < 0 {
		return fmt.Errorf("signals: fair_value offset must be >= 0")
	}
	if p.DollarsOut <= 0 {
		return fmt.Errorf("signals: fair_value dollars_out must be > 0")
	}
	if p.LevelsOut <= 0 {
		return fmt.Errorf("signals: fair_value levels_out must be > 0")
	}
	return nil
}

func (f *FairValue) score(distance float64) float64 {
	return f.offset + 1.0/(1.0+f.denom*distance*distance)
}

// Call recomputes the fair price from the current book state. Both sides
// must contribute at least one scored level or the output is left
// unwritten for this walk (an empty or one-sided book has no fair
// value).
func (f *FairValue) Call(m *signalgraph.Mem) {
	bbo := f.book.Bbo()
	if !bbo.HasBid || !bbo.HasAsk {
		return
	}
	bestBid := centsToDollars(bbo.BidPrice)
	bestAsk := centsToDollars(bbo.AskPrice)

	var bidPrice, bidShares float64
	bidCount := 0
	f.book.AscendBids(func(price types.PriceCents, size float64) bool {
		prc := centsToDollars(price)
		distance := bestBid - prc
		if bidCount >= f.levelsOut || distance > f.dollarsOut {
			return false
		}
		bidCount++
		weight := f.score(distance) * size
		bidPrice += prc * weight
		bidShares += weight
		return true
	})

	var askPrice, askShares float64
	askCount := 0
	f.book.AscendAsks(func(price types.PriceCents, size float64) bool {
		prc := centsToDollars(price)
		distance := prc - bestAsk
		if askCount >= f.levelsOut || distance > f.dollarsOut {
			return false
		}
		askCount++
		weight := f.score(distance) * size
		askPrice += prc * weight
		askShares += weight
		return true
	})

	if bidShares <= 0 || askShares <= 0 {
		return
	}

	bidPrice /= bidShares
	askPrice /= askShares

	fair := (bidPrice*askShares + askPrice*bidShares) / (askShares + bidShares)
	f.fairOut.Set(m, fair)
	f.sizeOut.Set(m, askShares+bidShares)
}

func centsToDollars(cents types.PriceCents) float64 { return float64(cents) * 0.01 }

func FairValueDefinition() signalgraph.SignalDefinition {
	return signalgraph.SignalDefinition{
		Schema: signalgraph.SignalSchema{
			Inputs:  map[string]signalgraph.SignalType{"book": signalgraph.TypeBook},
			Outputs: []string{"fair", "size"},
		},
		Params: true,
		Create: func(outputs signalgraph.OutputHooks, in signalgraph.InputLoader, paramsJSON json.RawMessage, name string) (signalgraph.NodeKind, error) {
			var p FairValueParams
			if err := json.Unmarshal(paramsJSON, &p); err != nil {
				return nil, fmt.Errorf("signals: fair_value %s: %w", name, err)
			}
			if err := p.validate(); err != nil {
				return nil, fmt.Errorf("signals: fair_value %s: %w", name, err)
			}
			return &FairValue{
				book:       in.Book("book"),
				fairOut:    outputs["fair"],
				sizeOut:    outputs["size"],
				denom:      p.Denom,
				offset:     p.Offset,
				dollarsOut: p.DollarsOut,
				levelsOut:  p.LevelsOut,
			}, nil
		},
	}
}
