// Package book maintains a single security's order book as a pair of
// price ladders, and applies the MarketEvent stream the signal graph
// engine drives its walks from.
package book

import (
	"signalgraph-mm/pkg/types"
)

// Book is one security's order book: a descending bid ladder and an
// ascending ask ladder, each keyed by integer cents.
type Book struct {
	bids *ladder
	asks *ladder
}

// New creates an empty book.
func New() *Book {
	return &Book{
		bids: newLadder(true),
		asks: newLadder(false),
	}
}

// Apply applies every event in events in order. A MarketEventBlock from
// one inbound exchange message is applied atomically from the graph
// loop's point of view: all its levels land before the next graph walk
// for this security runs.
func (b *Book) Apply(events []types.MarketEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case types.EventClear:
			b.bids.Clear()
			b.asks.Clear()
		case types.EventBookLevel:
			b.applyLevel(ev)
		}
	}
}

func (b *Book) applyLevel(ev types.MarketEvent) {
	l := b.ladderFor(ev.Side)
	price := int64(ev.Price)
	if ev.Size == 0 {
		l.Delete(price)
		return
	}
	l.Upsert(price, ev.Size)
}

func (b *Book) ladderFor(side types.Side) *ladder {
	if side == types.Buy {
		return b.bids
	}
	return b.asks
}

// BBO is a best-bid/best-offer snapshot.
type BBO struct {
	BidPrice types.PriceCents
	BidSize  float64
	HasBid   bool
	AskPrice types.PriceCents
	AskSize  float64
	HasAsk   bool
}

// Bbo returns the current best bid and ask, each O(1).
func (b *Book) Bbo() BBO {
	var out BBO
	if price, size, ok := b.bids.Best(); ok {
		out.BidPrice = types.PriceCents(price)
		out.BidSize = size
		out.HasBid = true
	}
	if price, size, ok := b.asks.Best(); ok {
		out.AskPrice = types.PriceCents(price)
		out.AskSize = size
		out.HasAsk = true
	}
	return out
}

// AscendBids walks the bid side from the best price downward.
func (b *Book) AscendBids(fn func(price types.PriceCents, size float64) bool) {
	b.bids.Descend(func(price int64, size float64) bool {
		return fn(types.PriceCents(price), size)
	})
}

// AscendAsks walks the ask side from the best price upward.
func (b *Book) AscendAsks(fn func(price types.PriceCents, size float64) bool) {
	b.asks.Ascend(func(price int64, size float64) bool {
		return fn(types.PriceCents(price), size)
	})
}

// BidDepth returns the number of distinct bid price levels.
func (b *Book) BidDepth() int { return b.bids.Len() }

// AskDepth returns the number of distinct ask price levels.
func (b *Book) AskDepth() int { return b.asks.Len() }
