package book

import (
	"testing"

	"signalgraph-mm/pkg/types"
)

func level(price int64, side types.Side, size float64) types.MarketEvent {
	return types.MarketEvent{Kind: types.EventBookLevel, Price: types.PriceCents(price), Side: side, Size: size}
}

func TestBookBBOUpdatesOnUpsert(t *testing.T) {
	t.Parallel()

	b := New()
	b.Apply([]types.MarketEvent{
		level(100, types.Buy, 5),
		level(99, types.Buy, 3),
		level(101, types.Sell, 4),
		level(102, types.Sell, 1),
	})

	bbo := b.Bbo()
	if !bbo.HasBid || bbo.BidPrice != 100 || bbo.BidSize != 5 {
		t.Errorf("bid BBO = %+v, want price 100 size 5", bbo)
	}
	if !bbo.HasAsk || bbo.AskPrice != 101 || bbo.AskSize != 4 {
		t.Errorf("ask BBO = %+v, want price 101 size 4", bbo)
	}
}

func TestBookDeleteRemovesLevelAndUpdatesBBO(t *testing.T) {
	t.Parallel()

	b := New()
	b.Apply([]types.MarketEvent{
		level(100, types.Buy, 5),
		level(99, types.Buy, 3),
	})
	b.Apply([]types.MarketEvent{level(100, types.Buy, 0)})

	bbo := b.Bbo()
	if !bbo.HasBid || bbo.BidPrice != 99 {
		t.Errorf("after deleting best bid, BBO = %+v, want price 99", bbo)
	}
	if b.BidDepth() != 1 {
		t.Errorf("BidDepth() = %d, want 1", b.BidDepth())
	}
}

func TestBookDeleteNonexistentLevelPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic deleting a level that was never added")
		}
	}()

	b := New()
	b.Apply([]types.MarketEvent{level(100, types.Buy, 0)})
}

func TestBookClearEmptiesBothSides(t *testing.T) {
	t.Parallel()

	b := New()
	b.Apply([]types.MarketEvent{
		level(100, types.Buy, 5),
		level(101, types.Sell, 4),
		{Kind: types.EventClear},
	})

	bbo := b.Bbo()
	if bbo.HasBid || bbo.HasAsk {
		t.Errorf("BBO after clear = %+v, want empty", bbo)
	}
}

func TestAscendOrdering(t *testing.T) {
	t.Parallel()

	b := New()
	b.Apply([]types.MarketEvent{
		level(100, types.Buy, 1),
		level(98, types.Buy, 1),
		level(99, types.Buy, 1),
	})

	var prices []types.PriceCents
	b.AscendBids(func(price types.PriceCents, size float64) bool {
		prices = append(prices, price)
		return true
	})
	want := []types.PriceCents{100, 99, 98}
	if len(prices) != len(want) {
		t.Fatalf("got %v, want %v", prices, want)
	}
	for i := range want {
		if prices[i] != want[i] {
			t.Errorf("prices[%d] = %d, want %d", i, prices[i], want[i])
		}
	}
}

func TestAskDepthAndStopEarly(t *testing.T) {
	t.Parallel()

	b := New()
	b.Apply([]types.MarketEvent{
		level(101, types.Sell, 1),
		level(102, types.Sell, 1),
		level(103, types.Sell, 1),
	})
	if b.AskDepth() != 3 {
		t.Fatalf("AskDepth() = %d, want 3", b.AskDepth())
	}

	var seen int
	b.AscendAsks(func(price types.PriceCents, size float64) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Errorf("AscendAsks stopped after %d calls, want 2", seen)
	}
}
