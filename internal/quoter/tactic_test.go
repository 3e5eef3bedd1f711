package quoter

import (
	"context"
	"testing"
	"time"

	"signalgraph-mm/internal/catalog"
	"signalgraph-mm/internal/config"
	"signalgraph-mm/internal/risk"
	"signalgraph-mm/internal/security"
	"signalgraph-mm/internal/signalgraph"
	"signalgraph-mm/pkg/types"
)

var tacticTestSec = types.Security{Product: "BTC-USD", Exchange: "test"}

func buildTestGraph(t *testing.T) (*signalgraph.Graph, security.Index) {
	t.Helper()
	security.ResetForTesting()
	t.Cleanup(security.ResetForTesting)

	secs, err := security.Create([]types.Security{tacticTestSec})
	if err != nil {
		t.Fatalf("security.Create: %v", err)
	}
	g, err := catalog.Build(secs, catalog.DefaultParams())
	if err != nil {
		t.Fatalf("catalog.Build: %v", err)
	}
	idx, _ := secs.ToIndex(tacticTestSec)
	return g, idx
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerSecurity: 100000,
		MaxGlobalExposure:      500000,
		KillSwitchDropPct:      0.3,
		KillSwitchWindowSec:    60,
		MaxDailyLoss:           50000,
		CooldownAfterKill:      time.Minute,
	}
}

func testQuoterConfig() config.QuoterConfig {
	return config.QuoterConfig{
		SpreadBps:               20,
		OrderSizeUSD:            100,
		RefreshInterval:         50 * time.Millisecond,
		StaleBookTimeout:        time.Hour,
		FlowWindow:              60 * time.Second,
		FlowToxicityThreshold:   0.6,
		FlowCooldownPeriod:      120 * time.Second,
		FlowMaxSpreadMultiplier: 3.0,
	}
}

func newTestTactic(t *testing.T, g *signalgraph.Graph) *Tactic {
	t.Helper()
	gw := newDryRunClient()
	riskMgr := risk.NewManager(testRiskConfig(), testLogger())
	return NewTactic(testQuoterConfig(), testRiskConfig().MaxPositionPerSecurity, tacticTestSec, g, gw, riskMgr, nil, testLogger())
}

func TestComputeQuotesSymmetricAroundFairWithNoDivergence(t *testing.T) {
	g, idx := buildTestGraph(t)
	g.TriggerBook(idx, []types.MarketEvent{
		{Kind: types.EventBookLevel, Price: 10000, Side: types.Buy, Size: 5},
		{Kind: types.EventBookLevel, Price: 10010, Side: types.Sell, Size: 5},
	}, nil)

	tac := newTestTactic(t, g)
	fair, ok, err := g.LoadOutput(tac.fairInstance, "fair")
	if err != nil || !ok {
		t.Fatalf("fair value not available: ok=%v err=%v", ok, err)
	}

	bid, ask := tac.computeQuotes(fair, 0, tac.inv.Snapshot(), 10000)
	if bid == nil || ask == nil {
		t.Fatalf("expected both bid and ask, got bid=%v ask=%v", bid, ask)
	}
	if bid.Price >= ask.Price {
		t.Errorf("bid.Price (%d) >= ask.Price (%d)", bid.Price, ask.Price)
	}

	fairCents := types.PriceCents(fair * 100)
	mid := (bid.Price + ask.Price) / 2
	if absCents(mid-fairCents) > 2 {
		t.Errorf("quote midpoint %d far from fair value %d", mid, fairCents)
	}
}

func TestComputeQuotesSkewsReservationWithDivergence(t *testing.T) {
	g, idx := buildTestGraph(t)
	g.TriggerBook(idx, []types.MarketEvent{
		{Kind: types.EventBookLevel, Price: 10000, Side: types.Buy, Size: 5},
		{Kind: types.EventBookLevel, Price: 10010, Side: types.Sell, Size: 5},
	}, nil)

	tac := newTestTactic(t, g)
	fair, ok, err := g.LoadOutput(tac.fairInstance, "fair")
	if err != nil || !ok {
		t.Fatalf("fair value not available: ok=%v err=%v", ok, err)
	}

	flatBid, flatAsk := tac.computeQuotes(fair, 0, tac.inv.Snapshot(), 10000)
	richBid, richAsk := tac.computeQuotes(fair, 50, tac.inv.Snapshot(), 10000)

	flatMid := (flatBid.Price + flatAsk.Price) / 2
	richMid := (richBid.Price + richAsk.Price) / 2
	if richMid <= flatMid {
		t.Errorf("expected positive divergence to skew reservation up: flat mid=%d, rich mid=%d", flatMid, richMid)
	}
}

func TestComputeQuotesShrinksSizeWhenHeavilyPositioned(t *testing.T) {
	g, idx := buildTestGraph(t)
	g.TriggerBook(idx, []types.MarketEvent{
		{Kind: types.EventBookLevel, Price: 10000, Side: types.Buy, Size: 5},
		{Kind: types.EventBookLevel, Price: 10010, Side: types.Sell, Size: 5},
	}, nil)

	tac := newTestTactic(t, g)
	fair, _, _ := g.LoadOutput(tac.fairInstance, "fair")

	flatBid, _ := tac.computeQuotes(fair, 0, tac.inv.Snapshot(), 10000)

	tac.inv.OnFill(types.Fill{Security: tacticTestSec, Side: types.Buy, Price: types.PriceCents(fair * 100), Size: 900, Timestamp: time.Now()})
	longBid, _ := tac.computeQuotes(fair, 0, tac.inv.Snapshot(), 10000)

	if longBid.Size >= flatBid.Size {
		t.Errorf("expected smaller bid size when long, got flat=%f long=%f", flatBid.Size, longBid.Size)
	}
}

func TestReconcileOrdersPlacesBothSidesWhenEmpty(t *testing.T) {
	g, idx := buildTestGraph(t)
	g.TriggerBook(idx, []types.MarketEvent{
		{Kind: types.EventBookLevel, Price: 10000, Side: types.Buy, Size: 5},
		{Kind: types.EventBookLevel, Price: 10010, Side: types.Sell, Size: 5},
	}, nil)

	tac := newTestTactic(t, g)
	fair, _, _ := g.LoadOutput(tac.fairInstance, "fair")
	bid, ask := tac.computeQuotes(fair, 0, tac.inv.Snapshot(), 10000)

	if err := tac.reconcileOrders(context.Background(), bid, ask); err != nil {
		t.Fatalf("reconcileOrders: %v", err)
	}
	if len(tac.activeOrders) != 2 {
		t.Fatalf("expected 2 active orders, got %d", len(tac.activeOrders))
	}
}

func TestReconcileOrdersKeepsMatchingOrders(t *testing.T) {
	g, idx := buildTestGraph(t)
	g.TriggerBook(idx, []types.MarketEvent{
		{Kind: types.EventBookLevel, Price: 10000, Side: types.Buy, Size: 5},
		{Kind: types.EventBookLevel, Price: 10010, Side: types.Sell, Size: 5},
	}, nil)

	tac := newTestTactic(t, g)
	fair, _, _ := g.LoadOutput(tac.fairInstance, "fair")
	bid, ask := tac.computeQuotes(fair, 0, tac.inv.Snapshot(), 10000)

	if err := tac.reconcileOrders(context.Background(), bid, ask); err != nil {
		t.Fatalf("reconcileOrders: %v", err)
	}
	before := make(map[string]types.OpenOrder, len(tac.activeOrders))
	for id, o := range tac.activeOrders {
		before[id] = o
	}

	if err := tac.reconcileOrders(context.Background(), bid, ask); err != nil {
		t.Fatalf("reconcileOrders (2nd): %v", err)
	}
	if len(tac.activeOrders) != len(before) {
		t.Fatalf("expected reconcile to be a no-op for identical quotes, had %d now %d", len(before), len(tac.activeOrders))
	}
	for id := range before {
		if _, ok := tac.activeOrders[id]; !ok {
			t.Errorf("order %s was cancelled even though quotes didn't change", id)
		}
	}
}

func TestHandleFillUpdatesInventoryAndFillTracking(t *testing.T) {
	g, _ := buildTestGraph(t)
	tac := newTestTactic(t, g)

	tac.activeOrders["order-1"] = types.OpenOrder{OrderID: "order-1", Security: tacticTestSec, Side: types.Buy, Price: 5000, OriginalSize: 10}

	tac.handleFill(types.Fill{OrderID: "order-1", Security: tacticTestSec, Side: types.Buy, Price: 5000, Size: 4, Timestamp: time.Now()})

	pos := tac.inv.Snapshot()
	if pos.Qty != 4 {
		t.Errorf("pos.Qty = %v, want 4", pos.Qty)
	}
	if tac.activeOrders["order-1"].SizeFilled != 4 {
		t.Errorf("order SizeFilled = %v, want 4", tac.activeOrders["order-1"].SizeFilled)
	}
	if tac.flowTracker.GetFillCount() != 1 {
		t.Errorf("expected 1 tracked fill, got %d", tac.flowTracker.GetFillCount())
	}
}

func TestOnBookUpdateRecordsTimestamp(t *testing.T) {
	g, _ := buildTestGraph(t)
	tac := newTestTactic(t, g)

	now := time.Now()
	tac.OnBookUpdate(now)
	if !tac.lastBookUpdate.Equal(now) {
		t.Errorf("lastBookUpdate = %v, want %v", tac.lastBookUpdate, now)
	}
}
