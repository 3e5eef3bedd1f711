// tactic.go implements the fair-value-relative quoting tactic: it reads
// the signal graph's fair value and cross-security premium outputs for
// one security, turns them into a bid/ask pair, and reconciles that pair
// against resting orders.
//
// Per-tick flow (every RefreshInterval):
//  1. Check book staleness and risk limits.
//  2. Read fair value and the premium/aggregate divergence from the graph.
//  3. Compute reservation price and required edge.
//  4. Derive bid/ask, clamped and rounded to whole cents.
//  5. Reconcile: cancel stale orders, place new ones.
package quoter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"signalgraph-mm/internal/catalog"
	"signalgraph-mm/internal/config"
	"signalgraph-mm/internal/inventory"
	"signalgraph-mm/internal/risk"
	"signalgraph-mm/internal/signalgraph"
	"signalgraph-mm/internal/store"
	"signalgraph-mm/pkg/types"
)

// Required edge, expressed as a fraction of price: a quote only earns
// its keep once it clears trading fees plus a minimum profit margin.
const (
	requiredProfitFrac   = 0.0002
	requiredFeeFrac      = 0.0003
	imbalanceAdjustFactor = 0.2
)

// Tactic runs the quoting loop for a single security. It maintains its
// own map of outstanding orders and reconciles them each tick.
type Tactic struct {
	cfg                    config.QuoterConfig
	maxPositionPerSecurity float64

	sec             types.Security
	fairInstance    string
	premiumInstance string

	graph   *signalgraph.Graph
	inv     *inventory.Book
	gateway *Client
	riskMgr *risk.Manager
	store   *store.Store

	flowTracker *FlowTracker

	activeOrders   map[string]types.OpenOrder
	lastBookUpdate time.Time
	lastFair       float64
	lastDivergence float64

	logger *slog.Logger
}

// NewTactic creates a quoting tactic for sec. If st is non-nil, any
// previously persisted position is restored immediately.
func NewTactic(
	cfg config.QuoterConfig,
	maxPositionPerSecurity float64,
	sec types.Security,
	graph *signalgraph.Graph,
	gateway *Client,
	riskMgr *risk.Manager,
	st *store.Store,
	logger *slog.Logger,
) *Tactic {
	inv := inventory.New(sec)
	log := logger.With("component", "quoter_tactic", "security", sec)

	if st != nil {
		pos, err := st.LoadPosition(sec)
		if err != nil {
			log.Error("load position failed", "error", err)
		} else if pos != nil {
			inv.SetPosition(*pos)
			log.Info("restored position", "qty", pos.Qty, "avg_entry", pos.AvgEntry)
		}
	}

	return &Tactic{
		cfg:                    cfg,
		maxPositionPerSecurity: maxPositionPerSecurity,
		sec:                    sec,
		fairInstance:           catalog.BookSignalName(sec),
		premiumInstance:        catalog.PremiumSignalName(sec),
		graph:                  graph,
		inv:                    inv,
		gateway:                gateway,
		riskMgr:                riskMgr,
		store:                  st,
		flowTracker:            NewFlowTracker(cfg.FlowWindow, cfg.FlowToxicityThreshold, cfg.FlowCooldownPeriod, cfg.FlowMaxSpreadMultiplier),
		activeOrders:           make(map[string]types.OpenOrder),
		logger:                 log,
	}
}

// OnBookUpdate records that sec's book moved at t. Wired as the observer
// callback passed to Graph.TriggerBook so the tactic's staleness check
// reflects the graph's own notion of "this security just updated",
// rather than a separate timestamp the quoter tracks on its own.
func (t *Tactic) OnBookUpdate(tm time.Time) {
	t.lastBookUpdate = tm
}

// Run is the tactic's main loop for this security. Blocks until ctx is cancelled.
func (t *Tactic) Run(ctx context.Context, fills <-chan types.Fill) {
	ticker := time.NewTicker(t.cfg.RefreshInterval)
	defer ticker.Stop()

	t.logger.Info("quoting tactic started", "order_size_usd", t.cfg.OrderSizeUSD)

	for {
		select {
		case <-ctx.Done():
			t.cancelAll(context.Background())
			t.logger.Info("quoting tactic stopped")
			return

		case fill := <-fills:
			t.handleFill(fill)

		case <-ticker.C:
			t.quoteUpdate(ctx)
		}
	}
}

func (t *Tactic) quoteUpdate(ctx context.Context) {
	if t.cfg.StaleBookTimeout > 0 && !t.lastBookUpdate.IsZero() && time.Since(t.lastBookUpdate) > t.cfg.StaleBookTimeout {
		t.logger.Warn("book is stale, cancelling all orders")
		t.cancelAll(ctx)
		return
	}

	fair, ok, err := t.graph.LoadOutput(t.fairInstance, "fair")
	if err != nil {
		t.logger.Error("load fair value failed", "error", err)
		return
	}
	if !ok || fair <= 0 {
		t.logger.Debug("no fair value available yet")
		return
	}

	ownPremium, ownOK, _ := t.graph.LoadOutput(t.premiumInstance, "out")
	aggPremium, aggOK, _ := t.graph.LoadOutput(catalog.AggregateInstance, "fair_price")
	var divergence float64
	if ownOK && aggOK {
		divergence = ownPremium - aggPremium
	}
	t.lastFair = fair
	t.lastDivergence = divergence

	t.inv.UpdateMarkToMarket(fair)
	pos := t.inv.Snapshot()
	exposureUSD := t.inv.NetExposureUSD(fair)

	t.riskMgr.Report(risk.PositionReport{
		Security:      t.sec,
		Qty:           pos.Qty,
		FairValue:     fair,
		Divergence:    divergence,
		ExposureUSD:   exposureUSD,
		UnrealizedPnL: pos.UnrealizedPnL,
		RealizedPnL:   pos.RealizedPnL,
		Timestamp:     time.Now(),
	})

	if t.riskMgr.IsKillSwitchActive() {
		t.logger.Warn("kill switch active, cancelling all orders")
		t.cancelAll(ctx)
		return
	}

	remaining := t.riskMgr.RemainingBudget(t.sec)
	if remaining <= 0 {
		t.logger.Info("risk budget exhausted")
		t.cancelAll(ctx)
		return
	}

	bid, ask := t.computeQuotes(fair, divergence, pos, remaining)

	if err := t.reconcileOrders(ctx, bid, ask); err != nil {
		t.logger.Error("reconcile orders failed", "error", err)
	}
}

// computeQuotes derives a reservation price from fair value adjusted by
// the divergence between this security's own premium and the
// cross-security aggregate, then quotes symmetrically around it at
// max(half_spread, required_edge), widened under toxic flow.
func (t *Tactic) computeQuotes(fair, divergence float64, pos inventory.Position, remainingBudget float64) (bid, ask *types.UserOrder) {
	reservation := fair + divergence*imbalanceAdjustFactor

	flowMultiplier := t.flowTracker.GetSpreadMultiplierWithDivergence(divergence, fair)

	halfSpread := fair * (float64(t.cfg.SpreadBps) / 2.0 / 10000.0)
	requiredEdge := fair * (requiredProfitFrac + requiredFeeFrac)
	edge := math.Max(halfSpread, requiredEdge) * flowMultiplier

	bidPriceDollars := reservation - edge
	askPriceDollars := reservation + edge
	if bidPriceDollars <= 0 {
		bidPriceDollars = 0.01
	}
	if askPriceDollars <= bidPriceDollars {
		askPriceDollars = bidPriceDollars + 0.01
	}

	bidPrice := roundDownCents(bidPriceDollars)
	askPrice := roundUpCents(askPriceDollars)
	if bidPrice >= askPrice {
		askPrice = bidPrice + 1
	}

	// Inventory skew: normalize signed exposure against the per-security
	// budget to [-1, 1], then shrink size the more heavily positioned we
	// already are.
	qNorm := 0.0
	if t.maxPositionPerSecurity > 0 {
		qNorm = (pos.Qty * fair) / t.maxPositionPerSecurity
		qNorm = clamp(qNorm, -1, 1)
	}
	sizeFactor := 1.0 - 0.5*math.Abs(qNorm)

	baseSize := t.cfg.OrderSizeUSD / fair
	bidSize := baseSize * sizeFactor
	askSize := baseSize * sizeFactor

	bidDollars := centsToDollars(bidPrice)
	askDollars := centsToDollars(askPrice)

	if bidDollars > 0 {
		if maxBidSize := remainingBudget / bidDollars; bidSize > maxBidSize {
			bidSize = maxBidSize
		}
	}
	if askDollars > 0 {
		if maxAskSize := remainingBudget / askDollars; askSize > maxAskSize {
			askSize = maxAskSize
		}
	}
	totalNotional := bidSize*bidDollars + askSize*askDollars
	if totalNotional > remainingBudget && totalNotional > 0 {
		scale := remainingBudget / totalNotional
		bidSize *= scale
		askSize *= scale
	}

	toxicity := t.flowTracker.CalculateToxicityWithDivergence(divergence, fair)
	t.logger.Debug("quotes computed",
		"fair", fair,
		"reservation", reservation,
		"bid_cents", bidPrice,
		"ask_cents", askPrice,
		"bid_size", bidSize,
		"ask_size", askSize,
		"toxicity_score", toxicity.ToxicityScore,
		"divergence_aligned", toxicity.DivergenceAligned,
		"flow_spread_multiplier", flowMultiplier,
	)

	const minOrderSize = 0.0001
	if bidSize >= minOrderSize {
		bid = &types.UserOrder{Security: t.sec, Price: bidPrice, Size: bidSize, Side: types.Buy, OrderType: types.OrderTypeGTC}
	}
	if askSize >= minOrderSize {
		ask = &types.UserOrder{Security: t.sec, Price: askPrice, Size: askSize, Side: types.Sell, OrderType: types.OrderTypeGTC}
	}
	return bid, ask
}

// reconcileOrders diffs desired quotes against active orders. An existing
// order is kept if its price is within one cent and its remaining size is
// within 10% of the desired size. Everything else is cancelled.
func (t *Tactic) reconcileOrders(ctx context.Context, bid, ask *types.UserOrder) error {
	const sizeTolerance = 0.10

	var toCancel []string
	var toPlace []types.UserOrder
	matchedBid, matchedAsk := false, false

	for id, order := range t.activeOrders {
		remaining := order.OriginalSize - order.SizeFilled

		if order.Side == types.Buy && bid != nil {
			if absCents(order.Price-bid.Price) <= 1 && relDiff(remaining, bid.Size) <= sizeTolerance {
				matchedBid = true
				continue
			}
		}
		if order.Side == types.Sell && ask != nil {
			if absCents(order.Price-ask.Price) <= 1 && relDiff(remaining, ask.Size) <= sizeTolerance {
				matchedAsk = true
				continue
			}
		}
		toCancel = append(toCancel, id)
	}

	if !matchedBid && bid != nil {
		toPlace = append(toPlace, *bid)
	}
	if !matchedAsk && ask != nil {
		toPlace = append(toPlace, *ask)
	}

	if len(toCancel) > 0 {
		resp, err := t.gateway.CancelOrders(ctx, t.sec.Exchange, toCancel)
		if err != nil {
			return fmt.Errorf("cancel orders: %w", err)
		}
		for _, id := range resp.Canceled {
			delete(t.activeOrders, id)
		}
	}

	if len(toPlace) > 0 {
		results, err := t.gateway.PostOrders(ctx, toPlace)
		if err != nil {
			return fmt.Errorf("place orders: %w", err)
		}
		for i, result := range results {
			if result.Success && result.OrderID != "" {
				t.activeOrders[result.OrderID] = types.OpenOrder{
					OrderID:      result.OrderID,
					Security:     t.sec,
					Side:         toPlace[i].Side,
					Price:        toPlace[i].Price,
					OriginalSize: toPlace[i].Size,
					SizeFilled:   0,
				}
			} else if result.ErrorMsg != "" {
				t.logger.Error("order rejected", "error", result.ErrorMsg, "side", toPlace[i].Side, "price", toPlace[i].Price)
			}
		}
	}

	return nil
}

// handleFill processes an execution report: updates inventory, persists
// the new position, and feeds the flow tracker for toxicity detection.
func (t *Tactic) handleFill(fill types.Fill) {
	t.inv.OnFill(fill)
	t.flowTracker.AddFill(fill)

	if order, ok := t.activeOrders[fill.OrderID]; ok {
		order.SizeFilled += fill.Size
		t.activeOrders[fill.OrderID] = order
	}

	pos := t.inv.Snapshot()

	if t.store != nil {
		if err := t.store.SavePosition(t.sec, pos); err != nil {
			t.logger.Error("save position failed", "error", err)
		}
	}

	toxicity := t.flowTracker.CalculateToxicityWithDivergence(t.lastDivergence, t.lastFair)
	if toxicity.IsAverse {
		t.logger.Warn("toxic flow detected",
			"side", fill.Side,
			"toxicity_score", toxicity.ToxicityScore,
			"directional_imbalance", toxicity.DirectionalImbalance,
			"divergence_aligned", toxicity.DivergenceAligned,
			"fill_count", t.flowTracker.GetFillCount(),
		)
	}

	t.logger.Info("fill",
		"side", fill.Side,
		"price", fill.Price,
		"size", fill.Size,
		"qty", pos.Qty,
		"avg_entry", pos.AvgEntry,
		"realized_pnl", pos.RealizedPnL,
	)
}

// Security returns the security this tactic quotes, for callers (e.g.
// the risk manager's kill switch dispatch) that need to route events to
// the right tactic without reaching into its internals.
func (t *Tactic) Security() types.Security {
	return t.sec
}

// CancelAll cancels every order this tactic is currently tracking. It's
// the entry point process wiring uses to react to an out-of-band risk
// kill signal, outside the tactic's own tick loop.
func (t *Tactic) CancelAll(ctx context.Context) {
	t.cancelAll(ctx)
}

// cancelAll cancels every order this tactic is currently tracking.
func (t *Tactic) cancelAll(ctx context.Context) {
	if len(t.activeOrders) == 0 {
		return
	}

	resp, err := t.gateway.CancelSecurityOrders(ctx, t.sec)
	if err != nil {
		t.logger.Error("cancel all orders failed", "error", err)
		return
	}

	for _, id := range resp.Canceled {
		delete(t.activeOrders, id)
	}
	t.logger.Info("cancelled orders", "count", len(resp.Canceled))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundDownCents(dollars float64) types.PriceCents {
	return types.PriceCents(math.Floor(dollars*100 + 1e-9))
}

func roundUpCents(dollars float64) types.PriceCents {
	return types.PriceCents(math.Ceil(dollars*100 - 1e-9))
}

func centsToDollars(p types.PriceCents) float64 {
	return float64(p) / 100
}

func absCents(p types.PriceCents) types.PriceCents {
	if p < 0 {
		return -p
	}
	return p
}

func relDiff(have, want float64) float64 {
	if want == 0 {
		return 0
	}
	d := have - want
	if d < 0 {
		d = -d
	}
	return d / want
}
