// Signal Graph Market Maker — a cross-exchange spot market maker built
// around a statically-declared, topologically-sorted signal graph.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires every
//	                          component, waits for SIGINT/SIGTERM.
//	internal/security       — interns traded (product, exchange) pairs
//	                          into dense indices.
//	internal/book           — per-security price-sorted order book.
//	internal/signalgraph    — the core: registrar, builder, O(1) runtime.
//	internal/signals        — the built-in signal kinds (fair value, EMA,
//	                          premium, cross-security aggregator).
//	internal/catalog        — wires the default signal graph layout for a
//	                          given security universe.
//	internal/exchangefeed   — per-security book WebSocket feeds plus one
//	                          per-venue authenticated fills feed.
//	internal/quoter         — the fair-value-relative quoting tactic and
//	                          its REST order gateway.
//	internal/risk           — portfolio exposure limits and kill switch.
//	internal/inventory      — per-security position/PnL tracking.
//	internal/store          — JSON position persistence (survives restarts).
//
// How it makes money:
//
//	The signal graph computes a depth-weighted fair value per security
//	plus a cross-security consensus premium. The quoter posts a bid below
//	and an ask above that fair value, skewed by inventory and the
//	divergence between a security's own premium and the consensus, and
//	widened when recent fills look directionally toxic. When both sides
//	fill, the bot earns the spread.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"signalgraph-mm/internal/catalog"
	"signalgraph-mm/internal/config"
	"signalgraph-mm/internal/exchangefeed"
	"signalgraph-mm/internal/quoter"
	"signalgraph-mm/internal/risk"
	"signalgraph-mm/internal/security"
	"signalgraph-mm/internal/signalgraph"
	"signalgraph-mm/internal/store"
	"signalgraph-mm/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SGMM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run wires every component and blocks until a shutdown signal arrives.
func run(cfg *config.Config, logger *slog.Logger) error {
	securities := make([]types.Security, len(cfg.Securities))
	for i, s := range cfg.Securities {
		securities[i] = types.Security{Product: s.Product, Exchange: s.Exchange}
	}

	secMap, err := security.Create(securities)
	if err != nil {
		return err
	}

	graph, err := catalog.Build(secMap, catalogParams(cfg.Catalog))
	if err != nil {
		return err
	}

	var st *store.Store
	if cfg.Store.DataDir != "" {
		st, err = store.Open(cfg.Store.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	riskMgr := risk.NewManager(cfg.Risk, logger)
	go riskMgr.Run(ctx)

	gateway := quoter.NewClient(cfg.Exchanges, cfg.DryRun, logger)

	tactics := make(map[types.Security]*quoter.Tactic, len(securities))
	tacticFills := make(map[types.Security]chan types.Fill, len(securities))
	for _, sec := range securities {
		tacticFills[sec] = make(chan types.Fill, 64)
		tactics[sec] = quoter.NewTactic(cfg.Quoter, cfg.Risk.MaxPositionPerSecurity, sec, graph, gateway, riskMgr, st, logger)
	}

	var wg sync.WaitGroup

	startBookFeeds(ctx, &wg, cfg, secMap, graph, tactics, logger)
	startUserFeeds(ctx, &wg, cfg, tacticFills, logger)
	startKillSwitchWatcher(ctx, &wg, riskMgr, tactics, logger)

	for sec, tac := range tactics {
		wg.Add(1)
		go func(sec types.Security, tac *quoter.Tactic) {
			defer wg.Done()
			tac.Run(ctx, tacticFills[sec])
		}(sec, tac)
	}

	logger.Info("signal graph market maker started",
		"securities", len(securities),
		"order_size_usd", cfg.Quoter.OrderSizeUSD,
		"max_global_exposure", cfg.Risk.MaxGlobalExposure,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	wg.Wait()
	return nil
}

func catalogParams(cfg config.CatalogConfig) catalog.Params {
	p := catalog.DefaultParams()
	if cfg.FairValueDenom > 0 {
		p.FairValue.Denom = cfg.FairValueDenom
	}
	if cfg.FairValueOffset > 0 {
		p.FairValue.Offset = cfg.FairValueOffset
	}
	if cfg.FairValueDollarsOut > 0 {
		p.FairValue.DollarsOut = cfg.FairValueDollarsOut
	}
	if cfg.FairValueLevelsOut > 0 {
		p.FairValue.LevelsOut = cfg.FairValueLevelsOut
	}
	if cfg.SizeEmaRatio > 0 {
		p.SizeEma.Ratio = cfg.SizeEmaRatio
	}
	if cfg.FastEmaRatio > 0 {
		p.FastEma.Ratio = cfg.FastEmaRatio
	}
	if cfg.SlowEmaRatio > 0 {
		p.SlowEma.Ratio = cfg.SlowEmaRatio
	}
	if cfg.AggregatorMinSize > 0 {
		p.MinSize = cfg.AggregatorMinSize
	}
	return p
}

// startBookFeeds dials one exchangefeed.Feed per security and drives the
// graph from its decoded event blocks. Each block triggers exactly one
// graph walk for that security; the walk's observer callback records the
// update time on that security's tactic so its staleness check reflects
// the graph's own notion of "just updated".
func startBookFeeds(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	secMap *security.Map,
	graph *signalgraph.Graph,
	tactics map[types.Security]*quoter.Tactic,
	logger *slog.Logger,
) {
	for _, sec := range secMap.All() {
		ex, ok := cfg.Exchanges[sec.Exchange]
		if !ok {
			logger.Error("no exchange config for security, skipping feed", "security", sec)
			continue
		}
		idx, _ := secMap.ToIndex(sec)
		tac := tactics[sec]

		codec, err := exchangefeed.NewCodec(ex.Kind, ex.BitmexIDOffset, ex.OkexChannel)
		if err != nil {
			logger.Error("unknown codec for security, skipping feed", "security", sec, "error", err)
			continue
		}

		feed := exchangefeed.New(ex.WSURL, sec.Product, sec, codec, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("book feed exited", "security", sec, "error", err)
			}
		}()

		wg.Add(1)
		go func(idx security.Index, tac *quoter.Tactic) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case block := <-feed.Blocks():
					graph.TriggerBook(idx, block.Events, func() { tac.OnBookUpdate(block.ReceivedAt) })
				}
			}
		}(idx, tac)
	}
}

// startUserFeeds dials one authenticated UserFeed per venue and routes
// each decoded fill to the tactic whose security matches it.
func startUserFeeds(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	tacticFills map[types.Security]chan types.Fill,
	logger *slog.Logger,
) {
	for name, ex := range cfg.Exchanges {
		if ex.UserWSURL == "" {
			continue
		}
		var authMsg []byte
		if ex.APIKey != "" {
			authMsg = []byte(`{"op":"auth","api_key":"` + ex.APIKey + `"}`)
		}

		feed := exchangefeed.NewUserFeed(ex.UserWSURL, name, authMsg, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("user feed exited", "exchange", name, "error", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case fill := <-feed.Fills():
					ch, ok := tacticFills[fill.Security]
					if !ok {
						logger.Warn("fill for untracked security, dropping", "security", fill.Security)
						continue
					}
					select {
					case ch <- fill:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
}

// startKillSwitchWatcher cancels a security's resting orders the moment
// its risk manager kill switch fires (every security's, for a global
// kill), independent of that tactic's own tick cadence.
func startKillSwitchWatcher(
	ctx context.Context,
	wg *sync.WaitGroup,
	riskMgr *risk.Manager,
	tactics map[types.Security]*quoter.Tactic,
	logger *slog.Logger,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case kill := <-riskMgr.KillCh():
				logger.Warn("kill switch fired", "security", kill.Security, "reason", kill.Reason)
				if kill.Security == (types.Security{}) {
					for _, tac := range tactics {
						tac.CancelAll(ctx)
					}
					continue
				}
				if tac, ok := tactics[kill.Security]; ok {
					tac.CancelAll(ctx)
				}
			}
		}
	}()
}
