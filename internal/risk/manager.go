// Package risk enforces portfolio-level risk limits across all traded
// securities.
//
// The risk manager runs as a standalone goroutine that receives
// PositionReports from the quoter for each security and checks them
// against configured limits:
//
//   - Per-security exposure: caps USD exposure in any single security
//   - Global exposure:       caps total USD exposure across all securities
//   - Daily loss:            triggers kill switch if realized+unrealized PnL exceeds threshold
//   - Rapid fair-value move: triggers kill switch if fair value moves more than
//     KillSwitchDropPct within KillSwitchWindowSec seconds
//   - Premium divergence: triggers kill switch if a security's own premium
//     diverges from the signal graph's cross-security consensus by more than
//     MaxDivergencePct of fair value, independent of whether fair value itself
//     has moved
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// quoter reads this signal and cancels all orders (globally or per-security).
// After a kill, the kill switch stays active for CooldownAfterKill duration,
// during which the quoter skips quoting.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalgraph-mm/internal/config"
	"signalgraph-mm/pkg/types"
)

// PositionReport is sent by the quoter for one security every quote cycle.
// It contains the current inventory state and PnL for risk evaluation.
type PositionReport struct {
	Security      types.Security
	Qty           float64 // signed position, positive long
	FairValue     float64 // current fair value (used for price-movement detection)
	Divergence    float64 // this security's own premium minus the cross-security aggregate premium, from the signal graph
	ExposureUSD   float64 // total position value in USD
	UnrealizedPnL float64 // mark-to-market PnL
	RealizedPnL   float64 // locked-in PnL from closed trades
	Timestamp     time.Time
}

// KillSignal tells the quoter to cancel all orders. If Security is the
// zero value, it means cancel across ALL securities (global kill).
type KillSignal struct {
	Security types.Security // zero value = kill ALL securities
	Reason   string
}

// priceAnchor stores a reference fair value at a point in time for
// detecting rapid price movements within a rolling window.
type priceAnchor struct {
	price     float64
	timestamp time.Time
}

// Manager enforces risk limits across all traded securities. It
// aggregates position reports, checks limits, and emits kill signals
// when breached.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[types.Security]PositionReport // latest report per security
	totalExposure    float64                           // sum of all ExposureUSD
	totalRealizedPnL float64                           // sum of all RealizedPnL
	killSwitchActive bool                              // true while in cooldown
	killSwitchUntil  time.Time                         // when cooldown expires
	priceAnchors     map[types.Security]priceAnchor    // reference prices for movement detection

	reportCh chan PositionReport // quoter writes here
	killCh   chan KillSignal     // consumers read kill signals from here
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[types.Security]PositionReport),
		priceAnchors: make(map[types.Security]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears kill switch even when no reports arrive
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report",
			"security", report.Security)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveSecurity cleans up state for a security no longer traded.
func (rm *Manager) RemoveSecurity(sec types.Security) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, sec)
	delete(rm.priceAnchors, sec)

	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	for _, pos := range rm.positions {
		rm.totalExposure += pos.ExposureUSD
		rm.totalRealizedPnL += pos.RealizedPnL
	}
}

// IsKillSwitchActive returns whether the kill switch is engaged.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed for
// sec. It takes the minimum of:
//   - per-security headroom: MaxPositionPerSecurity − current exposure
//   - global headroom:       MaxGlobalExposure − total exposure across all securities
//
// Returns 0 if either limit is already exceeded (the quoter skips quoting).
func (rm *Manager) RemainingBudget(sec types.Security) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var currentExposure float64
	if pos, ok := rm.positions[sec]; ok {
		currentExposure = pos.ExposureUSD
	}

	perSecurity := rm.cfg.MaxPositionPerSecurity - currentExposure
	global := rm.cfg.MaxGlobalExposure - rm.totalExposure

	remaining := perSecurity
	if global < remaining {
		remaining = global
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetRiskSnapshot returns current aggregate risk metrics.
func (rm *Manager) GetRiskSnapshot() RiskSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var totalUnrealizedPnL float64
	for _, pos := range rm.positions {
		totalUnrealizedPnL += pos.UnrealizedPnL
	}

	var exposurePct float64
	if rm.cfg.MaxGlobalExposure > 0 {
		exposurePct = (rm.totalExposure / rm.cfg.MaxGlobalExposure) * 100
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return RiskSnapshot{
		GlobalExposure:         rm.totalExposure,
		MaxGlobalExposure:      rm.cfg.MaxGlobalExposure,
		ExposurePct:            exposurePct,
		KillSwitchActive:       rm.killSwitchActive,
		KillSwitchUntil:        rm.killSwitchUntil,
		KillSwitchReason:       killReason,
		TotalRealizedPnL:       rm.totalRealizedPnL,
		TotalUnrealizedPnL:     totalUnrealizedPnL,
		MaxPositionPerSecurity: rm.cfg.MaxPositionPerSecurity,
		MaxDailyLoss:           rm.cfg.MaxDailyLoss,
		ActiveSecurities:       len(rm.positions),
	}
}

// RiskSnapshot represents aggregate risk metrics.
type RiskSnapshot struct {
	GlobalExposure         float64
	MaxGlobalExposure      float64
	ExposurePct            float64
	KillSwitchActive       bool
	KillSwitchUntil        time.Time
	KillSwitchReason       string
	TotalRealizedPnL       float64
	TotalUnrealizedPnL     float64
	MaxPositionPerSecurity float64
	MaxDailyLoss           float64
	ActiveSecurities       int
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.Security] = report

	// Recalculate totals
	rm.totalExposure = 0
	rm.totalRealizedPnL = 0
	totalUnrealizedPnL := 0.0
	for _, pos := range rm.positions {
		rm.totalExposure += pos.ExposureUSD
		rm.totalRealizedPnL += pos.RealizedPnL
		totalUnrealizedPnL += pos.UnrealizedPnL
	}

	// Check per-security limit
	if report.ExposureUSD > rm.cfg.MaxPositionPerSecurity {
		rm.emitKill(report.Security, "per-security position limit breached")
	}

	// Check global limit
	if rm.totalExposure > rm.cfg.MaxGlobalExposure {
		rm.emitKill(types.Security{}, "global exposure limit breached")
	}

	// Check daily loss
	totalPnL := rm.totalRealizedPnL + totalUnrealizedPnL
	if totalPnL < -rm.cfg.MaxDailyLoss {
		rm.emitKill(types.Security{}, "max daily loss breached")
	}

	// Check rapid fair-value movement
	rm.checkPriceMovement(report)

	// Check cross-security premium divergence
	rm.checkDivergence(report)
}

// checkPriceMovement detects rapid fair-value swings using a rolling
// anchor. On each report, it compares the fair value to the anchor set at
// the start of the window. If the anchor is older than
// KillSwitchWindowSec, it resets. If the value moved more than
// KillSwitchDropPct from the anchor, the kill switch fires.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.Security]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		// No anchor or anchor expired — reset to current fair value
		rm.priceAnchors[report.Security] = priceAnchor{
			price:     report.FairValue,
			timestamp: report.Timestamp,
		}
		return
	}

	if anchor.price == 0 {
		return
	}

	pctChange := (report.FairValue - anchor.price) / anchor.price
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > rm.cfg.KillSwitchDropPct {
		rm.emitKill(report.Security, fmt.Sprintf(
			"rapid fair value movement: %.1f%% in %ds",
			pctChange*100, rm.cfg.KillSwitchWindowSec,
		))
	}
}

// checkDivergence fires the kill switch when a security's own premium
// pulls away from the cross-security consensus the signal graph
// computes, by more than MaxDivergencePct of fair value. Unlike
// checkPriceMovement, which watches the reported fair value move over a
// rolling window, this reacts to the graph's own cross-security
// disagreement signal directly — a security can trip this even while its
// own fair value is holding still, if the rest of the universe is moving
// without it.
func (rm *Manager) checkDivergence(report PositionReport) {
	if rm.cfg.MaxDivergencePct <= 0 || report.FairValue <= 0 {
		return
	}

	pct := report.Divergence / report.FairValue
	if pct < 0 {
		pct = -pct
	}

	if pct > rm.cfg.MaxDivergencePct {
		rm.emitKill(report.Security, fmt.Sprintf(
			"premium diverged %.2f%% from cross-security consensus", pct*100,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal downstream. If the kill channel is full, it drains the
// stale signal first to ensure the latest kill reason is always delivered.
func (rm *Manager) emitKill(sec types.Security, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("KILL SWITCH",
		"security", sec,
		"reason", reason,
		"cooldown_until", rm.killSwitchUntil,
	)

	sig := KillSignal{Security: sec, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
