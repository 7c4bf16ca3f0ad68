/*
monitor.go - Periodic ratio monitor

PURPOSE:
  Periodically recomputes, for every live rule, today's realized
  non-fiscal ratio and logs it against the rule's target. Operators see
  drift without querying the totals endpoint for each point of sale.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Read-only: never changes a rule or an order
  - "Today" uses the point of sale's timezone, like order intake without
    a user
  - Logs a warning when a rule with sales drifts further than
    DriftThreshold percentage points from its target

USAGE:
  monitor := NewRatioMonitor(handler)
  monitor.CheckInterval = cfg.MonitorInterval
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - handlers.go: GetRuleTotals endpoint (same numbers, on demand)
  - routing/router.go: Router.Totals
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/cash-router/config"
	"github.com/warp/cash-router/routing"
	"github.com/warp/cash-router/store/sqlite"
)

// RatioReport is one rule's state at check time.
type RatioReport struct {
	RuleID    routing.RuleID
	Day       string
	Totals    routing.DailyCashTotals
	Ratio     decimal.Decimal
	Target    decimal.Decimal
	Deviation decimal.Decimal // Ratio - Target, in percentage points
}

// RatioMonitor logs realized ratios of live rules.
type RatioMonitor struct {
	Store          *sqlite.Store
	Router         *routing.Router
	Logger         logrus.FieldLogger
	CheckInterval  time.Duration
	DriftThreshold decimal.Decimal
	Enabled        bool
	Now            func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRatioMonitor creates a monitor sharing the handler's store and router.
func NewRatioMonitor(h *Handler) *RatioMonitor {
	return &RatioMonitor{
		Store:          h.Store,
		Router:         h.Router,
		Logger:         h.Logger.WithField("module", "ratio_monitor"),
		CheckInterval:  5 * time.Minute,
		DriftThreshold: decimal.NewFromInt(10),
		Enabled:        true,
		Now:            h.now,
	}
}

// Start begins the monitor.
func (m *RatioMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled || m.CheckInterval <= 0 {
		m.Logger.Info("ratio monitor disabled, not starting")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run()

	m.Logger.WithField("interval", m.CheckInterval.String()).Info("ratio monitor started")
}

// Stop stops the monitor.
func (m *RatioMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.wg.Wait()
		m.ticker = nil
		m.Logger.Info("ratio monitor stopped")
	}
}

func (m *RatioMonitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.checkAndLog()

	for {
		select {
		case <-m.ticker.C:
			m.checkAndLog()
		case <-m.stop:
			return
		}
	}
}

func (m *RatioMonitor) checkAndLog() {
	ctx, cancel := context.WithTimeout(context.Background(), m.CheckInterval)
	defer cancel()

	if _, err := m.Check(ctx); err != nil {
		config.LogError(m.Logger, "api", "RatioMonitor.Check", "failed to list live rules", nil, err)
	}
}

// Check computes and logs a report per live rule. A rule whose totals
// cannot be computed is logged and skipped.
func (m *RatioMonitor) Check(ctx context.Context) ([]RatioReport, error) {
	rules, err := m.Store.ListLiveRules(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}

	reports := make([]RatioReport, 0, len(rules))
	for _, rule := range rules {
		log := m.Logger.WithFields(logrus.Fields{"rule_id": rule.ID, "pos_id": rule.PointOfSaleID})

		tz, err := m.Store.Timezone(ctx, "", rule.PointOfSaleID)
		if err != nil {
			log.WithError(err).Debug("timezone lookup failed; using UTC")
		}
		totals, window, err := m.Router.Totals(ctx, rule, tz, now)
		if err != nil {
			log.WithError(err).Warn("could not compute totals")
			continue
		}

		ratio := totals.NonFiscalRatio()
		report := RatioReport{
			RuleID:    rule.ID,
			Day:       window.Day(),
			Totals:    totals,
			Ratio:     ratio,
			Target:    rule.TargetNonFiscalPercentage,
			Deviation: ratio.Sub(rule.TargetNonFiscalPercentage),
		}
		reports = append(reports, report)

		entry := log.WithFields(logrus.Fields{
			"day":        report.Day,
			"fiscal":     totals.Fiscal.String(),
			"non_fiscal": totals.NonFiscal.String(),
			"ratio":      ratio.StringFixed(2),
			"target":     report.Target.String(),
		})
		if !totals.IsZero() && report.Deviation.Abs().GreaterThan(m.DriftThreshold) {
			entry.Warn("non-fiscal ratio drifting from target")
		} else {
			entry.Info("non-fiscal ratio")
		}
	}
	return reports, nil
}
