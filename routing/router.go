package routing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Router is the public entry point: resolve today's window, aggregate,
// decide. It is deterministic given its inputs and the order store's
// contents at call time.
type Router struct {
	Aggregator *Aggregator
	Logger     logrus.FieldLogger
}

func NewRouter(aggregator *Aggregator, logger logrus.FieldLogger) *Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Router{Aggregator: aggregator, Logger: logger}
}

// DecideCompany returns the company a cash ticket of amount should be
// booked on. Store failures are returned wrapped in ErrStoreUnavailable.
func (r *Router) DecideCompany(ctx context.Context, rule Rule, amount decimal.Decimal, timezone string, now time.Time) (Decision, error) {
	methods, err := r.Aggregator.CashMethods(ctx, rule)
	if err != nil {
		return Decision{}, err
	}
	return r.decideWith(ctx, rule, methods, amount, ResolveWindow(timezone, now))
}

// Totals returns today's totals for rule without deciding.
func (r *Router) Totals(ctx context.Context, rule Rule, timezone string, now time.Time) (DailyCashTotals, Window, error) {
	window := ResolveWindow(timezone, now)
	totals, err := r.Aggregator.DailyTotals(ctx, rule, window)
	return totals, window, err
}

func (r *Router) decideWith(ctx context.Context, rule Rule, methods MethodSet, amount decimal.Decimal, window Window) (Decision, error) {
	totals, err := r.Aggregator.TotalsFor(ctx, rule, methods, window)
	if err != nil {
		return Decision{}, err
	}

	d := Decide(rule, totals, amount)
	d.Window = window

	r.Logger.WithFields(logrus.Fields{
		"rule_id":    rule.ID,
		"company_id": d.CompanyID,
		"reason":     d.Reason,
		"fiscal":     totals.Fiscal.String(),
		"non_fiscal": totals.NonFiscal.String(),
		"ratio":      d.Ratio.StringFixed(2),
		"target":     rule.TargetNonFiscalPercentage.String(),
		"day":        window.Day(),
	}).Debug("routing decision")
	return d, nil
}
