/*
aggregator.go - Today's cash totals per company

PURPOSE:
  Computes DailyCashTotals for a rule by re-reading the day's settled
  orders from the order store. Nothing is cached and nothing is counted
  incrementally: a voided or corrected order simply stops matching on the
  next call.

ALGORITHM:
  1. Resolve the effective cash method set: the rule's own list, or every
     cash-counting method of its point of sale when the list is empty.
  2. Empty set: return {0, 0} without querying orders.
  3. For each of the rule's two companies, load settled orders in the
     window and keep those that
       - belong to that company,
       - fall on the window's local calendar day,
       - carry at least one payment line with a qualifying method.
  4. Sum the order amounts.

HOT PATH:
  Runs for every cash ticket. It is read-only and holds no locks, so it
  can be invoked concurrently without coordination.
*/
package routing

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Aggregator struct {
	Orders OrderStore
	Logger logrus.FieldLogger
}

func NewAggregator(orders OrderStore, logger logrus.FieldLogger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{Orders: orders, Logger: logger}
}

// CashMethods resolves the rule's effective cash method set.
func (a *Aggregator) CashMethods(ctx context.Context, rule Rule) (MethodSet, error) {
	if !rule.IsWildcard() {
		return NewMethodSet(rule.CashPaymentMethodIDs...), nil
	}
	ids, err := a.Orders.FindCashPaymentMethods(ctx, rule.PointOfSaleID)
	if err != nil {
		return nil, &StoreError{Op: "find cash payment methods", Err: err}
	}
	return NewMethodSet(ids...), nil
}

// DailyTotals computes the rule's cash totals inside window.
func (a *Aggregator) DailyTotals(ctx context.Context, rule Rule, window Window) (DailyCashTotals, error) {
	methods, err := a.CashMethods(ctx, rule)
	if err != nil {
		return DailyCashTotals{}, err
	}
	return a.TotalsFor(ctx, rule, methods, window)
}

// TotalsFor computes cash totals for an already resolved method set.
func (a *Aggregator) TotalsFor(ctx context.Context, rule Rule, methods MethodSet, window Window) (DailyCashTotals, error) {
	totals := DailyCashTotals{Fiscal: decimal.Zero, NonFiscal: decimal.Zero}
	if methods.Empty() {
		a.Logger.WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"pos_id":  rule.PointOfSaleID,
		}).Debug("no cash payment methods resolvable; totals are zero")
		return totals, nil
	}

	fiscal, err := a.companyTotal(ctx, rule.FiscalCompanyID, methods, window)
	if err != nil {
		return DailyCashTotals{}, err
	}
	nonFiscal, err := a.companyTotal(ctx, rule.NonFiscalCompanyID, methods, window)
	if err != nil {
		return DailyCashTotals{}, err
	}
	totals.Fiscal = fiscal
	totals.NonFiscal = nonFiscal
	return totals, nil
}

func (a *Aggregator) companyTotal(ctx context.Context, company CompanyID, methods MethodSet, window Window) (decimal.Decimal, error) {
	orders, err := a.Orders.FindSettledOrders(ctx, company, window)
	if err != nil {
		return decimal.Zero, &StoreError{Op: "find settled orders", Err: err}
	}

	sum := decimal.Zero
	for _, o := range orders {
		if o.CompanyID != company || !o.State.IsSettled() {
			continue
		}
		if !window.Contains(o.DateOrder) {
			continue
		}
		if !HasCashPayment(o.PaymentLines, methods) {
			continue
		}
		sum = sum.Add(o.Amount)
	}
	return sum, nil
}
