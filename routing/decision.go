/*
decision.go - Ratio controller

PURPOSE:
  Picks the company for one cash ticket from the day's running totals.

ALGORITHM:
  1. No cash sold yet today (fiscal + nonFiscal == 0): fiscal company.
     This is a fixed business rule, not a consequence of the formula.
  2. ratio = nonFiscal / (fiscal + nonFiscal) * 100
  3. ratio <  target: non-fiscal company
     ratio >= target: fiscal company

  The comparison is evaluated as nonFiscal*100 < target*total so the
  boundary (ratio exactly equal to target) is exact.

PROPERTIES:
  - Pure: same rule and totals always give the same company.
  - Always one of the rule's two companies.
  - The ticket amount does not weight the choice. Whole tickets mean the
    realized ratio can overshoot the target; that overshoot is accepted
    and never corrected retroactively.
*/
package routing

import (
	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonFirstTicket     Reason = "first_ticket"
	ReasonBelowTarget     Reason = "below_target"
	ReasonAtOrAboveTarget Reason = "at_or_above_target"

	// Intake outcomes where no company was assigned.
	ReasonNoRule        Reason = "no_rule"
	ReasonNoCashMethods Reason = "no_cash_methods"
	ReasonNoCashPayment Reason = "no_cash_payment"
	ReasonRoutingFailed Reason = "routing_failed"
)

type Decision struct {
	RuleID    RuleID
	CompanyID CompanyID
	Reason    Reason
	Totals    DailyCashTotals
	Ratio     decimal.Decimal // non-fiscal share before this ticket, in percent
	Target    decimal.Decimal
	Window    Window
}

// Decide maps today's totals to a company. amount is accepted for the
// public contract but does not bias the result.
func Decide(rule Rule, totals DailyCashTotals, amount decimal.Decimal) Decision {
	_ = amount

	d := Decision{
		RuleID: rule.ID,
		Totals: totals,
		Ratio:  totals.NonFiscalRatio(),
		Target: rule.TargetNonFiscalPercentage,
	}

	total := totals.Total()
	if total.IsZero() {
		d.CompanyID = rule.FiscalCompanyID
		d.Reason = ReasonFirstTicket
		return d
	}

	if totals.NonFiscal.Mul(hundred).LessThan(rule.TargetNonFiscalPercentage.Mul(total)) {
		d.CompanyID = rule.NonFiscalCompanyID
		d.Reason = ReasonBelowTarget
		return d
	}

	d.CompanyID = rule.FiscalCompanyID
	d.Reason = ReasonAtOrAboveTarget
	return d
}
