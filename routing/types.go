/*
Package routing decides which legal entity owns a point-of-sale cash ticket.

PURPOSE:
  A point of sale books cash sales into one of two companies: the fiscal
  company (where sales are formally reported) and a non-fiscal company that
  may receive up to a target share of the day's cash volume. This package
  holds the domain types and the closed-loop decision that keeps the
  non-fiscal share near its target without ever splitting a ticket.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: CompanyID, PointOfSaleID, PaymentMethodID, RuleID, ...
  - Order: a persisted ticket as the aggregator sees it
  - Ticket: a draft order flowing through intake
  - DailyCashTotals: today's per-company cash volume (derived, never stored)

DESIGN PRINCIPLES:
  1. Recompute, never count: totals come from the order history every time,
     so voids and corrections are reflected on the next decision.
  2. Precision: money and percentages are decimal.Decimal.
  3. Whole tickets: a ticket is assigned to exactly one company.

SEE ALSO:
  - rule.go: Rule configuration and validation
  - window.go: "today" in the acting user's timezone
  - aggregator.go: DailyCashTotals from the order store
  - decision.go: the ratio controller
  - intake.go: boundary adapter used when a ticket is created
*/
package routing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type PointOfSaleID string
type PaymentMethodID string
type RuleID string
type OrderID string
type UserID string

// =============================================================================
// ORDER - Persisted ticket (read side of the order store)
// =============================================================================

type OrderState string

const (
	OrderDraft    OrderState = "draft"
	OrderPaid     OrderState = "paid"
	OrderDone     OrderState = "done"
	OrderInvoiced OrderState = "invoiced"
	OrderCanceled OrderState = "cancel"
)

// IsSettled reports whether the order counts towards daily cash volume.
func (s OrderState) IsSettled() bool {
	switch s {
	case OrderPaid, OrderDone, OrderInvoiced:
		return true
	default:
		return false
	}
}

// SettledStates lists the states FindSettledOrders must return.
var SettledStates = []OrderState{OrderPaid, OrderDone, OrderInvoiced}

type Order struct {
	ID            OrderID
	PointOfSaleID PointOfSaleID
	CompanyID     CompanyID
	State         OrderState
	Amount        decimal.Decimal
	PaymentLines  []PaymentLine
	DateOrder     time.Time // UTC
}

// =============================================================================
// TICKET - Draft order on its way to persistence
// =============================================================================

type Ticket struct {
	ID            OrderID
	PointOfSaleID PointOfSaleID
	SessionID     string
	UserID        UserID
	Amount        decimal.Decimal
	PaymentLines  []PaymentLine
	DateOrder     time.Time

	// CompanyID stays empty unless routing assigned one. The order store
	// applies its own default (the point of sale's company) when empty.
	CompanyID CompanyID
}

// =============================================================================
// DAILY CASH TOTALS - Derived, recomputed per decision
// =============================================================================

type DailyCashTotals struct {
	Fiscal    decimal.Decimal
	NonFiscal decimal.Decimal
}

func (t DailyCashTotals) Total() decimal.Decimal { return t.Fiscal.Add(t.NonFiscal) }
func (t DailyCashTotals) IsZero() bool           { return t.Total().IsZero() }

// NonFiscalRatio returns the non-fiscal share in percent, or zero when
// nothing has been sold yet.
func (t DailyCashTotals) NonFiscalRatio() decimal.Decimal {
	total := t.Total()
	if total.IsZero() {
		return decimal.Zero
	}
	return t.NonFiscal.Mul(hundred).Div(total)
}

// Add returns totals with amount booked on company.
func (t DailyCashTotals) Add(rule Rule, company CompanyID, amount decimal.Decimal) DailyCashTotals {
	switch company {
	case rule.FiscalCompanyID:
		t.Fiscal = t.Fiscal.Add(amount)
	case rule.NonFiscalCompanyID:
		t.NonFiscal = t.NonFiscal.Add(amount)
	}
	return t
}

var hundred = decimal.NewFromInt(100)
