/*
store.go - Interfaces between the routing engine and persistence

PURPOSE:
  The engine never owns orders or configuration; it reads them through
  these interfaces. They are trusted, system-level queries: routing is not
  a per-user permission concern, so implementations must not scope results
  by the caller's company access.

KEY INTERFACES:
  OrderStore:     settled orders per company, cash-counting methods per POS
  RuleStore:      the live rule for a point of sale
  TimezoneSource: the timezone used to define "today"
  Sequencer:      optional serialization of decisions per rule

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - routing/store/memory.go: In-memory for tests and demos
  - lock/redis.go: Redis-backed Sequencer
*/
package routing

import "context"

// =============================================================================
// ORDER STORE - Read-only from the engine's point of view
// =============================================================================

type OrderStore interface {
	// FindSettledOrders returns paid/done/invoiced orders of company whose
	// DateOrder falls inside window. Implementations may return a superset;
	// the aggregator re-filters by local calendar day.
	FindSettledOrders(ctx context.Context, company CompanyID, window Window) ([]Order, error)

	// FindCashPaymentMethods returns the methods flagged as cash-counting
	// for a point of sale.
	FindCashPaymentMethods(ctx context.Context, pos PointOfSaleID) ([]PaymentMethodID, error)
}

// =============================================================================
// RULE STORE
// =============================================================================

type RuleStore interface {
	// ActiveRule returns the enabled, active rule with the lowest sequence
	// for pos, or (nil, nil) when routing is not configured.
	ActiveRule(ctx context.Context, pos PointOfSaleID) (*Rule, error)
}

// =============================================================================
// TIMEZONE SOURCE
// =============================================================================

type TimezoneSource interface {
	// Timezone returns the user's zone name, else the point of sale's,
	// else "". Unknown names are tolerated by ResolveLocation.
	Timezone(ctx context.Context, user UserID, pos PointOfSaleID) (string, error)
}

// =============================================================================
// SEQUENCER - Optional serialization point per rule
// =============================================================================

// Sequencer serializes routing decisions that share a rule. Without one,
// concurrent tickets may observe the same totals and both be routed as if
// alone; the ratio still converges over the day.
type Sequencer interface {
	// Acquire blocks until the caller holds the rule's slot. release must
	// be called exactly once, after the ticket is persisted.
	Acquire(ctx context.Context, rule RuleID) (release func(), err error)
}
