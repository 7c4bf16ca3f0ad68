// Package store provides in-memory routing store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/cash-router/routing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements routing.OrderStore, routing.RuleStore and
// routing.TimezoneSource.
type Memory struct {
	mu             sync.RWMutex
	orders         map[routing.OrderID]routing.Order
	rules          map[routing.RuleID]routing.Rule
	cashMethods    map[routing.PointOfSaleID][]routing.PaymentMethodID
	defaultCompany map[routing.PointOfSaleID]routing.CompanyID
	userTZ         map[routing.UserID]string
	posTZ          map[routing.PointOfSaleID]string
}

func NewMemory() *Memory {
	return &Memory{
		orders:         make(map[routing.OrderID]routing.Order),
		rules:          make(map[routing.RuleID]routing.Rule),
		cashMethods:    make(map[routing.PointOfSaleID][]routing.PaymentMethodID),
		defaultCompany: make(map[routing.PointOfSaleID]routing.CompanyID),
		userTZ:         make(map[routing.UserID]string),
		posTZ:          make(map[routing.PointOfSaleID]string),
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (m *Memory) SaveRule(r routing.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
}

func (m *Memory) SetCashMethods(pos routing.PointOfSaleID, ids ...routing.PaymentMethodID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cashMethods[pos] = append([]routing.PaymentMethodID(nil), ids...)
}

func (m *Memory) SetDefaultCompany(pos routing.PointOfSaleID, company routing.CompanyID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultCompany[pos] = company
}

func (m *Memory) SetUserTimezone(user routing.UserID, tz string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userTZ[user] = tz
}

func (m *Memory) SetPointOfSaleTimezone(pos routing.PointOfSaleID, tz string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posTZ[pos] = tz
}

// =============================================================================
// ORDERS
// =============================================================================

// SaveOrder stores an order as-is.
func (m *Memory) SaveOrder(o routing.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.DateOrder = o.DateOrder.UTC()
	m.orders[o.ID] = o
}

// Persist records a ticket as a paid order, applying the point of sale's
// default company when routing left it empty. Usable as a routing.PersistFunc.
func (m *Memory) Persist(_ context.Context, t *routing.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CompanyID == "" {
		t.CompanyID = m.defaultCompany[t.PointOfSaleID]
	}
	m.orders[t.ID] = routing.Order{
		ID:            t.ID,
		PointOfSaleID: t.PointOfSaleID,
		CompanyID:     t.CompanyID,
		State:         routing.OrderPaid,
		Amount:        t.Amount,
		PaymentLines:  append([]routing.PaymentLine(nil), t.PaymentLines...),
		DateOrder:     t.DateOrder.UTC(),
	}
	return nil
}

// Void marks an order canceled.
func (m *Memory) Void(id routing.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return routing.ErrOrderNotFound
	}
	o.State = routing.OrderCanceled
	m.orders[id] = o
	return nil
}

func (m *Memory) Order(id routing.OrderID) (routing.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	return o, ok
}

// =============================================================================
// routing.OrderStore
// =============================================================================

func (m *Memory) FindSettledOrders(_ context.Context, company routing.CompanyID, window routing.Window) ([]routing.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []routing.Order
	for _, o := range m.orders {
		if o.CompanyID != company || !o.State.IsSettled() {
			continue
		}
		if o.DateOrder.Before(window.Start) || o.DateOrder.After(window.End) {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DateOrder.Before(result[j].DateOrder) })
	return result, nil
}

func (m *Memory) FindCashPaymentMethods(_ context.Context, pos routing.PointOfSaleID) ([]routing.PaymentMethodID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]routing.PaymentMethodID(nil), m.cashMethods[pos]...), nil
}

// =============================================================================
// routing.RuleStore / routing.TimezoneSource
// =============================================================================

func (m *Memory) ActiveRule(_ context.Context, pos routing.PointOfSaleID) (*routing.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := make([]routing.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r)
	}
	return routing.SelectRule(rules, pos), nil
}

func (m *Memory) Timezone(_ context.Context, user routing.UserID, pos routing.PointOfSaleID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tz := m.userTZ[user]; tz != "" {
		return tz, nil
	}
	return m.posTZ[pos], nil
}
