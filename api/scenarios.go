/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates companies, a point of sale, its
	payment methods, a routing rule, and a day of tickets pushed through
	the same intake path as POST /api/orders.

AVAILABLE SCENARIOS:

	balanced-50:        Target 50%, cash and card tickets alternate companies
	timezone-boundary:  Lagos kiosk with a sale right at local midnight
	wildcard-cash:      Rule without explicit methods; every cash-counting
	                    method of the point of sale qualifies

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create companies, payment methods, point of sale
 3. Create the rule via the rule factory
 4. Ingest tickets spread between local midnight and now

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "balanced-50"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ingest, the shared intake path
  - factory/rule.go: Rule JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/cash-router/routing"
	"github.com/warp/cash-router/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "balanced-50",
		Name:        "Balanced 50/50",
		Description: "Front desk with a 50% target; cash tickets alternate between the two companies, card tickets stay on the store company",
	},
	{
		ID:          "timezone-boundary",
		Name:        "Timezone Boundary",
		Description: "Lagos kiosk (UTC+1): a sale at local midnight counts for today although it is still yesterday in UTC",
	},
	{
		ID:          "wildcard-cash",
		Name:        "Wildcard Cash Methods",
		Description: "Market stall rule without explicit methods; cash and petty cash both count, card does not",
	},
}

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if err == errUnknownScenario {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		h.fail(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.logger(r).WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errUnknownScenario = fmt.Errorf("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var loader func(context.Context) error
	switch id {
	case "balanced-50":
		loader = h.loadBalancedScenario
	case "timezone-boundary":
		loader = h.loadTimezoneBoundaryScenario
	case "wildcard-cash":
		loader = h.loadWildcardCashScenario
	default:
		return errUnknownScenario
	}

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.setCurrentScenario("")

	if err := loader(ctx); err != nil {
		return err
	}
	h.setCurrentScenario(id)
	return nil
}

func (h *Handler) setCurrentScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBalancedScenario(ctx context.Context) error {
	pos := sqlite.PointOfSale{ID: "front-desk", Name: "Front Desk", CompanyID: "store", Timezone: "UTC"}
	if err := h.seedPointOfSale(ctx, pos,
		sqlite.PaymentMethod{ID: "cash", Name: "Cash", IsCash: true},
		sqlite.PaymentMethod{ID: "card", Name: "Card"},
	); err != nil {
		return err
	}

	if err := h.seedRule(ctx, `{
		"id": "front-desk-split",
		"name": "Front desk 50/50",
		"pos_id": "front-desk",
		"fiscal_company_id": "fiscal",
		"non_fiscal_company_id": "side",
		"target_non_fiscal_percentage": "50",
		"cash_payment_method_ids": ["cash"]
	}`); err != nil {
		return err
	}

	tickets := []struct {
		method string
		amount string
	}{
		{"cash", "25.00"}, {"cash", "25.00"}, {"card", "80.00"}, {"cash", "12.50"},
		{"cash", "40.00"}, {"card", "15.00"}, {"cash", "9.90"}, {"cash", "30.00"},
	}
	for i, tk := range tickets {
		if err := h.seedTicket(ctx, pos, fmt.Sprintf("b50-%02d", i+1), i, len(tickets), tk.method, tk.amount); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadTimezoneBoundaryScenario(ctx context.Context) error {
	pos := sqlite.PointOfSale{ID: "night-kiosk", Name: "Night Kiosk", CompanyID: "store", Timezone: "Africa/Lagos"}
	if err := h.seedPointOfSale(ctx, pos, sqlite.PaymentMethod{ID: "cash", Name: "Cash", IsCash: true}); err != nil {
		return err
	}
	if err := h.Store.SaveUser(ctx, sqlite.User{ID: "night-cashier", Name: "Night Cashier", Timezone: "Africa/Lagos"}); err != nil {
		return err
	}

	if err := h.seedRule(ctx, `{
		"id": "night-kiosk-split",
		"name": "Night kiosk 30%",
		"pos_id": "night-kiosk",
		"fiscal_company_id": "fiscal",
		"non_fiscal_company_id": "side",
		"target_non_fiscal_percentage": "30",
		"cash_payment_method_ids": ["cash"]
	}`); err != nil {
		return err
	}

	today := routing.ResolveWindow(pos.Timezone, h.now())

	// Yesterday's late sale: one minute before local midnight. Booked
	// directly; it must not count today.
	late := &routing.Ticket{
		ID:            "tzb-yesterday",
		PointOfSaleID: pos.ID,
		UserID:        "night-cashier",
		Amount:        decimal.NewFromInt(500),
		PaymentLines:  []routing.PaymentLine{{MethodID: "cash", Amount: decimal.NewFromInt(500)}},
		DateOrder:     today.Start.Add(-time.Minute),
		CompanyID:     "fiscal",
	}
	if err := h.Store.PersistTicket(ctx, late, routing.ReasonFirstTicket); err != nil {
		return err
	}

	// Local midnight is 23:00 UTC the previous day. This is the first
	// ticket of the local day and goes to the fiscal company.
	midnight := &routing.Ticket{
		ID:            "tzb-midnight",
		PointOfSaleID: pos.ID,
		UserID:        "night-cashier",
		Amount:        decimal.NewFromInt(100),
		PaymentLines:  []routing.PaymentLine{{MethodID: "cash", Amount: decimal.NewFromInt(100)}},
		DateOrder:     today.Start,
	}
	_, err := h.ingest(ctx, midnight)
	return err
}

func (h *Handler) loadWildcardCashScenario(ctx context.Context) error {
	pos := sqlite.PointOfSale{ID: "market-stall", Name: "Market Stall", CompanyID: "store", Timezone: "Europe/Paris"}
	if err := h.seedPointOfSale(ctx, pos,
		sqlite.PaymentMethod{ID: "cash", Name: "Cash", IsCash: true},
		sqlite.PaymentMethod{ID: "petty-cash", Name: "Petty Cash", IsCash: true},
		sqlite.PaymentMethod{ID: "card", Name: "Card"},
	); err != nil {
		return err
	}

	if err := h.seedRule(ctx, `{
		"id": "market-stall-split",
		"name": "Market stall 40%",
		"pos_id": "market-stall",
		"fiscal_company_id": "fiscal",
		"non_fiscal_company_id": "side",
		"target_non_fiscal_percentage": "40"
	}`); err != nil {
		return err
	}

	tickets := []struct {
		method string
		amount string
	}{
		{"petty-cash", "30.00"}, {"cash", "20.00"}, {"card", "50.00"}, {"cash", "10.00"}, {"petty-cash", "5.00"},
	}
	for i, tk := range tickets {
		if err := h.seedTicket(ctx, pos, fmt.Sprintf("wc-%02d", i+1), i, len(tickets), tk.method, tk.amount); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// seedPointOfSale creates the three demo companies, the point of sale and
// its payment methods.
func (h *Handler) seedPointOfSale(ctx context.Context, pos sqlite.PointOfSale, methods ...sqlite.PaymentMethod) error {
	for _, c := range []sqlite.Company{
		{ID: "store", Name: "Main Street Retail"},
		{ID: "fiscal", Name: "Main Street Retail SARL"},
		{ID: "side", Name: "Main Street Services"},
	} {
		if err := h.Store.SaveCompany(ctx, c); err != nil {
			return err
		}
	}
	if err := h.Store.SavePointOfSale(ctx, pos); err != nil {
		return err
	}
	for _, m := range methods {
		if err := h.Store.SavePaymentMethod(ctx, m); err != nil {
			return err
		}
		if err := h.Store.AttachPaymentMethod(ctx, pos.ID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedRule(ctx context.Context, ruleJSON string) error {
	rule, err := h.RuleFactory.ParseRule(ruleJSON)
	if err != nil {
		return err
	}
	return h.Store.SaveRule(ctx, rule)
}

// seedTicket ingests ticket i of n, spread evenly between local midnight
// and now.
func (h *Handler) seedTicket(ctx context.Context, pos sqlite.PointOfSale, id string, i, n int, method, amount string) error {
	now := h.now()
	window := routing.ResolveWindow(pos.Timezone, now)
	elapsed := now.Sub(window.Start)
	at := window.Start.Add(elapsed * time.Duration(i+1) / time.Duration(n+1))

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	t := &routing.Ticket{
		ID:            routing.OrderID(id),
		PointOfSaleID: pos.ID,
		Amount:        value,
		PaymentLines:  []routing.PaymentLine{{MethodID: routing.PaymentMethodID(method), Amount: value}},
		DateOrder:     at,
	}
	_, err = h.ingest(ctx, t)
	return err
}
