/*
handlers_test.go - HTTP tests for the routing API

Tests for:
- Order intake: alternation at 50%, non-cash tickets, payload shapes
- Rule lifecycle: validation, archive, totals, preview
- Voiding and listing orders by local day
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cash-router/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := NewHandler(store, logger)
	h.Now = func() time.Time { return testNow }
	return h
}

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	h := setupTestHandler(t)
	return &testServer{t: t, h: h, router: NewRouter(h, []string{"*"})}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) mustDo(method, path string, body any, status int) *httptest.ResponseRecorder {
	s.t.Helper()
	rec := s.do(method, path, body)
	require.Equal(s.t, status, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// seed creates companies HQ/A/B, pos-1 (default HQ) with cash and card,
// and a 50% rule on cash.
func (s *testServer) seed() {
	for _, id := range []string{"HQ", "A", "B"} {
		s.mustDo("POST", "/api/companies", map[string]string{"id": id, "name": "Company " + id}, http.StatusCreated)
	}
	s.mustDo("POST", "/api/points-of-sale", map[string]string{"id": "pos-1", "name": "Front", "company_id": "HQ"}, http.StatusCreated)
	s.mustDo("POST", "/api/payment-methods", map[string]any{"id": "3", "name": "Cash", "is_cash": true}, http.StatusCreated)
	s.mustDo("POST", "/api/payment-methods", map[string]any{"id": "4", "name": "Card"}, http.StatusCreated)
	s.mustDo("POST", "/api/points-of-sale/pos-1/payment-methods", map[string]string{"payment_method_id": "3"}, http.StatusOK)
	s.mustDo("POST", "/api/points-of-sale/pos-1/payment-methods", map[string]string{"payment_method_id": "4"}, http.StatusOK)
	s.mustDo("POST", "/api/rules", `{
		"id": "rule-1",
		"name": "Front split",
		"pos_id": "pos-1",
		"fiscal_company_id": "A",
		"non_fiscal_company_id": "B",
		"target_non_fiscal_percentage": 50,
		"cash_payment_method_ids": [3]
	}`, http.StatusCreated)
}

func cashOrder(id string, amount float64) map[string]any {
	return map[string]any{
		"id":            id,
		"pos_id":        "pos-1",
		"amount":        amount,
		"payment_lines": []any{map[string]any{"payment_method_id": 3, "amount": amount}},
	}
}

// =============================================================================
// ORDER INTAKE
// =============================================================================

func TestCreateOrder_AlternatesAtFiftyPercent(t *testing.T) {
	// GIVEN: a 50% rule on pos-1
	s := newTestServer(t)
	s.seed()

	// WHEN: three equal cash tickets arrive
	var companies []string
	var reasons []string
	for _, id := range []string{"o1", "o2", "o3"} {
		rec := s.mustDo("POST", "/api/orders", cashOrder(id, 100), http.StatusCreated)
		resp := decodeBody[OrderResponse](t, rec)
		companies = append(companies, resp.Order.CompanyID)
		reasons = append(reasons, resp.Routing.Reason)
		assert.True(t, resp.Routing.Routed)
	}

	// THEN: A, B, A
	assert.Equal(t, []string{"A", "B", "A"}, companies)
	assert.Equal(t, []string{"first_ticket", "below_target", "at_or_above_target"}, reasons)
}

func TestCreateOrder_CardTicketKeepsDefaultCompany(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.mustDo("POST", "/api/orders", map[string]any{
		"pos_id":        "pos-1",
		"amount":        "80",
		"payment_lines": []any{map[string]any{"payment_method_id": "4", "amount": "80"}},
	}, http.StatusCreated)

	resp := decodeBody[OrderResponse](t, rec)
	assert.False(t, resp.Routing.Routed)
	assert.Equal(t, "no_cash_payment", resp.Routing.Reason)
	assert.Equal(t, "HQ", resp.Order.CompanyID)
	assert.Len(t, resp.Order.ID, 26, "ULID assigned when id omitted")
}

func TestCreateOrder_AcceptsCommandTuplesAndMalformedLines(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.mustDo("POST", "/api/orders", `{
		"id": "odoo-1",
		"pos_id": "pos-1",
		"amount": 30,
		"payment_lines": [
			[0, 0, {"payment_method_id": [3, "Cash"], "amount": 20}],
			{"payment_method_id": {"bad": true}, "amount": 10}
		]
	}`, http.StatusCreated)

	resp := decodeBody[OrderResponse](t, rec)
	assert.True(t, resp.Routing.Routed)
	assert.Equal(t, "A", resp.Order.CompanyID)
	require.Len(t, resp.Order.PaymentLines, 2)
	assert.Equal(t, "3", resp.Order.PaymentLines[0].PaymentMethodID)
	assert.True(t, resp.Order.PaymentLines[1].Malformed)
}

func TestCreateOrder_Errors(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	s.mustDo("POST", "/api/orders", cashOrder("dup", 10), http.StatusCreated)
	s.mustDo("POST", "/api/orders", cashOrder("dup", 10), http.StatusConflict)

	rec := s.mustDo("POST", "/api/orders", map[string]any{"amount": 10}, http.StatusBadRequest)
	errResp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, errResp.Fields, "PointOfSaleID")

	orphan := cashOrder("orphan", 10)
	orphan["pos_id"] = "pos-unknown"
	s.mustDo("POST", "/api/orders", orphan, http.StatusNotFound)

	s.mustDo("POST", "/api/orders", `{not json`, http.StatusBadRequest)
}

func TestCreateOrder_NoRuleMeansDefaultCompany(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	s.mustDo("POST", "/api/rules/rule-1/archive", nil, http.StatusOK)

	rec := s.mustDo("POST", "/api/orders", cashOrder("o1", 10), http.StatusCreated)
	resp := decodeBody[OrderResponse](t, rec)
	assert.Equal(t, "no_rule", resp.Routing.Reason)
	assert.Equal(t, "HQ", resp.Order.CompanyID)
}

// =============================================================================
// RULES
// =============================================================================

func TestCreateRule_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.mustDo("POST", "/api/rules", `{
		"name": "Broken",
		"pos_id": "pos-1",
		"fiscal_company_id": "A",
		"non_fiscal_company_id": "A",
		"target_non_fiscal_percentage": 120
	}`, http.StatusBadRequest)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Fields, "NonFiscalCompanyID")
	assert.Contains(t, resp.Fields, "TargetNonFiscalPercentage")
}

func TestRuleLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	s.mustDo("POST", "/api/rules", `{"id":"rule-1","name":"x","pos_id":"pos-1","fiscal_company_id":"A","non_fiscal_company_id":"B","target_non_fiscal_percentage":1}`, http.StatusConflict)
	s.mustDo("GET", "/api/rules/missing", nil, http.StatusNotFound)

	rec := s.mustDo("PUT", "/api/rules/rule-1", `{
		"name": "Front split",
		"pos_id": "pos-1",
		"fiscal_company_id": "A",
		"non_fiscal_company_id": "B",
		"target_non_fiscal_percentage": "25",
		"enabled": false
	}`, http.StatusOK)
	updated := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "rule-1", updated["id"])
	assert.Equal(t, false, updated["enabled"])

	s.mustDo("POST", "/api/rules/rule-1/archive", nil, http.StatusOK)
	rec = s.mustDo("GET", "/api/rules", nil, http.StatusOK)
	rules := decodeBody[[]map[string]any](t, rec)
	require.Len(t, rules, 1, "archived rules are still listed")
	assert.Equal(t, false, rules[0]["active"])

	s.mustDo("POST", "/api/rules/missing/archive", nil, http.StatusNotFound)
}

func TestRuleTotalsPreviewAndVoid(t *testing.T) {
	// GIVEN: A=100, B=100
	s := newTestServer(t)
	s.seed()
	s.mustDo("POST", "/api/orders", cashOrder("o1", 100), http.StatusCreated)
	s.mustDo("POST", "/api/orders", cashOrder("o2", 100), http.StatusCreated)

	rec := s.mustDo("GET", "/api/rules/rule-1/totals", nil, http.StatusOK)
	totals := decodeBody[TotalsDTO](t, rec)
	assert.Equal(t, "2026-05-04", totals.Day)
	assert.Equal(t, "100", totals.Fiscal.String())
	assert.Equal(t, "100", totals.NonFiscal.String())
	assert.Equal(t, "50", totals.Ratio.String())

	// WHEN: previewing, nothing is persisted
	rec = s.mustDo("POST", "/api/rules/rule-1/preview", map[string]any{"amount": "10"}, http.StatusOK)
	preview := decodeBody[DecisionDTO](t, rec)
	assert.Equal(t, "A", preview.CompanyID)
	assert.Equal(t, "at_or_above_target", preview.Reason)
	s.mustDo("POST", "/api/rules/rule-1/preview", nil, http.StatusOK)

	// WHEN: the non-fiscal order is voided
	rec = s.mustDo("POST", "/api/orders/o2/void", nil, http.StatusOK)
	assert.Equal(t, "cancel", decodeBody[OrderDTO](t, rec).State)

	// THEN: the next decision sees it gone
	rec = s.mustDo("POST", "/api/rules/rule-1/preview", nil, http.StatusOK)
	assert.Equal(t, "B", decodeBody[DecisionDTO](t, rec).CompanyID)

	s.mustDo("POST", "/api/orders/missing/void", nil, http.StatusNotFound)
}

// =============================================================================
// LISTING
// =============================================================================

func TestListOrders_ByLocalDay(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	// 23:30 UTC on May 3 is May 4 in Lagos.
	late := cashOrder("late", 10)
	late["date_order"] = "2026-05-03T23:30:00Z"
	s.mustDo("POST", "/api/orders", late, http.StatusCreated)
	s.mustDo("POST", "/api/orders", cashOrder("today", 10), http.StatusCreated)

	rec := s.mustDo("GET", "/api/orders?pos_id=pos-1", nil, http.StatusOK)
	assert.Len(t, decodeBody[[]OrderDTO](t, rec), 1, "UTC day of pos-1")

	rec = s.mustDo("GET", "/api/orders?pos_id=pos-1&timezone=Africa/Lagos", nil, http.StatusOK)
	assert.Len(t, decodeBody[[]OrderDTO](t, rec), 2)

	rec = s.mustDo("GET", "/api/orders?pos_id=pos-1&date=2026-05-03", nil, http.StatusOK)
	assert.Len(t, decodeBody[[]OrderDTO](t, rec), 1)

	s.mustDo("GET", "/api/orders", nil, http.StatusBadRequest)
	s.mustDo("GET", "/api/orders?pos_id=pos-1&date=May-3", nil, http.StatusBadRequest)
}

func TestPointOfSaleEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seed()
	s.mustDo("POST", "/api/orders", cashOrder("o1", 10), http.StatusCreated)

	rec := s.mustDo("GET", "/api/points-of-sale/pos-1", nil, http.StatusOK)
	pos := decodeBody[PointOfSaleDTO](t, rec)
	assert.Equal(t, "HQ", pos.CompanyID)
	assert.Len(t, pos.PaymentMethods, 2)

	rec = s.mustDo("GET", "/api/points-of-sale/pos-1/companies", nil, http.StatusOK)
	companies := decodeBody[[]CompanyDTO](t, rec)
	var ids []string
	for _, c := range companies {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"HQ", "A"}, ids)

	s.mustDo("GET", "/api/points-of-sale/nope", nil, http.StatusNotFound)
	s.mustDo("POST", "/api/points-of-sale", map[string]string{"id": "p2", "name": "x", "company_id": "ghost"}, http.StatusBadRequest)
	s.mustDo("POST", "/api/points-of-sale", map[string]string{"id": "p2", "name": "x", "company_id": "HQ", "timezone": "Mars/Olympus"}, http.StatusBadRequest)
	s.mustDo("POST", "/api/users", map[string]string{"id": "u1", "name": "Ada", "timezone": "Africa/Lagos"}, http.StatusCreated)
	s.mustDo("GET", "/healthz", nil, http.StatusOK)
}
