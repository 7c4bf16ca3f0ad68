/*
handlers.go - HTTP API handlers for cash routing

PURPOSE:
  Exposes point-of-sale configuration, routing rules and order intake via
  a REST API. Handles HTTP request/response and JSON serialization, and
  delegates to the routing engine and the SQLite store.

ENDPOINTS:
  Configuration:
    GET    /api/companies                           List companies
    POST   /api/companies                           Create company
    GET    /api/points-of-sale                      List points of sale
    POST   /api/points-of-sale                      Create point of sale
    GET    /api/points-of-sale/{id}                 Detail with payment methods
    POST   /api/points-of-sale/{id}/payment-methods Attach a payment method
    GET    /api/points-of-sale/{id}/companies       Companies used by the POS
    GET    /api/payment-methods                     List payment methods
    POST   /api/payment-methods                     Create payment method
    POST   /api/users                               Create user (timezone)

  Rules:
    GET    /api/rules                               List all rules
    POST   /api/rules                               Create rule from JSON
    GET    /api/rules/{id}                          Get rule
    PUT    /api/rules/{id}                          Replace rule
    POST   /api/rules/{id}/archive                  Archive rule
    GET    /api/rules/{id}/totals                   Today's cash totals
    POST   /api/rules/{id}/preview                  Decision without persisting

  Orders:
    POST   /api/orders                              Route and persist a ticket
    GET    /api/orders?pos_id=&date=&timezone=      Orders of a local day
    POST   /api/orders/{id}/void                    Cancel an order

REQUEST FLOW (POST /api/orders):
  1. Decode the ticket (payment lines are decoded leniently)
  2. Intake.Route picks a company, or leaves it empty
  3. Store.PersistTicket records it (default company when empty)
  4. Release the sequencer slot, respond with order + routing outcome

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unknown references
  - 404: Resource not found
  - 409: Duplicate order or rule
  - 500: Internal errors
  Routing failures never fail the request; see routing/intake.go.

SECURITY NOTE:
  No authentication or authorization. Put the service behind the POS
  backend's own auth.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/warp/cash-router/config"
	"github.com/warp/cash-router/factory"
	"github.com/warp/cash-router/routing"
	"github.com/warp/cash-router/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	RuleFactory *factory.RuleFactory
	Router      *routing.Router
	Intake      *routing.Intake
	Logger      logrus.FieldLogger
	Now         func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the routing engine on top of store.
func NewHandler(store *sqlite.Store, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	router := routing.NewRouter(routing.NewAggregator(store, logger), logger)
	intake := routing.NewIntake(store, router, logger)
	intake.Timezones = store

	h := &Handler{
		Store:       store,
		RuleFactory: factory.NewRuleFactory(),
		Router:      router,
		Intake:      intake,
		Logger:      logger,
		Now:         time.Now,
	}
	intake.Now = h.now
	return h
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// =============================================================================
// COMPANY HANDLERS
// =============================================================================

func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.Store.ListCompanies(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list companies", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyDTOs(companies))
}

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	c := sqlite.Company{ID: routing.CompanyID(req.ID), Name: req.Name}
	if err := h.Store.SaveCompany(r.Context(), c); err != nil {
		h.fail(w, r, "Failed to create company", err)
		return
	}
	writeJSON(w, http.StatusCreated, CompanyDTO{ID: req.ID, Name: req.Name})
}

// ListPointOfSaleCompanies returns the POS company plus every company its
// orders were booked on.
func (h *Handler) ListPointOfSaleCompanies(w http.ResponseWriter, r *http.Request) {
	pos := routing.PointOfSaleID(chi.URLParam(r, "id"))
	companies, err := h.Store.CompaniesForPointOfSale(r.Context(), pos)
	if err != nil {
		h.fail(w, r, "Failed to list companies", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompanyDTOs(companies))
}

func toCompanyDTOs(companies []sqlite.Company) []CompanyDTO {
	dtos := make([]CompanyDTO, len(companies))
	for i, c := range companies {
		dtos[i] = CompanyDTO{ID: string(c.ID), Name: c.Name, CreatedAt: c.CreatedAt.Format(time.RFC3339)}
	}
	return dtos
}

// =============================================================================
// POINT OF SALE & PAYMENT METHOD HANDLERS
// =============================================================================

func (h *Handler) ListPointsOfSale(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListPointsOfSale(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list points of sale", err)
		return
	}
	dtos := make([]PointOfSaleDTO, len(list))
	for i, p := range list {
		dtos[i] = PointOfSaleDTO{ID: string(p.ID), Name: p.Name, CompanyID: string(p.CompanyID), Timezone: p.Timezone}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreatePointOfSale(w http.ResponseWriter, r *http.Request) {
	var req CreatePointOfSaleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "Unknown timezone", err)
			return
		}
	}

	p := sqlite.PointOfSale{
		ID:        routing.PointOfSaleID(req.ID),
		Name:      req.Name,
		CompanyID: routing.CompanyID(req.CompanyID),
		Timezone:  req.Timezone,
	}
	if err := h.Store.SavePointOfSale(r.Context(), p); err != nil {
		h.fail(w, r, "Failed to create point of sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, PointOfSaleDTO{ID: req.ID, Name: req.Name, CompanyID: req.CompanyID, Timezone: req.Timezone})
}

func (h *Handler) GetPointOfSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := routing.PointOfSaleID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPointOfSale(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get point of sale", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Point of sale not found", nil)
		return
	}

	methods, err := h.Store.PaymentMethodsFor(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get payment methods", err)
		return
	}
	writeJSON(w, http.StatusOK, PointOfSaleDTO{
		ID:             string(p.ID),
		Name:           p.Name,
		CompanyID:      string(p.CompanyID),
		Timezone:       p.Timezone,
		PaymentMethods: toPaymentMethodDTOs(methods),
	})
}

func (h *Handler) AttachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req AttachPaymentMethodRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	pos := routing.PointOfSaleID(chi.URLParam(r, "id"))
	if err := h.Store.AttachPaymentMethod(r.Context(), pos, routing.PaymentMethodID(req.PaymentMethodID)); err != nil {
		h.fail(w, r, "Failed to attach payment method", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.Store.ListPaymentMethods(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list payment methods", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentMethodDTOs(methods))
}

func (h *Handler) CreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentMethodRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	m := sqlite.PaymentMethod{ID: routing.PaymentMethodID(req.ID), Name: req.Name, IsCash: req.IsCash}
	if err := h.Store.SavePaymentMethod(r.Context(), m); err != nil {
		h.fail(w, r, "Failed to create payment method", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentMethodDTO{ID: req.ID, Name: req.Name, IsCash: req.IsCash})
}

func toPaymentMethodDTOs(methods []sqlite.PaymentMethod) []PaymentMethodDTO {
	dtos := make([]PaymentMethodDTO, len(methods))
	for i, m := range methods {
		dtos[i] = PaymentMethodDTO{ID: string(m.ID), Name: m.Name, IsCash: m.IsCash}
	}
	return dtos
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	u := sqlite.User{ID: routing.UserID(req.ID), Name: req.Name, Timezone: req.Timezone}
	if err := h.Store.SaveUser(r.Context(), u); err != nil {
		h.fail(w, r, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, UserDTO{ID: req.ID, Name: req.Name, Timezone: req.Timezone})
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list rules", err)
		return
	}
	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = h.RuleFactory.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		h.fail(w, r, "Invalid rule configuration", err)
		return
	}

	if _, err := h.Store.GetRule(ctx, rule.ID); err == nil {
		writeError(w, http.StatusConflict, "Rule already exists", nil)
		return
	} else if !errors.Is(err, routing.ErrRuleNotFound) {
		h.fail(w, r, "Failed to check rule", err)
		return
	}

	if err := h.Store.SaveRule(ctx, rule); err != nil {
		h.fail(w, r, "Failed to create rule", err)
		return
	}
	h.logger(r).WithField("rule_id", rule.ID).Info("routing rule created")
	writeJSON(w, http.StatusCreated, h.RuleFactory.ToJSON(rule))
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Store.GetRule(r.Context(), routing.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, h.RuleFactory.ToJSON(rule))
}

// UpdateRule replaces a rule. Omitted flags default like on create.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := routing.RuleID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetRule(ctx, id); err != nil {
		h.fail(w, r, "Failed to get rule", err)
		return
	}

	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rj.ID = string(id)
	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		h.fail(w, r, "Invalid rule configuration", err)
		return
	}
	if err := h.Store.SaveRule(ctx, rule); err != nil {
		h.fail(w, r, "Failed to update rule", err)
		return
	}
	h.logger(r).WithField("rule_id", rule.ID).Info("routing rule updated")
	writeJSON(w, http.StatusOK, h.RuleFactory.ToJSON(rule))
}

func (h *Handler) ArchiveRule(w http.ResponseWriter, r *http.Request) {
	id := routing.RuleID(chi.URLParam(r, "id"))
	if err := h.Store.ArchiveRule(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to archive rule", err)
		return
	}
	h.logger(r).WithField("rule_id", id).Info("routing rule archived")
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// GetRuleTotals reports today's cash totals for a rule.
// GET /api/rules/{id}/totals?timezone=Africa/Lagos
func (h *Handler) GetRuleTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := h.Store.GetRule(ctx, routing.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get rule", err)
		return
	}

	tz := h.timezoneFor(r, r.URL.Query().Get("timezone"), rule.PointOfSaleID)
	totals, window, err := h.Router.Totals(ctx, rule, tz, h.now())
	if err != nil {
		h.fail(w, r, "Failed to compute totals", err)
		return
	}

	writeJSON(w, http.StatusOK, TotalsDTO{
		RuleID:             string(rule.ID),
		Day:                window.Day(),
		Timezone:           window.Location.String(),
		FiscalCompanyID:    string(rule.FiscalCompanyID),
		NonFiscalCompanyID: string(rule.NonFiscalCompanyID),
		Fiscal:             totals.Fiscal,
		NonFiscal:          totals.NonFiscal,
		Total:              totals.Total(),
		Ratio:              totals.NonFiscalRatio().Round(2),
		Target:             rule.TargetNonFiscalPercentage,
	})
}

// PreviewRule returns the company the next cash ticket would get.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := h.Store.GetRule(ctx, routing.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get rule", err)
		return
	}

	// The body is optional.
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tz := h.timezoneFor(r, req.Timezone, rule.PointOfSaleID)
	decision, err := h.Router.DecideCompany(ctx, rule, req.Amount, tz, h.now())
	if err != nil {
		h.fail(w, r, "Failed to compute decision", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(decision))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder routes a ticket and persists it. Routing problems are
// reported in the response but never fail the request.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	t := &routing.Ticket{
		ID:            routing.OrderID(req.ID),
		PointOfSaleID: routing.PointOfSaleID(req.PointOfSaleID),
		SessionID:     req.SessionID,
		UserID:        routing.UserID(req.UserID),
		Amount:        req.Amount,
		PaymentLines:  req.PaymentLines,
	}
	if t.ID == "" {
		t.ID = routing.OrderID(ulid.Make().String())
	}
	if req.DateOrder != nil {
		t.DateOrder = req.DateOrder.UTC()
	}

	outcome, err := h.ingest(ctx, t)
	if err != nil {
		h.fail(w, r, "Failed to create order", err)
		return
	}

	record, err := h.Store.GetOrder(ctx, t.ID)
	if err != nil {
		h.fail(w, r, "Failed to load order", err)
		return
	}
	writeJSON(w, http.StatusCreated, OrderResponse{Order: toOrderDTO(record), Routing: toRoutingDTO(outcome)})
}

// ingest routes t and persists it with the routing reason. The sequencer
// slot, if any, is held until the order is written.
func (h *Handler) ingest(ctx context.Context, t *routing.Ticket) (routing.Outcome, error) {
	outcome, release := h.Intake.Route(ctx, t)
	defer release()
	return outcome, h.Store.PersistTicket(ctx, t, outcome.Reason)
}

// ListOrders returns the orders of one point of sale on a local day.
// GET /api/orders?pos_id=pos-1&date=2026-05-04&timezone=Africa/Lagos
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	pos := routing.PointOfSaleID(q.Get("pos_id"))
	if pos == "" {
		writeError(w, http.StatusBadRequest, "pos_id is required", nil)
		return
	}

	loc := routing.ResolveLocation(h.timezoneFor(r, q.Get("timezone"), pos))
	window := routing.WindowIn(loc, h.now())
	if date := q.Get("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		window = routing.DayWindow(loc, day.Year(), day.Month(), day.Day())
	}

	records, err := h.Store.ListOrders(ctx, pos, window)
	if err != nil {
		h.fail(w, r, "Failed to list orders", err)
		return
	}
	dtos := make([]OrderDTO, 0, len(records))
	for _, rec := range records {
		if window.Contains(rec.DateOrder) {
			dtos = append(dtos, toOrderDTO(rec))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VoidOrder cancels an order; it stops counting towards today's totals.
func (h *Handler) VoidOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := routing.OrderID(chi.URLParam(r, "id"))

	if err := h.Store.VoidOrder(ctx, id); err != nil {
		h.fail(w, r, "Failed to void order", err)
		return
	}
	record, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to load order", err)
		return
	}
	h.logger(r).WithField("order_id", id).Info("order voided")
	writeJSON(w, http.StatusOK, toOrderDTO(record))
}

// =============================================================================
// HELPERS
// =============================================================================

// timezoneFor returns explicit when set, else the point of sale's zone.
func (h *Handler) timezoneFor(r *http.Request, explicit string, pos routing.PointOfSaleID) string {
	if explicit != "" {
		return explicit
	}
	tz, err := h.Store.Timezone(r.Context(), "", pos)
	if err != nil {
		h.logger(r).WithError(err).Debug("timezone lookup failed; using UTC")
		return ""
	}
	return tz
}

// fail maps domain errors to HTTP statuses. Unexpected errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	var verr *routing.RuleValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Details: err.Error(), Fields: verr.Fields})
	case routing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, sqlite.ErrUnknownReference):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, sqlite.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, message, err)
	default:
		config.LogError(h.logger(r), "api", r.Method+" "+r.URL.Path, message, nil, err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *Handler) logger(r *http.Request) logrus.FieldLogger {
	if entry := loggerFromContext(r.Context()); entry != nil {
		return entry
	}
	return h.Logger
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return validate.Struct(dst)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Fields: fields})
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body", err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
