/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the routing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Configuration:
    CompanyDTO, PointOfSaleDTO, PaymentMethodDTO, UserDTO and their
    Create*Request counterparts. Rules use factory.RuleJSON directly.

  Routing:
    TotalsDTO, PreviewRequest, DecisionDTO

  Orders:
    CreateOrderRequest, OrderDTO, OrderResponse, RoutingDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator tags; handlers call decodeAndValidate.
  Payment lines are decoded leniently by routing.PaymentLine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/cash-router/routing"
	"github.com/warp/cash-router/store/sqlite"
)

var validate = validator.New()

// =============================================================================
// CONFIGURATION
// =============================================================================

type CompanyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateCompanyRequest struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=128"`
}

type PointOfSaleDTO struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	CompanyID      string             `json:"company_id"`
	Timezone       string             `json:"timezone,omitempty"`
	PaymentMethods []PaymentMethodDTO `json:"payment_methods,omitempty"`
}

type CreatePointOfSaleRequest struct {
	ID        string `json:"id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=128"`
	CompanyID string `json:"company_id" validate:"required"`
	Timezone  string `json:"timezone"`
}

type PaymentMethodDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsCash bool   `json:"is_cash"`
}

type CreatePaymentMethodRequest struct {
	ID     string `json:"id" validate:"required,max=64"`
	Name   string `json:"name" validate:"required,max=128"`
	IsCash bool   `json:"is_cash"`
}

type AttachPaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

type CreateUserRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=128"`
	Timezone string `json:"timezone"`
}

// =============================================================================
// ROUTING
// =============================================================================

// TotalsDTO reports today's cash totals for a rule.
type TotalsDTO struct {
	RuleID             string          `json:"rule_id"`
	Day                string          `json:"day"`
	Timezone           string          `json:"timezone"`
	FiscalCompanyID    string          `json:"fiscal_company_id"`
	NonFiscalCompanyID string          `json:"non_fiscal_company_id"`
	Fiscal             decimal.Decimal `json:"fiscal"`
	NonFiscal          decimal.Decimal `json:"non_fiscal"`
	Total              decimal.Decimal `json:"total"`
	Ratio              decimal.Decimal `json:"ratio"`
	Target             decimal.Decimal `json:"target"`
}

type PreviewRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Timezone string          `json:"timezone"`
}

type DecisionDTO struct {
	RuleID    string          `json:"rule_id"`
	CompanyID string          `json:"company_id"`
	Reason    string          `json:"reason"`
	Fiscal    decimal.Decimal `json:"fiscal"`
	NonFiscal decimal.Decimal `json:"non_fiscal"`
	Ratio     decimal.Decimal `json:"ratio"`
	Target    decimal.Decimal `json:"target"`
	Day       string          `json:"day"`
}

func toDecisionDTO(d routing.Decision) DecisionDTO {
	return DecisionDTO{
		RuleID:    string(d.RuleID),
		CompanyID: string(d.CompanyID),
		Reason:    string(d.Reason),
		Fiscal:    d.Totals.Fiscal,
		NonFiscal: d.Totals.NonFiscal,
		Ratio:     d.Ratio.Round(2),
		Target:    d.Target,
		Day:       d.Window.Day(),
	}
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrderRequest is a ticket as sent by the register.
type CreateOrderRequest struct {
	ID            string                `json:"id"`
	PointOfSaleID string                `json:"pos_id" validate:"required"`
	SessionID     string                `json:"session_id"`
	UserID        string                `json:"user_id"`
	Amount        decimal.Decimal       `json:"amount"`
	PaymentLines  []routing.PaymentLine `json:"payment_lines"`
	DateOrder     *time.Time            `json:"date_order,omitempty"`
}

type PaymentLineDTO struct {
	PaymentMethodID string          `json:"payment_method_id"`
	Amount          decimal.Decimal `json:"amount"`
	Malformed       bool            `json:"malformed,omitempty"`
}

type OrderDTO struct {
	ID            string           `json:"id"`
	PointOfSaleID string           `json:"pos_id"`
	SessionID     string           `json:"session_id,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
	CompanyID     string           `json:"company_id"`
	State         string           `json:"state"`
	Amount        decimal.Decimal  `json:"amount"`
	DateOrder     string           `json:"date_order"`
	RoutingReason string           `json:"routing_reason,omitempty"`
	PaymentLines  []PaymentLineDTO `json:"payment_lines"`
}

type RoutingDTO struct {
	Routed   bool         `json:"routed"`
	Reason   string       `json:"reason"`
	RuleID   string       `json:"rule_id,omitempty"`
	Decision *DecisionDTO `json:"decision,omitempty"`
}

type OrderResponse struct {
	Order   OrderDTO   `json:"order"`
	Routing RoutingDTO `json:"routing"`
}

func toOrderDTO(o sqlite.OrderRecord) OrderDTO {
	dto := OrderDTO{
		ID:            string(o.ID),
		PointOfSaleID: string(o.PointOfSaleID),
		SessionID:     o.SessionID,
		UserID:        string(o.UserID),
		CompanyID:     string(o.CompanyID),
		State:         string(o.State),
		Amount:        o.Amount,
		DateOrder:     o.DateOrder.Format(time.RFC3339),
		RoutingReason: string(o.RoutingReason),
		PaymentLines:  make([]PaymentLineDTO, 0, len(o.PaymentLines)),
	}
	for _, l := range o.PaymentLines {
		dto.PaymentLines = append(dto.PaymentLines, PaymentLineDTO{
			PaymentMethodID: string(l.MethodID),
			Amount:          l.Amount,
			Malformed:       l.Malformed,
		})
	}
	return dto
}

func toRoutingDTO(o routing.Outcome) RoutingDTO {
	dto := RoutingDTO{Routed: o.Routed, Reason: string(o.Reason), RuleID: string(o.RuleID)}
	if o.Decision != nil {
		d := toDecisionDTO(*o.Decision)
		dto.Decision = &d
	}
	return dto
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is returned for errors.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
