/*
Package factory provides JSON to Go routing rule conversion.

PURPOSE:
  Converts JSON rule definitions into routing.Rule values. Administrators
  configure cash routing from the admin UI or from seed files; the factory
  applies defaults and validates before anything reaches a store.

JSON SCHEMA:
  {
    "id": "front-desk-split",
    "name": "Front desk split",
    "pos_id": "pos-1",
    "fiscal_company_id": "A",
    "non_fiscal_company_id": "B",
    "target_non_fiscal_percentage": "30",
    "cash_payment_method_ids": [3, "petty-cash"],
    "enabled": true,
    "active": true,
    "sequence": 10
  }

DEFAULTS:
  - id: a new ULID
  - enabled, active: true
  - sequence: routing.DefaultSequence
  - cash_payment_method_ids omitted or empty: wildcard (every cash-counting
    method of the point of sale)

USAGE:
  f := factory.NewRuleFactory()
  rule, err := f.ParseRule(jsonString)
  if err != nil {
      // errors.Is(err, routing.ErrInvalidRule) for validation failures
  }
  store.SaveRule(ctx, rule)

SEE ALSO:
  - routing/rule.go: Rule type and Validate
  - api/scenarios.go: demo rules built from JSON
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/warp/cash-router/routing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a routing rule.
type RuleJSON struct {
	ID                 string          `json:"id,omitempty"`
	Name               string          `json:"name"`
	PointOfSaleID      string          `json:"pos_id"`
	FiscalCompanyID    string          `json:"fiscal_company_id"`
	NonFiscalCompanyID string          `json:"non_fiscal_company_id"`
	TargetPercentage   decimal.Decimal `json:"target_non_fiscal_percentage"`
	CashPaymentMethods IDList          `json:"cash_payment_method_ids,omitempty"`
	Enabled            *bool           `json:"enabled,omitempty"`
	Active             *bool           `json:"active,omitempty"`
	Sequence           *int            `json:"sequence,omitempty"`
}

// IDList accepts identifiers written as JSON strings or integers.
type IDList []string

func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for i, item := range raw {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		switch id := v.(type) {
		case string:
			out = append(out, strings.TrimSpace(id))
		case json.Number:
			n, err := id.Int64()
			if err != nil {
				return fmt.Errorf("id at index %d is not an integer: %s", i, id)
			}
			out = append(out, fmt.Sprint(n))
		default:
			return fmt.Errorf("id at index %d must be a string or integer", i)
		}
	}
	*l = out
	return nil
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to routing.Rule.
type RuleFactory struct {
	// NewID generates identifiers for rules created without one.
	NewID func() string
}

func NewRuleFactory() *RuleFactory {
	return &RuleFactory{NewID: func() string { return ulid.Make().String() }}
}

// ParseRule parses and validates a JSON rule.
func (f *RuleFactory) ParseRule(jsonStr string) (routing.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return routing.Rule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON applies defaults and validates.
func (f *RuleFactory) FromJSON(rj RuleJSON) (routing.Rule, error) {
	rule := routing.Rule{
		ID:                        routing.RuleID(strings.TrimSpace(rj.ID)),
		Name:                      strings.TrimSpace(rj.Name),
		PointOfSaleID:             routing.PointOfSaleID(rj.PointOfSaleID),
		FiscalCompanyID:           routing.CompanyID(rj.FiscalCompanyID),
		NonFiscalCompanyID:        routing.CompanyID(rj.NonFiscalCompanyID),
		TargetNonFiscalPercentage: rj.TargetPercentage,
		Enabled:                   boolOr(rj.Enabled, true),
		Active:                    boolOr(rj.Active, true),
		Sequence:                  routing.DefaultSequence,
	}
	if rule.ID == "" && f.NewID != nil {
		rule.ID = routing.RuleID(f.NewID())
	}
	if rj.Sequence != nil {
		rule.Sequence = *rj.Sequence
	}
	for _, id := range rj.CashPaymentMethods {
		rule.CashPaymentMethodIDs = append(rule.CashPaymentMethodIDs, routing.PaymentMethodID(id))
	}

	if err := rule.Validate(); err != nil {
		return routing.Rule{}, err
	}
	return rule, nil
}

// ToJSON converts a Rule to RuleJSON.
func (f *RuleFactory) ToJSON(rule routing.Rule) RuleJSON {
	enabled, active, seq := rule.Enabled, rule.Active, rule.Sequence
	rj := RuleJSON{
		ID:                 string(rule.ID),
		Name:               rule.Name,
		PointOfSaleID:      string(rule.PointOfSaleID),
		FiscalCompanyID:    string(rule.FiscalCompanyID),
		NonFiscalCompanyID: string(rule.NonFiscalCompanyID),
		TargetPercentage:   rule.TargetNonFiscalPercentage,
		Enabled:            &enabled,
		Active:             &active,
		Sequence:           &seq,
	}
	for _, id := range rule.CashPaymentMethodIDs {
		rj.CashPaymentMethods = append(rj.CashPaymentMethods, string(id))
	}
	return rj
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
