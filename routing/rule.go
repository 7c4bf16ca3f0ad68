/*
rule.go - Routing rule configuration

PURPOSE:
  A Rule binds one point of sale to a fiscal/non-fiscal company pair, a
  target non-fiscal percentage and the payment methods it reacts to.
  Rules are written by administrators and are read-only while a decision
  runs; the decision process never mutates them.

INVARIANTS (checked by Validate, at save time only):
  - FiscalCompanyID != NonFiscalCompanyID
  - 0 <= TargetNonFiscalPercentage <= 100
  - PointOfSaleID and both company IDs are set

LOOKUP:
  Only rules that are both Enabled and Active are visible to routing.
  Enabled is the operational toggle; Active is archival. Toggling one never
  touches the other. When several live rules target the same point of sale
  the lowest Sequence wins (ties broken by ID), see SelectRule.
*/
package routing

import (
	"errors"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultSequence is assigned to rules created without an explicit sequence.
const DefaultSequence = 10

type Rule struct {
	ID                        RuleID            `validate:"required"`
	Name                      string            `validate:"required,max=128"`
	PointOfSaleID             PointOfSaleID     `validate:"required"`
	FiscalCompanyID           CompanyID         `validate:"required"`
	NonFiscalCompanyID        CompanyID         `validate:"required,nefield=FiscalCompanyID"`
	TargetNonFiscalPercentage decimal.Decimal
	CashPaymentMethodIDs      []PaymentMethodID `validate:"dive,required"`
	Enabled                   bool
	Active                    bool
	Sequence                  int `validate:"min=0"`
}

var validate = validator.New()

// Validate checks the rule's invariants and returns a *RuleValidationError
// listing every failing field.
func (r Rule) Validate() error {
	fields := make(map[string]string)

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}

	if r.TargetNonFiscalPercentage.IsNegative() || r.TargetNonFiscalPercentage.GreaterThan(hundred) {
		fields["TargetNonFiscalPercentage"] = "range"
	}

	if len(fields) > 0 {
		return &RuleValidationError{RuleID: r.ID, Fields: fields}
	}
	return nil
}

// Live reports whether the rule is visible to routing.
func (r Rule) Live() bool { return r.Enabled && r.Active }

// IsWildcard reports whether the rule reacts to every cash-counting method
// of its point of sale.
func (r Rule) IsWildcard() bool { return len(r.CashPaymentMethodIDs) == 0 }

// Owns reports whether company is one of the rule's two companies.
func (r Rule) Owns(company CompanyID) bool {
	return company == r.FiscalCompanyID || company == r.NonFiscalCompanyID
}

// SelectRule returns the live rule with the lowest sequence for posID, or
// nil when none applies.
func SelectRule(rules []Rule, posID PointOfSaleID) *Rule {
	var candidates []Rule
	for _, r := range rules {
		if r.PointOfSaleID == posID && r.Live() {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Sequence != candidates[j].Sequence {
			return candidates[i].Sequence < candidates[j].Sequence
		}
		return candidates[i].ID < candidates[j].ID
	})
	selected := candidates[0]
	return &selected
}

// =============================================================================
// METHOD SET
// =============================================================================

// MethodSet is a set of payment method identifiers.
type MethodSet map[PaymentMethodID]struct{}

func NewMethodSet(ids ...PaymentMethodID) MethodSet {
	s := make(MethodSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s MethodSet) Contains(id PaymentMethodID) bool {
	_, ok := s[id]
	return ok
}

func (s MethodSet) Empty() bool { return len(s) == 0 }

// Sorted returns the members in ascending order.
func (s MethodSet) Sorted() []PaymentMethodID {
	out := make([]PaymentMethodID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
