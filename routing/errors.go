/*
errors.go - Centralized error types for the routing engine

ERROR CATEGORIES:
  1. Configuration errors - invalid rules, rejected at save time
  2. Lookup errors - missing rules, orders, points of sale
  3. Store errors - the order store could not answer

PROPAGATION:
  Store errors reach the Router caller wrapped in ErrStoreUnavailable.
  The intake adapter never lets them escape: it logs and skips routing,
  so a failing aggregation can never block a sale.
*/
package routing

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRule is returned when a rule violates its invariants.
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrRuleNotFound is returned when a referenced rule doesn't exist.
	ErrRuleNotFound = errors.New("routing rule not found")

	// ErrOrderNotFound is returned when a referenced order doesn't exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPointOfSaleNotFound is returned when a referenced point of sale doesn't exist.
	ErrPointOfSaleNotFound = errors.New("point of sale not found")

	// ErrStoreUnavailable wraps any failure of the order store during routing.
	ErrStoreUnavailable = errors.New("order store unavailable")

	// ErrLockNotObtained is returned by a Sequencer that could not serialize.
	ErrLockNotObtained = errors.New("routing lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RuleValidationError lists every field that failed validation.
type RuleValidationError struct {
	RuleID RuleID
	Fields map[string]string // field -> failed check
}

func (e *RuleValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range sortedKeys(e.Fields) {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Fields[f]))
	}
	return fmt.Sprintf("invalid routing rule %q: %s", e.RuleID, strings.Join(parts, ", "))
}

func (e *RuleValidationError) Unwrap() error {
	return ErrInvalidRule
}

// StoreError records which store call failed during a routing decision.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }
func (e *StoreError) Unwrap() error        { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPointOfSaleNotFound)
}
