package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentLine is one tender of a ticket. Lines arrive from POS clients in
// several shapes; anything that cannot be read is kept with Malformed set
// and never counts as cash.
type PaymentLine struct {
	MethodID  PaymentMethodID `json:"payment_method_id"`
	Amount    decimal.Decimal `json:"amount"`
	Malformed bool            `json:"-"`
}

// IsCash reports whether the line pays with one of methods.
func (l PaymentLine) IsCash(methods MethodSet) bool {
	return !l.Malformed && l.MethodID != "" && methods.Contains(l.MethodID)
}

// HasCashPayment reports whether any line pays with one of methods.
func HasCashPayment(lines []PaymentLine, methods MethodSet) bool {
	if methods.Empty() {
		return false
	}
	for _, l := range lines {
		if l.IsCash(methods) {
			return true
		}
	}
	return false
}

// CashAmount sums the cash lines.
func CashAmount(lines []PaymentLine, methods MethodSet) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		if l.IsCash(methods) {
			sum = sum.Add(l.Amount)
		}
	}
	return sum
}

// UnmarshalJSON accepts
//
//	{"payment_method_id": 3, "amount": 12.5}
//	{"method_id": "cash", "amount": "12.50"}
//	{"payment_method_id": [3, "Cash"], "amount": 12.5}
//	[0, 0, {"payment_method_id": 3, "amount": 12.5}]
//
// and never fails: unreadable input yields a Malformed line.
func (l *PaymentLine) UnmarshalJSON(data []byte) error {
	*l = parsePaymentLine(data)
	return nil
}

func parsePaymentLine(data []byte) PaymentLine {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return PaymentLine{Malformed: true}
	}

	// Command tuple: [0, 0, {values}]
	if tuple, ok := raw.([]any); ok {
		if len(tuple) != 3 {
			return PaymentLine{Malformed: true}
		}
		raw = tuple[2]
	}

	values, ok := raw.(map[string]any)
	if !ok {
		return PaymentLine{Malformed: true}
	}

	methodRaw, ok := values["payment_method_id"]
	if !ok {
		methodRaw = values["method_id"]
	}
	method, ok := parseMethodID(methodRaw)
	if !ok {
		return PaymentLine{Malformed: true}
	}

	amount, ok := parseAmount(values["amount"])
	if !ok {
		return PaymentLine{MethodID: method, Malformed: true}
	}
	return PaymentLine{MethodID: method, Amount: amount}
}

func parseMethodID(v any) (PaymentMethodID, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimSpace(t)
		return PaymentMethodID(t), t != ""
	case json.Number:
		if _, err := t.Int64(); err != nil {
			return "", false
		}
		return PaymentMethodID(t.String()), true
	case []any:
		// Many2one read format: [id, display_name]
		if len(t) == 0 {
			return "", false
		}
		return parseMethodID(t[0])
	default:
		return "", false
	}
}

func parseAmount(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		return d, err == nil
	case nil:
		return decimal.Zero, true
	default:
		return decimal.Zero, false
	}
}

// String is used in log fields.
func (l PaymentLine) String() string {
	if l.Malformed {
		return fmt.Sprintf("malformed(%s)", l.MethodID)
	}
	return fmt.Sprintf("%s:%s", l.MethodID, l.Amount)
}
