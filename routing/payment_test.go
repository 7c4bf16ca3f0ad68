package routing_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cash-router/routing"
)

func TestPaymentLine_UnmarshalShapes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		method    routing.PaymentMethodID
		amount    string
		malformed bool
	}{
		{"object with numeric id", `{"payment_method_id": 3, "amount": 12.5}`, "3", "12.5", false},
		{"object with string id", `{"method_id": "cash", "amount": "12.50"}`, "cash", "12.5", false},
		{"many2one id", `{"payment_method_id": [7, "Cash"], "amount": 1}`, "7", "1", false},
		{"command tuple", `[0, 0, {"payment_method_id": 3, "amount": 4}]`, "3", "4", false},
		{"missing amount", `{"payment_method_id": 3}`, "3", "0", false},
		{"fractional id", `{"payment_method_id": 3.5, "amount": 1}`, "", "0", true},
		{"bad amount", `{"payment_method_id": 3, "amount": "ten"}`, "3", "0", true},
		{"blank id", `{"payment_method_id": "  ", "amount": 1}`, "", "0", true},
		{"null", `null`, "", "0", true},
		{"number", `42`, "", "0", true},
		{"short tuple", `[0, 0]`, "", "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l routing.PaymentLine
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &l))
			assert.Equal(t, tt.malformed, l.Malformed)
			assert.Equal(t, tt.method, l.MethodID)
			assert.True(t, l.Amount.Equal(dec(tt.amount)), "amount=%s", l.Amount)
		})
	}
}

func TestPaymentLine_MalformedIsNeverCash(t *testing.T) {
	methods := routing.NewMethodSet("3")
	bad := routing.PaymentLine{MethodID: "3", Malformed: true}
	good := routing.PaymentLine{MethodID: "3", Amount: dec("5")}

	assert.False(t, bad.IsCash(methods))
	assert.True(t, good.IsCash(methods))
	assert.True(t, routing.HasCashPayment([]routing.PaymentLine{bad, good}, methods))
	assert.False(t, routing.HasCashPayment([]routing.PaymentLine{bad}, methods))
	assert.True(t, routing.CashAmount([]routing.PaymentLine{bad, good}, methods).Equal(dec("5")))
}
