package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cash-router/factory"
	"github.com/warp/cash-router/routing"
)

func TestParseRule_Defaults(t *testing.T) {
	f := factory.NewRuleFactory()

	rule, err := f.ParseRule(`{
		"name": "Front desk",
		"pos_id": "pos-1",
		"fiscal_company_id": "A",
		"non_fiscal_company_id": "B",
		"target_non_fiscal_percentage": 30
	}`)

	require.NoError(t, err)
	assert.Len(t, string(rule.ID), 26, "ULID assigned")
	assert.True(t, rule.Enabled)
	assert.True(t, rule.Active)
	assert.Equal(t, routing.DefaultSequence, rule.Sequence)
	assert.True(t, rule.IsWildcard())
	assert.True(t, rule.TargetNonFiscalPercentage.Equal(decimal.NewFromInt(30)))
}

func TestParseRule_ExplicitFields(t *testing.T) {
	f := factory.NewRuleFactory()

	rule, err := f.ParseRule(`{
		"id": "split-1",
		"name": "Front desk",
		"pos_id": "pos-1",
		"fiscal_company_id": "A",
		"non_fiscal_company_id": "B",
		"target_non_fiscal_percentage": "12.5",
		"cash_payment_method_ids": [3, "petty"],
		"enabled": false,
		"active": true,
		"sequence": 0
	}`)

	require.NoError(t, err)
	assert.Equal(t, routing.RuleID("split-1"), rule.ID)
	assert.False(t, rule.Enabled)
	assert.Equal(t, 0, rule.Sequence)
	assert.Equal(t, []routing.PaymentMethodID{"3", "petty"}, rule.CashPaymentMethodIDs)
	assert.True(t, rule.TargetNonFiscalPercentage.Equal(decimal.RequireFromString("12.5")))
}

func TestParseRule_Invalid(t *testing.T) {
	f := factory.NewRuleFactory()

	tests := []struct {
		name string
		json string
	}{
		{"same companies", `{"name":"x","pos_id":"p","fiscal_company_id":"A","non_fiscal_company_id":"A","target_non_fiscal_percentage":10}`},
		{"target too high", `{"name":"x","pos_id":"p","fiscal_company_id":"A","non_fiscal_company_id":"B","target_non_fiscal_percentage":101}`},
		{"missing pos", `{"name":"x","fiscal_company_id":"A","non_fiscal_company_id":"B","target_non_fiscal_percentage":10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseRule(tt.json)
			assert.ErrorIs(t, err, routing.ErrInvalidRule)
		})
	}

	_, err := f.ParseRule(`{"cash_payment_method_ids": [1.5]}`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, routing.ErrInvalidRule, "syntax errors are not validation errors")
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewRuleFactory()
	rule, err := f.ParseRule(`{"id":"r1","name":"x","pos_id":"p","fiscal_company_id":"A","non_fiscal_company_id":"B","target_non_fiscal_percentage":"40","cash_payment_method_ids":["cash"],"sequence":3}`)
	require.NoError(t, err)

	raw, err := json.Marshal(f.ToJSON(rule))
	require.NoError(t, err)
	again, err := f.ParseRule(string(raw))
	require.NoError(t, err)
	assert.Equal(t, rule.ID, again.ID)
	assert.Equal(t, rule.Sequence, again.Sequence)
	assert.Equal(t, rule.CashPaymentMethodIDs, again.CashPaymentMethodIDs)
	assert.True(t, rule.TargetNonFiscalPercentage.Equal(again.TargetNonFiscalPercentage))
}
