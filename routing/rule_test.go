package routing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cash-router/routing"
)

func TestRule_Validate(t *testing.T) {
	require.NoError(t, testRule("30").Validate())
	require.NoError(t, testRule("0").Validate())
	require.NoError(t, testRule("100").Validate())

	tests := []struct {
		name   string
		mutate func(r *routing.Rule)
		field  string
	}{
		{"same companies", func(r *routing.Rule) { r.NonFiscalCompanyID = r.FiscalCompanyID }, "NonFiscalCompanyID"},
		{"negative target", func(r *routing.Rule) { r.TargetNonFiscalPercentage = dec("-0.01") }, "TargetNonFiscalPercentage"},
		{"target above hundred", func(r *routing.Rule) { r.TargetNonFiscalPercentage = dec("100.5") }, "TargetNonFiscalPercentage"},
		{"missing point of sale", func(r *routing.Rule) { r.PointOfSaleID = "" }, "PointOfSaleID"},
		{"missing fiscal company", func(r *routing.Rule) { r.FiscalCompanyID = "" }, "FiscalCompanyID"},
		{"empty method id", func(r *routing.Rule) { r.CashPaymentMethodIDs = []routing.PaymentMethodID{""} }, "CashPaymentMethodIDs[0]"},
		{"negative sequence", func(r *routing.Rule) { r.Sequence = -1 }, "Sequence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRule("30")
			tt.mutate(&r)

			err := r.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, routing.ErrInvalidRule)
			assert.True(t, routing.IsClientError(err))
			var verr *routing.RuleValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestSelectRule_LowestSequenceWins(t *testing.T) {
	a := testRule("10")
	a.ID, a.Sequence = "rule-a", 20
	b := testRule("20")
	b.ID, b.Sequence = "rule-b", 5
	c := testRule("30")
	c.ID, c.Sequence = "rule-c", 1
	c.Enabled = false
	other := testRule("40")
	other.ID, other.Sequence, other.PointOfSaleID = "rule-x", 0, "pos-2"

	got := routing.SelectRule([]routing.Rule{a, b, c, other}, "pos-1")
	require.NotNil(t, got)
	assert.Equal(t, routing.RuleID("rule-b"), got.ID)

	assert.Nil(t, routing.SelectRule([]routing.Rule{c}, "pos-1"))
}

func TestSelectRule_TieBrokenByID(t *testing.T) {
	a := testRule("10")
	a.ID = "rule-b"
	b := testRule("20")
	b.ID = "rule-a"
	got := routing.SelectRule([]routing.Rule{a, b}, "pos-1")
	require.NotNil(t, got)
	assert.Equal(t, routing.RuleID("rule-a"), got.ID)
}

func TestLocalSequencer_RespectsContext(t *testing.T) {
	seq := routing.NewLocalSequencer()
	release, err := seq.Acquire(context.Background(), "r1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = seq.Acquire(ctx, "r1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other rules are independent.
	other, err := seq.Acquire(context.Background(), "r2")
	require.NoError(t, err)
	other()

	release()
	release() // idempotent
	again, err := seq.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	again()
}
