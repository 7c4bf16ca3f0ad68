package routing_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cash-router/routing"
	"github.com/warp/cash-router/routing/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func cashLine(method, amount string) routing.PaymentLine {
	return routing.PaymentLine{MethodID: routing.PaymentMethodID(method), Amount: dec(amount)}
}

func paidOrder(id, company, amount string, at time.Time, lines ...routing.PaymentLine) routing.Order {
	return routing.Order{
		ID:            routing.OrderID(id),
		PointOfSaleID: "pos-1",
		CompanyID:     routing.CompanyID(company),
		State:         routing.OrderPaid,
		Amount:        dec(amount),
		PaymentLines:  lines,
		DateOrder:     at,
	}
}

// failingStore errors on every call.
type failingStore struct{}

func (failingStore) FindSettledOrders(context.Context, routing.CompanyID, routing.Window) ([]routing.Order, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) FindCashPaymentMethods(context.Context, routing.PointOfSaleID) ([]routing.PaymentMethodID, error) {
	return nil, errors.New("connection reset")
}

func TestAggregator_SumsSettledCashOrdersPerCompany(t *testing.T) {
	// GIVEN: a day with cash, card, voided, draft and foreign-company orders
	ctx := context.Background()
	mem := store.NewMemory()
	now := time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)
	morning := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	mem.SaveOrder(paidOrder("o1", "A", "100", morning, cashLine("cash", "100")))
	mem.SaveOrder(paidOrder("o2", "B", "40", morning, cashLine("cash", "40")))
	mem.SaveOrder(paidOrder("o3", "A", "500", morning, cashLine("card", "500")))
	mem.SaveOrder(paidOrder("o4", "B", "60", morning, cashLine("card", "20"), cashLine("cash", "40")))
	mem.SaveOrder(paidOrder("o5", "C", "999", morning, cashLine("cash", "999")))
	mem.SaveOrder(paidOrder("o6", "A", "70", morning, cashLine("cash", "70")))
	require.NoError(t, mem.Void("o6"))
	draft := paidOrder("o7", "A", "80", morning, cashLine("cash", "80"))
	draft.State = routing.OrderDraft
	mem.SaveOrder(draft)
	mem.SaveOrder(paidOrder("o8", "A", "300", morning.AddDate(0, 0, -1), cashLine("cash", "300")))

	agg := routing.NewAggregator(mem, quietLogger())

	// WHEN
	got, err := agg.DailyTotals(ctx, testRule("30"), routing.ResolveWindow("", now))

	// THEN: mixed tender order o4 counts with its full amount
	require.NoError(t, err)
	assert.True(t, got.Fiscal.Equal(dec("100")), "fiscal=%s", got.Fiscal)
	assert.True(t, got.NonFiscal.Equal(dec("100")), "nonFiscal=%s", got.NonFiscal)
}

func TestAggregator_WildcardUsesPointOfSaleCashMethods(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.SetCashMethods("pos-1", "cash", "petty")
	now := time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)
	mem.SaveOrder(paidOrder("o1", "A", "10", now.Add(-time.Hour), cashLine("petty", "10")))
	mem.SaveOrder(paidOrder("o2", "B", "5", now.Add(-time.Hour), cashLine("card", "5")))

	rule := testRule("30")
	rule.CashPaymentMethodIDs = nil

	agg := routing.NewAggregator(mem, quietLogger())
	methods, err := agg.CashMethods(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, []routing.PaymentMethodID{"cash", "petty"}, methods.Sorted())

	got, err := agg.DailyTotals(ctx, rule, routing.ResolveWindow("", now))
	require.NoError(t, err)
	assert.True(t, got.Fiscal.Equal(dec("10")))
	assert.True(t, got.NonFiscal.IsZero())
}

func TestAggregator_EmptyWildcardShortCircuits(t *testing.T) {
	// GIVEN: no method flagged cash-counting at the point of sale
	mem := store.NewMemory()
	rule := testRule("30")
	rule.CashPaymentMethodIDs = nil

	agg := routing.NewAggregator(mem, quietLogger())
	got, err := agg.DailyTotals(context.Background(), rule, routing.ResolveWindow("", time.Now()))

	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestAggregator_TimezoneBoundary(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	// 23:50 UTC on May 4 is 00:50 on May 5 in Lagos.
	mem.SaveOrder(paidOrder("late", "A", "100", time.Date(2026, 5, 4, 23, 50, 0, 0, time.UTC), cashLine("cash", "100")))

	agg := routing.NewAggregator(mem, quietLogger())
	rule := testRule("30")

	may5 := routing.ResolveWindow("Africa/Lagos", time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC))
	got, err := agg.DailyTotals(ctx, rule, may5)
	require.NoError(t, err)
	assert.True(t, got.Fiscal.Equal(dec("100")), "counts on the local day it was rung up")

	may4 := routing.DayWindow(routing.ResolveLocation("Africa/Lagos"), 2026, time.May, 4)
	got, err = agg.DailyTotals(ctx, rule, may4)
	require.NoError(t, err)
	assert.True(t, got.Fiscal.IsZero())

	utcMay4 := routing.ResolveWindow("", time.Date(2026, 5, 4, 23, 59, 0, 0, time.UTC))
	got, err = agg.DailyTotals(ctx, rule, utcMay4)
	require.NoError(t, err)
	assert.True(t, got.Fiscal.Equal(dec("100")), "same order is May 4 in UTC")
}

func TestAggregator_StoreFailureIsWrapped(t *testing.T) {
	agg := routing.NewAggregator(failingStore{}, quietLogger())
	_, err := agg.DailyTotals(context.Background(), testRule("30"), routing.ResolveWindow("", time.Now()))

	require.Error(t, err)
	assert.ErrorIs(t, err, routing.ErrStoreUnavailable)
	var storeErr *routing.StoreError
	assert.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "find settled orders", storeErr.Op)
}
