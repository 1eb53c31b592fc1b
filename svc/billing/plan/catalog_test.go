package plan_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

type fakePrices struct {
	prices map[string][]plan.ProviderPrice
	err    error
	calls  int
}

func (f *fakePrices) ActiveRecurringPrices(_ context.Context, productID string) ([]plan.ProviderPrice, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.prices[productID], nil
}

func newCatalog(t *testing.T, cfg plan.Config, prices plan.PriceSource) *plan.Catalog {
	t.Helper()

	catalog, err := plan.NewCatalog(cfg, prices, logger.New(logger.WithOutput(io.Discard)))
	require.NoError(t, err)
	return catalog
}

func TestTagValidation(t *testing.T) {
	t.Parallel()

	for _, tag := range plan.Tags {
		assert.True(t, tag.Valid(), tag)
	}
	assert.False(t, plan.Tag("2-month").Valid())
	assert.False(t, plan.Unknown.Valid(), "unknown can be stored but never requested")

	assert.False(t, plan.Free.Paid())
	assert.True(t, plan.OneMonth.Paid())
}

func TestGetIsTotalOverEnumeration(t *testing.T) {
	t.Parallel()

	catalog := newCatalog(t, plan.Config{Price1Month: "price_1m"}, nil)

	for _, tag := range plan.Tags {
		p, err := catalog.Get(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, tag, p.Tag)
	}

	free, err := catalog.Get(plan.Free)
	require.NoError(t, err)
	assert.Zero(t, free.Amount)
	assert.Equal(t, "$0.00", free.DisplayPrice)

	monthly, err := catalog.Get(plan.OneMonth)
	require.NoError(t, err)
	assert.Equal(t, int64(999), monthly.Amount)
	assert.Equal(t, "price_1m", monthly.PriceID)
	assert.Equal(t, "$9.99", monthly.DisplayPrice)

	_, err = catalog.Get(plan.Tag("lifetime"))
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)
	_, err = catalog.Get(plan.Unknown)
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)
}

func TestTagForPriceID(t *testing.T) {
	t.Parallel()

	catalog := newCatalog(t, plan.Config{
		Price1Month: "price_1m",
		Price3Month: "price_3m",
	}, nil)

	assert.Equal(t, plan.OneMonth, catalog.TagForPriceID("price_1m"))
	assert.Equal(t, plan.ThreeMonth, catalog.TagForPriceID("price_3m"))
	assert.Equal(t, plan.Unknown, catalog.TagForPriceID("price_legacy"))
	assert.Equal(t, plan.Unknown, catalog.TagForPriceID(""))
}

func TestPriceIDForPrefersConfiguredPrice(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{}
	catalog := newCatalog(t, plan.Config{Price1Month: "price_1m", Product1Month: "prod_1m"}, prices)

	assert.Equal(t, "price_1m", catalog.PriceIDFor(context.Background(), plan.OneMonth))
	assert.Zero(t, prices.calls, "configured price short-circuits resolution")
	assert.Empty(t, catalog.PriceIDFor(context.Background(), plan.Free))
}

func TestPriceIDForResolvesThroughProduct(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{prices: map[string][]plan.ProviderPrice{
		"prod_3m": {{ID: "price_resolved", UnitAmount: 2599, Currency: plan.USD}},
	}}
	catalog := newCatalog(t, plan.Config{Product3Month: "prod_3m"}, prices)

	assert.Equal(t, "price_resolved", catalog.PriceIDFor(context.Background(), plan.ThreeMonth))
	assert.Equal(t, 1, prices.calls)

	// Cached after the first resolution.
	assert.Equal(t, "price_resolved", catalog.PriceIDFor(context.Background(), plan.ThreeMonth))
	assert.Equal(t, 1, prices.calls)

	// Resolved ids map back to their tag.
	assert.Equal(t, plan.ThreeMonth, catalog.TagForPriceID("price_resolved"))
}

func TestPriceIDForFallsBackOnProviderError(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{err: errors.New("provider down")}
	catalog := newCatalog(t, plan.Config{Product6Month: "prod_6m"}, prices)

	assert.Empty(t, catalog.PriceIDFor(context.Background(), plan.SixMonth))
}

func TestAllWithPricing(t *testing.T) {
	t.Parallel()

	catalog := newCatalog(t, plan.Config{}, nil)
	plans := catalog.AllWithPricing(context.Background())
	require.Len(t, plans, len(plan.Tags))

	byTag := make(map[plan.Tag]plan.Plan, len(plans))
	for _, p := range plans {
		byTag[p.Tag] = p
	}

	assert.Zero(t, byTag[plan.Free].Amount)
	assert.Equal(t, int64(999), byTag[plan.OneMonth].Amount)
	assert.Zero(t, byTag[plan.OneMonth].SavingsPercent)

	// 3 months at 2499 is 833/month against 999: 16% off.
	assert.Equal(t, 16, byTag[plan.ThreeMonth].SavingsPercent)
	// 12 months at 7999 is 666/month against 999: 33% off.
	assert.Equal(t, 33, byTag[plan.TwelveMonth].SavingsPercent)
}

func TestAllWithPricingPrefersProviderAmounts(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{prices: map[string][]plan.ProviderPrice{
		"prod_1m": {{ID: "price_live_1m", UnitAmount: 1099, Currency: plan.USD}},
	}}
	catalog := newCatalog(t, plan.Config{Product1Month: "prod_1m"}, prices)

	plans := catalog.AllWithPricing(context.Background())
	for _, p := range plans {
		if p.Tag == plan.OneMonth {
			assert.Equal(t, int64(1099), p.Amount)
			assert.Equal(t, "price_live_1m", p.PriceID)
			assert.Equal(t, "$10.99", p.DisplayPrice)
			return
		}
	}
	t.Fatal("1-month plan missing")
}

func testDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestPeriodEnd(t *testing.T) {
	t.Parallel()

	catalog := newCatalog(t, plan.Config{}, nil)
	monthly, err := catalog.Get(plan.OneMonth)
	require.NoError(t, err)

	start := monthly.PeriodEnd(testDate(2025, 1, 15))
	assert.Equal(t, testDate(2025, 2, 15), start)

	yearly, err := catalog.Get(plan.TwelveMonth)
	require.NoError(t, err)
	assert.Equal(t, testDate(2026, 1, 15), yearly.PeriodEnd(testDate(2025, 1, 15)))

	free, err := catalog.Get(plan.Free)
	require.NoError(t, err)
	assert.Equal(t, testDate(2025, 1, 15), free.PeriodEnd(testDate(2025, 1, 15)))
}
