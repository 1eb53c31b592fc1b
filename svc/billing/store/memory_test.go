package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/svc/billing/plan"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestMemoryStoreUpsertPartialFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	end := time.Now().Add(30 * 24 * time.Hour).UTC()
	_, created, err := st.UpsertSubscription(ctx, "sub_1", store.SubscriptionFields{
		UserID:           "u1",
		Plan:             plan.OneMonth,
		ProviderPriceID:  "price_1m",
		Status:           store.StatusActive,
		CurrentPeriodEnd: &end,
	})
	require.NoError(t, err)
	assert.True(t, created)

	// A later partial write must not blank previously set columns.
	row, created, err := st.UpsertSubscription(ctx, "sub_1", store.SubscriptionFields{
		Status: store.StatusPastDue,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, plan.OneMonth, row.Plan)
	assert.Equal(t, "price_1m", row.ProviderPriceID)
	assert.Equal(t, store.StatusPastDue, row.Status)
	require.NotNil(t, row.CurrentPeriodEnd)
	assert.WithinDuration(t, end, *row.CurrentPeriodEnd, time.Second)
}

func TestMemoryStoreUpsertMonotonicityGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	_, _, err := st.UpsertSubscription(ctx, "sub_1", store.SubscriptionFields{
		Status:             store.StatusCanceled,
		LastWebhookEventAt: &newer,
	})
	require.NoError(t, err)

	row, created, err := st.UpsertSubscription(ctx, "sub_1", store.SubscriptionFields{
		Status:             store.StatusActive,
		LastWebhookEventAt: &older,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, store.StatusCanceled, row.Status, "stale write must not regress state")
	require.NotNil(t, row.LastWebhookEventAt)
	assert.Equal(t, newer, *row.LastWebhookEventAt)
}

func TestMemoryStoreTransitionProjectionGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	u, err := st.CreateUser(ctx, store.User{Email: "Guard@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "guard@example.com", u.Email)

	newer := time.Now().UTC()
	older := newer.Add(-time.Minute)

	require.NoError(t, st.TransitionProjection(ctx, u.ID, store.Projection{
		IsActive:           true,
		Status:             store.StatusActive,
		LastWebhookEventAt: &newer,
	}))

	err = st.TransitionProjection(ctx, u.ID, store.Projection{
		Status:             store.StatusCanceled,
		LastWebhookEventAt: &older,
	})
	assert.ErrorIs(t, err, store.ErrStaleEvent)

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Subscription.Status)
}

func TestMemoryStoreTransitionWithoutTimestampKeepsWatermark(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	u, err := st.CreateUser(ctx, store.User{Email: "wm@example.com"})
	require.NoError(t, err)

	eventAt := time.Now().UTC()
	require.NoError(t, st.TransitionProjection(ctx, u.ID, store.Projection{
		Status:             store.StatusActive,
		LastWebhookEventAt: &eventAt,
	}))

	// Command-sourced write carries no timestamp and must not erase the
	// stored watermark.
	require.NoError(t, st.TransitionProjection(ctx, u.ID, store.Projection{
		Status: store.StatusCanceled,
	}))

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCanceled, got.Subscription.Status)
	require.NotNil(t, got.Subscription.LastWebhookEventAt)
	assert.Equal(t, eventAt, *got.Subscription.LastWebhookEventAt)
}

func TestMemoryStoreSweepQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now().UTC()

	expired, err := st.CreateUser(ctx, store.User{Email: "expired@example.com"})
	require.NoError(t, err)
	require.NoError(t, st.TransitionProjection(ctx, expired.ID, store.Projection{
		IsActive:         true,
		Status:           store.StatusActive,
		CurrentPeriodEnd: timePtr(now.Add(-time.Hour)),
	}))

	current, err := st.CreateUser(ctx, store.User{Email: "current@example.com"})
	require.NoError(t, err)
	require.NoError(t, st.TransitionProjection(ctx, current.ID, store.Projection{
		IsActive:         true,
		Status:           store.StatusActive,
		CurrentPeriodEnd: timePtr(now.Add(time.Hour)),
	}))

	var seen []string
	require.NoError(t, st.FindExpired(ctx, now, func(u store.User) error {
		seen = append(seen, u.Email)
		return nil
	}))
	assert.Equal(t, []string{"expired@example.com"}, seen)
}

func TestMemoryStoreDeleteCanceledBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now().UTC()

	_, _, err := st.UpsertSubscription(ctx, "sub_old", store.SubscriptionFields{
		Status:     store.StatusCanceled,
		CanceledAt: timePtr(now.Add(-40 * 24 * time.Hour)),
	})
	require.NoError(t, err)
	_, _, err = st.UpsertSubscription(ctx, "sub_recent", store.SubscriptionFields{
		Status:     store.StatusCanceled,
		CanceledAt: timePtr(now.Add(-time.Hour)),
	})
	require.NoError(t, err)

	deleted, err := st.DeleteCanceledBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = st.SubscriptionByProviderID(ctx, "sub_old")
	assert.ErrorIs(t, err, store.ErrSubscriptionNotFound)
	_, err = st.SubscriptionByProviderID(ctx, "sub_recent")
	assert.NoError(t, err)
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	_, err := st.CreateUser(ctx, store.User{Email: "dup@example.com"})
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, store.User{Email: "DUP@example.com"})
	assert.ErrorIs(t, err, store.ErrEmailTaken)
}

func TestMemoryStorePurchaseFulfillment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemoryStore()

	p, err := st.CreatePurchase(ctx, store.Purchase{
		UserID:            "u1",
		ProductID:         "prod_belt",
		CheckoutSessionID: "cs_1",
	})
	require.NoError(t, err)
	assert.Equal(t, store.PurchasePending, p.Status)

	require.NoError(t, st.CompletePurchaseBySession(ctx, "cs_1"))
	assert.ErrorIs(t, st.CompletePurchaseBySession(ctx, "cs_missing"), store.ErrPurchaseNotFound)
}
