package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/engine"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
)

// fakeGateway satisfies gateway.Gateway with overridable behavior per
// test. Unset functions return benign defaults.
type fakeGateway struct {
	findOrCreateCustomerFn func(ctx context.Context, email string, metadata map[string]string, paymentMethodID string) (gateway.Customer, error)
	createSubscriptionFn   func(ctx context.Context, customerID, priceID string, opts gateway.SubscriptionOptions) (gateway.Subscription, error)
	retrieveSubscriptionFn func(ctx context.Context, id string) (gateway.Subscription, error)
	updatePriceFn          func(ctx context.Context, id, priceID string) (gateway.Subscription, error)
	cancelSubscriptionFn   func(ctx context.Context, id string, atPeriodEnd bool) (gateway.Subscription, error)
	resumeSubscriptionFn   func(ctx context.Context, id string) (gateway.Subscription, error)
	createCheckoutFn       func(ctx context.Context, p gateway.CheckoutParams) (gateway.CheckoutSession, error)
	listInvoicesFn         func(ctx context.Context, subscriptionID string) ([]gateway.Invoice, error)
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) Environment() gateway.Environment { return gateway.EnvTest }

func (f *fakeGateway) FindOrCreateCustomer(ctx context.Context, email string, metadata map[string]string, paymentMethodID string) (gateway.Customer, error) {
	if f.findOrCreateCustomerFn != nil {
		return f.findOrCreateCustomerFn(ctx, email, metadata, paymentMethodID)
	}
	return gateway.Customer{ID: "cus_fake", Email: email}, nil
}

func (f *fakeGateway) RetrieveCustomer(_ context.Context, id string) (gateway.Customer, error) {
	return gateway.Customer{ID: id}, nil
}

func (f *fakeGateway) ActiveRecurringPrices(context.Context, string) ([]plan.ProviderPrice, error) {
	return nil, nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, opts gateway.SubscriptionOptions) (gateway.Subscription, error) {
	if f.createSubscriptionFn != nil {
		return f.createSubscriptionFn(ctx, customerID, priceID, opts)
	}
	return gateway.Subscription{}, gateway.ErrProvider
}

func (f *fakeGateway) RetrieveSubscription(ctx context.Context, id string) (gateway.Subscription, error) {
	if f.retrieveSubscriptionFn != nil {
		return f.retrieveSubscriptionFn(ctx, id)
	}
	return gateway.Subscription{}, gateway.ErrNotFound
}

func (f *fakeGateway) UpdateSubscriptionPrice(ctx context.Context, id, priceID string) (gateway.Subscription, error) {
	if f.updatePriceFn != nil {
		return f.updatePriceFn(ctx, id, priceID)
	}
	return gateway.Subscription{}, gateway.ErrProvider
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (gateway.Subscription, error) {
	if f.cancelSubscriptionFn != nil {
		return f.cancelSubscriptionFn(ctx, id, atPeriodEnd)
	}
	return gateway.Subscription{}, gateway.ErrProvider
}

func (f *fakeGateway) ResumeSubscription(ctx context.Context, id string) (gateway.Subscription, error) {
	if f.resumeSubscriptionFn != nil {
		return f.resumeSubscriptionFn(ctx, id)
	}
	return gateway.Subscription{}, gateway.ErrProvider
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, p gateway.CheckoutParams) (gateway.CheckoutSession, error) {
	if f.createCheckoutFn != nil {
		return f.createCheckoutFn(ctx, p)
	}
	return gateway.CheckoutSession{ID: "cs_fake", URL: "https://checkout.example/cs_fake", Mode: p.Mode}, nil
}

func (f *fakeGateway) ListInvoices(ctx context.Context, subscriptionID string) ([]gateway.Invoice, error) {
	if f.listInvoicesFn != nil {
		return f.listInvoicesFn(ctx, subscriptionID)
	}
	return nil, nil
}

func (f *fakeGateway) VerifyWebhook([]byte, string) (gateway.Event, error) {
	return gateway.Event{}, gateway.ErrBadSignature
}

type fixture struct {
	store   *store.MemoryStore
	gateway *fakeGateway
	engine  *engine.Engine
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.New(logger.WithOutput(io.Discard))
	catalog, err := plan.NewCatalog(plan.Config{
		Price1Month:  "price_1m",
		Price3Month:  "price_3m",
		Price6Month:  "price_6m",
		Price12Month: "price_12m",
	}, nil, log)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	gw := &fakeGateway{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	eng := engine.New(st, gw, catalog, log, engine.WithClock(func() time.Time { return now }))
	return &fixture{store: st, gateway: gw, engine: eng, now: now}
}

func (fx *fixture) createUser(t *testing.T, email, customerID string) store.User {
	t.Helper()

	u, err := fx.store.CreateUser(context.Background(), store.User{
		Email:     email,
		FirstName: "Alex",
		LastName:  "Morgan",
	})
	require.NoError(t, err)
	if customerID != "" {
		require.NoError(t, fx.store.SetProviderCustomer(context.Background(), u.ID, customerID, gateway.EnvTest))
		u.ProviderCustomerID = customerID
	}
	return u
}

func subscriptionJSON(id, customerID, status, priceID string, periodEnd time.Time, cancelAtPeriodEnd bool) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"id": %q,
		"customer": %q,
		"status": %q,
		"cancel_at_period_end": %t,
		"current_period_start": %d,
		"current_period_end": %d,
		"items": {
			"data": [
				{"id": "si_1", "price": {"id": %q, "unit_amount": 999, "currency": "usd", "product": "prod_x"}}
			]
		}
	}`, id, customerID, status, cancelAtPeriodEnd, periodEnd.Add(-30*24*time.Hour).Unix(), periodEnd.Unix(), priceID))
}

func invoiceJSON(id, customerID, subscriptionID string, amountPaid int64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"id": %q,
		"customer": %q,
		"subscription": %q,
		"status": "paid",
		"amount_paid": %d,
		"amount_due": 0,
		"currency": "usd",
		"created": 1748779200
	}`, id, customerID, subscriptionID, amountPaid))
}

func checkoutSessionJSON(id, customerID, subscriptionID, mode string, metadata map[string]string) json.RawMessage {
	meta, _ := json.Marshal(metadata)
	sub := "null"
	if subscriptionID != "" {
		sub = fmt.Sprintf("%q", subscriptionID)
	}
	return json.RawMessage(fmt.Sprintf(`{
		"id": %q,
		"customer": %q,
		"subscription": %s,
		"mode": %q,
		"metadata": %s
	}`, id, customerID, sub, mode, meta))
}

func discardLogger() *slog.Logger {
	return logger.New(logger.WithOutput(io.Discard))
}
