package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
)

// CheckoutResult is returned by StartCheckout.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Engine is the reconciliation core. All subscription state transitions
// go through it.
type Engine struct {
	store   store.Store
	gateway gateway.Gateway
	catalog *plan.Catalog
	log     *slog.Logger
	now     func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st store.Store, gw gateway.Gateway, catalog *plan.Catalog, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		gateway: gw,
		catalog: catalog,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartCheckout ensures a provider customer exists for the user and opens
// a hosted checkout session for a paid plan. Safe to retry; a duplicate
// call before the session completes yields a new session but no store
// mutation beyond the customer id.
func (e *Engine) StartCheckout(ctx context.Context, userID string, tag plan.Tag, successURL, cancelURL string) (CheckoutResult, error) {
	if !tag.Valid() {
		return CheckoutResult{}, plan.ErrInvalidPlan
	}
	if !tag.Paid() {
		return CheckoutResult{}, ErrFreePlan
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if user.FirstName == "" || user.LastName == "" || user.Email == "" {
		return CheckoutResult{}, ErrIncompleteProfile
	}
	if user.Subscription.HasActive(e.now()) {
		return CheckoutResult{}, ErrActiveSubscription
	}

	customerID, err := e.ensureCustomer(ctx, user, "")
	if err != nil {
		return CheckoutResult{}, err
	}

	priceID := e.catalog.PriceIDFor(ctx, tag)
	if priceID == "" {
		return CheckoutResult{}, ErrPriceUnavailable
	}

	session, err := e.gateway.CreateCheckoutSession(ctx, gateway.CheckoutParams{
		CustomerID: customerID,
		Mode:       "subscription",
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata:   map[string]string{"userId": user.ID, "plan": string(tag)},
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	if err := e.store.SetCheckoutSession(ctx, user.ID, session.ID); err != nil {
		return CheckoutResult{}, err
	}

	e.log.InfoContext(ctx, "checkout session created",
		logger.Component("engine"),
		logger.UserID(user.ID),
		slog.String("session_id", session.ID),
		slog.String("plan", string(tag)))
	return CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// CreateDirectSubscription creates a subscription server-side without
// checkout, attaching the given payment method. Declined payment methods
// surface as gateway.ErrInvalidPaymentMethod.
func (e *Engine) CreateDirectSubscription(ctx context.Context, userID string, tag plan.Tag, paymentMethodID string) (store.Subscription, error) {
	if !tag.Valid() {
		return store.Subscription{}, plan.ErrInvalidPlan
	}
	if !tag.Paid() {
		return store.Subscription{}, ErrFreePlan
	}

	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return store.Subscription{}, err
	}
	if user.Subscription.HasActive(e.now()) {
		return store.Subscription{}, ErrActiveSubscription
	}

	customerID, err := e.ensureCustomer(ctx, user, paymentMethodID)
	if err != nil {
		return store.Subscription{}, err
	}

	priceID := e.catalog.PriceIDFor(ctx, tag)
	if priceID == "" {
		return store.Subscription{}, ErrPriceUnavailable
	}

	ps, err := e.gateway.CreateSubscription(ctx, customerID, priceID, gateway.SubscriptionOptions{
		PaymentMethodID: paymentMethodID,
		Metadata:        map[string]string{"userId": user.ID},
	})
	if err != nil {
		return store.Subscription{}, err
	}

	return e.applySubscription(ctx, user.ID, ps, nil, "")
}

// CancelSubscription cancels a user's subscription. Local state is
// written even when the provider call fails so the UI reflects the
// user's intent; the next webhook reconciles any divergence.
func (e *Engine) CancelSubscription(ctx context.Context, userID, providerSubscriptionID string, atPeriodEnd bool) (store.Projection, error) {
	row, err := e.ownedSubscription(ctx, userID, providerSubscriptionID)
	if err != nil {
		return store.Projection{}, err
	}

	ps, perr := e.gateway.CancelSubscription(ctx, providerSubscriptionID, atPeriodEnd)
	if perr == nil {
		if _, err := e.applySubscription(ctx, row.UserID, ps, nil, ""); err != nil {
			return store.Projection{}, err
		}
		return e.projection(ctx, row.UserID)
	}

	e.log.ErrorContext(ctx, "provider cancel failed, applying local state",
		logger.Component("engine"),
		logger.SubscriptionID(providerSubscriptionID),
		logger.Error(perr))

	now := e.now()
	flag := atPeriodEnd
	if _, _, err := e.store.UpsertSubscription(ctx, providerSubscriptionID, store.SubscriptionFields{
		Status:            store.StatusCanceled,
		CancelAtPeriodEnd: &flag,
		CanceledAt:        &now,
	}); err != nil {
		return store.Projection{}, err
	}

	user, err := e.store.UserByID(ctx, row.UserID)
	if err != nil {
		return store.Projection{}, err
	}
	next := user.Subscription
	next.Status = store.StatusCanceled
	next.CancelAtPeriodEnd = atPeriodEnd
	next.IsActive = false
	next.LastWebhookEventAt = nil
	if err := e.store.TransitionProjection(ctx, row.UserID, next); err != nil && !errors.Is(err, store.ErrStaleEvent) {
		return store.Projection{}, err
	}
	return e.projection(ctx, row.UserID)
}

// ResumeSubscription clears a pending period-end cancellation.
func (e *Engine) ResumeSubscription(ctx context.Context, userID, providerSubscriptionID string) (store.Projection, error) {
	row, err := e.ownedSubscription(ctx, userID, providerSubscriptionID)
	if err != nil {
		return store.Projection{}, err
	}
	if !row.CancelAtPeriodEnd {
		return store.Projection{}, ErrNotCancelPending
	}

	ps, err := e.gateway.ResumeSubscription(ctx, providerSubscriptionID)
	if err != nil {
		return store.Projection{}, err
	}

	if _, _, err := e.store.UpsertSubscription(ctx, providerSubscriptionID, store.SubscriptionFields{
		Status:            mapProviderStatus(ps.Status),
		CancelAtPeriodEnd: &ps.CancelAtPeriodEnd,
		ClearCanceledAt:   true,
	}); err != nil {
		return store.Projection{}, err
	}
	if _, err := e.applySubscription(ctx, row.UserID, ps, nil, ""); err != nil {
		return store.Projection{}, err
	}
	return e.projection(ctx, row.UserID)
}

// UpdatePlan moves the subscription to a new paid plan with proration and
// copies the returned period, price and status into the store.
func (e *Engine) UpdatePlan(ctx context.Context, userID, providerSubscriptionID string, tag plan.Tag) (store.Subscription, error) {
	if !tag.Valid() {
		return store.Subscription{}, plan.ErrInvalidPlan
	}
	if !tag.Paid() {
		return store.Subscription{}, ErrFreePlan
	}

	row, err := e.ownedSubscription(ctx, userID, providerSubscriptionID)
	if err != nil {
		return store.Subscription{}, err
	}

	priceID := e.catalog.PriceIDFor(ctx, tag)
	if priceID == "" {
		return store.Subscription{}, ErrPriceUnavailable
	}

	ps, err := e.gateway.UpdateSubscriptionPrice(ctx, providerSubscriptionID, priceID)
	if err != nil {
		return store.Subscription{}, err
	}
	return e.applySubscription(ctx, row.UserID, ps, nil, "")
}

// CurrentProjection returns the user's subscription view, defaulting to
// the free projection for unknown or empty state.
func (e *Engine) CurrentProjection(ctx context.Context, userID string) (store.Projection, error) {
	return e.projection(ctx, userID)
}

// ListSubscriptions returns the user's subscription history rows.
func (e *Engine) ListSubscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	return e.store.ListByUser(ctx, userID)
}

// ListInvoices returns provider invoices for an owned subscription.
func (e *Engine) ListInvoices(ctx context.Context, userID, providerSubscriptionID string) ([]gateway.Invoice, error) {
	if _, err := e.ownedSubscription(ctx, userID, providerSubscriptionID); err != nil {
		return nil, err
	}
	return e.gateway.ListInvoices(ctx, providerSubscriptionID)
}

// ownedSubscription loads a subscription row and verifies ownership
// against the stored userId. Foreign subscriptions are reported as not
// found so their existence is never disclosed.
func (e *Engine) ownedSubscription(ctx context.Context, userID, providerSubscriptionID string) (store.Subscription, error) {
	row, err := e.store.SubscriptionByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return store.Subscription{}, err
	}
	if row.UserID != userID {
		return store.Subscription{}, store.ErrSubscriptionNotFound
	}
	return row, nil
}

func (e *Engine) ensureCustomer(ctx context.Context, user store.User, paymentMethodID string) (string, error) {
	if user.ProviderCustomerID != "" && paymentMethodID == "" {
		return user.ProviderCustomerID, nil
	}

	customer, err := e.gateway.FindOrCreateCustomer(ctx, user.Email,
		map[string]string{"userId": user.ID}, paymentMethodID)
	if err != nil {
		return "", err
	}
	if user.ProviderCustomerID != customer.ID {
		if err := e.store.SetProviderCustomer(ctx, user.ID, customer.ID, e.gateway.Environment()); err != nil {
			return "", err
		}
	}
	return customer.ID, nil
}

func (e *Engine) projection(ctx context.Context, userID string) (store.Projection, error) {
	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return store.Projection{}, err
	}
	if user.Subscription.Status == "" {
		return store.FreeProjection(), nil
	}
	return user.Subscription, nil
}

// applySubscription upserts the history row from a provider subscription
// and transitions the owner's projection. eventAt carries the webhook
// timestamp for the monotonicity guard; nil marks a command-sourced write
// that leaves the stored watermark intact.
func (e *Engine) applySubscription(ctx context.Context, userID string, ps gateway.Subscription, eventAt *time.Time, checkoutSessionID string) (store.Subscription, error) {
	tag := e.catalog.TagForPriceID(ps.PriceID)
	status := mapProviderStatus(ps.Status)

	start := ps.CurrentPeriodStart
	end := ps.CurrentPeriodEnd
	flag := ps.CancelAtPeriodEnd
	amount := ps.Amount

	row, created, err := e.store.UpsertSubscription(ctx, ps.ID, store.SubscriptionFields{
		UserID:             userID,
		ProviderCustomerID: ps.CustomerID,
		Plan:               tag,
		ProviderPriceID:    ps.PriceID,
		Status:             status,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CancelAtPeriodEnd:  &flag,
		CanceledAt:         ps.CanceledAt,
		Amount:             &amount,
		Currency:           ps.Currency,
		BillingEnvironment: e.gateway.Environment(),
		LastWebhookEventAt: eventAt,
		CheckoutSessionID:  checkoutSessionID,
	})
	if err != nil {
		return store.Subscription{}, err
	}

	next := store.Projection{
		Plan:                   tag,
		ProviderPriceID:        ps.PriceID,
		ProviderSubscriptionID: ps.ID,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		CancelAtPeriodEnd:      ps.CancelAtPeriodEnd,
		Status:                 status,
		LastWebhookEventAt:     eventAt,
	}
	next.IsActive = next.HasActive(e.now())

	if err := e.store.TransitionProjection(ctx, userID, next); err != nil {
		if errors.Is(err, store.ErrStaleEvent) {
			e.log.DebugContext(ctx, "projection write superseded by newer event",
				logger.Component("engine"),
				logger.UserID(userID),
				logger.SubscriptionID(ps.ID))
			return row, nil
		}
		return store.Subscription{}, err
	}

	if created {
		e.log.InfoContext(ctx, "subscription recorded",
			logger.Component("engine"),
			logger.UserID(userID),
			logger.SubscriptionID(ps.ID),
			slog.String("plan", string(tag)),
			slog.String("status", string(status)))
	}
	return row, nil
}

// mapProviderStatus folds provider status strings into the closed tag
// set. Incomplete and paused states are treated as inactive.
func mapProviderStatus(s string) store.Status {
	switch s {
	case "active":
		return store.StatusActive
	case "trialing":
		return store.StatusTrialing
	case "past_due":
		return store.StatusPastDue
	case "unpaid":
		return store.StatusUnpaid
	case "canceled":
		return store.StatusCanceled
	default:
		return store.StatusInactive
	}
}
