package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
)

// ApplyEvent dispatches a verified webhook event to its handler. Webhook
// input is authoritative over command and sweep writes. Unknown event
// types are discarded without error so the provider is acknowledged.
func (e *Engine) ApplyEvent(ctx context.Context, ev gateway.Event) error {
	switch ev.Type {
	case gateway.EventSubscriptionCreated, gateway.EventSubscriptionUpdated:
		return e.applySubscriptionEvent(ctx, ev)
	case gateway.EventSubscriptionDeleted:
		return e.applySubscriptionDeleted(ctx, ev)
	case gateway.EventInvoicePaymentSucceeded:
		return e.applyInvoicePaid(ctx, ev)
	case gateway.EventInvoicePaymentFailed:
		return e.applyInvoiceFailed(ctx, ev)
	case gateway.EventCheckoutSessionCompleted:
		return e.applyCheckoutCompleted(ctx, ev)
	case gateway.EventCustomerCreated, gateway.EventInvoiceCreated,
		gateway.EventPaymentIntentSucceeded, gateway.EventPaymentIntentFailed:
		e.log.InfoContext(ctx, "webhook event observed",
			logger.Component("engine"),
			logger.EventID(ev.ID),
			slog.String("event_type", ev.Type))
		return nil
	default:
		e.log.DebugContext(ctx, "unrecognized webhook event discarded",
			logger.Component("engine"),
			logger.EventID(ev.ID),
			slog.String("event_type", ev.Type))
		return nil
	}
}

func (e *Engine) applySubscriptionEvent(ctx context.Context, ev gateway.Event) error {
	ps, err := gateway.DecodeSubscriptionEvent(ev.Raw)
	if err != nil {
		return err
	}

	user, err := e.store.UserByCustomerID(ctx, ps.CustomerID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			e.log.WarnContext(ctx, "subscription event for unknown customer",
				logger.Component("engine"),
				logger.EventID(ev.ID),
				slog.String("customer_id", ps.CustomerID))
			return nil
		}
		return err
	}

	eventAt := ev.CreatedAt
	_, err = e.applySubscription(ctx, user.ID, ps, &eventAt, "")
	return err
}

func (e *Engine) applySubscriptionDeleted(ctx context.Context, ev gateway.Event) error {
	ps, err := gateway.DecodeSubscriptionEvent(ev.Raw)
	if err != nil {
		return err
	}

	now := e.now()
	eventAt := ev.CreatedAt
	row, _, err := e.store.UpsertSubscription(ctx, ps.ID, store.SubscriptionFields{
		Status:             store.StatusCanceled,
		CanceledAt:         &now,
		LastWebhookEventAt: &eventAt,
	})
	if err != nil {
		return err
	}
	if row.UserID == "" {
		return nil
	}

	user, err := e.store.UserByID(ctx, row.UserID)
	if err != nil {
		return err
	}
	next := user.Subscription
	next.Status = store.StatusCanceled
	next.IsActive = false
	next.LastWebhookEventAt = &eventAt
	if err := e.store.TransitionProjection(ctx, row.UserID, next); err != nil && !errors.Is(err, store.ErrStaleEvent) {
		return err
	}
	return nil
}

func (e *Engine) applyInvoicePaid(ctx context.Context, ev gateway.Event) error {
	inv, err := gateway.DecodeInvoiceEvent(ev.Raw)
	if err != nil {
		return err
	}
	if inv.SubscriptionID == "" {
		return nil
	}

	eventAt := ev.CreatedAt
	row, _, err := e.store.UpsertSubscription(ctx, inv.SubscriptionID, store.SubscriptionFields{
		Status:             store.StatusActive,
		LastWebhookEventAt: &eventAt,
		AppendInvoice:      &inv.Invoice,
	})
	if err != nil {
		return err
	}
	return e.setProjectionFromRow(ctx, row, store.StatusActive, &eventAt)
}

// applyInvoiceFailed marks the subscription past_due. The projection's
// isActive flag is left as stored; the past-due sweep revokes access only
// after the grace period expires.
func (e *Engine) applyInvoiceFailed(ctx context.Context, ev gateway.Event) error {
	inv, err := gateway.DecodeInvoiceEvent(ev.Raw)
	if err != nil {
		return err
	}
	if inv.SubscriptionID == "" {
		return nil
	}

	eventAt := ev.CreatedAt
	row, _, err := e.store.UpsertSubscription(ctx, inv.SubscriptionID, store.SubscriptionFields{
		Status:             store.StatusPastDue,
		LastWebhookEventAt: &eventAt,
	})
	if err != nil {
		return err
	}
	return e.setProjectionFromRow(ctx, row, store.StatusPastDue, &eventAt)
}

func (e *Engine) setProjectionFromRow(ctx context.Context, row store.Subscription, status store.Status, eventAt *time.Time) error {
	if row.UserID == "" {
		return nil
	}
	user, err := e.store.UserByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil
		}
		return err
	}

	next := user.Subscription
	next.Status = status
	next.LastWebhookEventAt = eventAt
	if status == store.StatusActive {
		next.IsActive = next.HasActive(e.now())
	}
	if err := e.store.TransitionProjection(ctx, row.UserID, next); err != nil && !errors.Is(err, store.ErrStaleEvent) {
		return err
	}
	return nil
}

func (e *Engine) applyCheckoutCompleted(ctx context.Context, ev gateway.Event) error {
	session, err := gateway.DecodeCheckoutSessionEvent(ev.Raw)
	if err != nil {
		return err
	}

	switch session.Mode {
	case "subscription":
		return e.fulfillSubscriptionCheckout(ctx, ev, session)
	case "payment":
		return e.fulfillPaymentCheckout(ctx, ev, session)
	default:
		e.log.DebugContext(ctx, "checkout session with unhandled mode",
			logger.Component("engine"),
			logger.EventID(ev.ID),
			slog.String("mode", session.Mode))
		return nil
	}
}

func (e *Engine) fulfillSubscriptionCheckout(ctx context.Context, ev gateway.Event, session gateway.CheckoutSession) error {
	if session.SubscriptionID == "" {
		return fmt.Errorf("checkout session %s completed without subscription", session.ID)
	}

	user, err := e.checkoutUser(ctx, session)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			e.log.WarnContext(ctx, "checkout completed for unknown user",
				logger.Component("engine"),
				logger.EventID(ev.ID),
				slog.String("session_id", session.ID))
			return nil
		}
		return err
	}

	ps, err := e.gateway.RetrieveSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return err
	}

	eventAt := ev.CreatedAt
	_, err = e.applySubscription(ctx, user.ID, ps, &eventAt, session.ID)
	return err
}

func (e *Engine) fulfillPaymentCheckout(ctx context.Context, ev gateway.Event, session gateway.CheckoutSession) error {
	if programID := session.Metadata["programId"]; programID != "" {
		user, err := e.checkoutUser(ctx, session)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return nil
			}
			return err
		}
		if err := e.store.AssignProgram(ctx, user.ID, programID); err != nil {
			return err
		}
		e.log.InfoContext(ctx, "program assigned from checkout",
			logger.Component("engine"),
			logger.UserID(user.ID),
			slog.String("program_id", programID))
		return nil
	}

	if session.Metadata["type"] == "product_purchase" {
		if err := e.store.CompletePurchaseBySession(ctx, session.ID); err != nil {
			if errors.Is(err, store.ErrPurchaseNotFound) {
				e.log.WarnContext(ctx, "completed checkout has no purchase record",
					logger.Component("engine"),
					logger.EventID(ev.ID),
					slog.String("session_id", session.ID))
				return nil
			}
			return err
		}
	}
	return nil
}

// checkoutUser resolves the user behind a checkout session, preferring
// the userId metadata written at session creation over the customer id.
func (e *Engine) checkoutUser(ctx context.Context, session gateway.CheckoutSession) (store.User, error) {
	if userID := session.Metadata["userId"]; userID != "" {
		return e.store.UserByID(ctx, userID)
	}
	if session.CustomerID != "" {
		return e.store.UserByCustomerID(ctx, session.CustomerID)
	}
	return store.User{}, store.ErrUserNotFound
}
