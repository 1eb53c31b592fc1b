package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// Recognized webhook event types. Anything else is acknowledged and
// discarded by the engine.
const (
	EventCustomerCreated          = "customer.created"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoiceCreated           = "invoice.created"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// InvoiceEvent is the normalized payload of an invoice webhook.
type InvoiceEvent struct {
	Invoice        Invoice
	CustomerID     string
	SubscriptionID string
}

// DecodeSubscriptionEvent parses a subscription object out of a webhook
// payload into the normalized shape.
func DecodeSubscriptionEvent(raw json.RawMessage) (Subscription, error) {
	var s stripe.Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return Subscription{}, fmt.Errorf("decode subscription event: %w", err)
	}
	return normalizeSubscription(&s), nil
}

// DecodeInvoiceEvent parses an invoice object out of a webhook payload.
func DecodeInvoiceEvent(raw json.RawMessage) (InvoiceEvent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return InvoiceEvent{}, fmt.Errorf("decode invoice event: %w", err)
	}

	ev := InvoiceEvent{
		Invoice: Invoice{
			ID:               inv.ID,
			Number:           inv.Number,
			Status:           string(inv.Status),
			AmountPaid:       inv.AmountPaid,
			AmountDue:        inv.AmountDue,
			Currency:         string(inv.Currency),
			CreatedAt:        time.Unix(inv.Created, 0).UTC(),
			HostedInvoiceURL: inv.HostedInvoiceURL,
			PDFURL:           inv.InvoicePDF,
		},
	}
	if inv.Customer != nil {
		ev.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		ev.SubscriptionID = inv.Subscription.ID
	}
	return ev, nil
}

// DecodeCheckoutSessionEvent parses a checkout session object out of a
// webhook payload.
func DecodeCheckoutSessionEvent(raw json.RawMessage) (CheckoutSession, error) {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return CheckoutSession{}, fmt.Errorf("decode checkout session event: %w", err)
	}
	return normalizeCheckoutSession(&s), nil
}
