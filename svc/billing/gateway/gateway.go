package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

// Environment tags which provider mode a record was created under.
// Inferred from the secret key prefix and immutable on stored records.
type Environment string

const (
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

// Customer is the normalized provider customer.
type Customer struct {
	ID      string
	Email   string
	Deleted bool
}

// Subscription is the normalized provider subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string // provider status string, mapped by the engine
	PriceID            string
	ProductID          string
	Amount             int64
	Currency           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
}

// CheckoutSession is the normalized provider checkout session.
type CheckoutSession struct {
	ID             string
	URL            string
	Mode           string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

// Invoice is the normalized provider invoice.
type Invoice struct {
	ID               string    `json:"id"`
	Number           string    `json:"number,omitempty"`
	Status           string    `json:"status"`
	AmountPaid       int64     `json:"amountPaid"`
	AmountDue        int64     `json:"amountDue"`
	Currency         string    `json:"currency"`
	CreatedAt        time.Time `json:"createdAt"`
	HostedInvoiceURL string    `json:"hostedInvoiceUrl,omitempty"`
	PDFURL           string    `json:"pdfUrl,omitempty"`
}

// Event is a verified provider webhook event. ID is the idempotency key;
// Raw holds the provider object payload for type-specific decoding.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Raw       json.RawMessage
}

// SubscriptionOptions carries optional settings for server-side
// subscription creation.
type SubscriptionOptions struct {
	PaymentMethodID string
	Metadata        map[string]string
}

// CheckoutParams describes a hosted checkout session to create.
type CheckoutParams struct {
	CustomerID string
	Mode       string // "subscription" or "payment"
	PriceID    string
	Quantity   int64
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Gateway is the only component speaking to the payment provider. All
// methods classify provider failures into the package sentinel errors and
// never leak provider-specific error types upward.
type Gateway interface {
	FindOrCreateCustomer(ctx context.Context, email string, metadata map[string]string, paymentMethodID string) (Customer, error)
	RetrieveCustomer(ctx context.Context, id string) (Customer, error)
	ActiveRecurringPrices(ctx context.Context, productID string) ([]plan.ProviderPrice, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, opts SubscriptionOptions) (Subscription, error)
	RetrieveSubscription(ctx context.Context, id string) (Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, id, priceID string) (Subscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (Subscription, error)
	ResumeSubscription(ctx context.Context, id string) (Subscription, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error)
	ListInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error)
	VerifyWebhook(payload []byte, signature string) (Event, error)
	Environment() Environment
}
