package store

import (
	"time"

	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

// Projection is the denormalized subscription view embedded on the user.
// The rest of the application reads it to decide access; the subscription
// row is history.
type Projection struct {
	IsActive               bool       `bson:"isActive" json:"isActive"`
	Plan                   plan.Tag   `bson:"plan,omitempty" json:"plan,omitempty"`
	ProviderPriceID        string     `bson:"providerPriceId,omitempty" json:"providerPriceId,omitempty"`
	ProviderSubscriptionID string     `bson:"providerSubscriptionId,omitempty" json:"providerSubscriptionId,omitempty"`
	CurrentPeriodStart     *time.Time `bson:"currentPeriodStart,omitempty" json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time `bson:"currentPeriodEnd,omitempty" json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd      bool       `bson:"cancelAtPeriodEnd" json:"cancelAtPeriodEnd"`
	Status                 Status     `bson:"subscriptionStatus" json:"subscriptionStatus"`
	LastWebhookEventAt     *time.Time `bson:"lastWebhookEventAt,omitempty" json:"-"`
}

// HasActive is the access predicate: status is active or trialing and the
// current period has not ended. A nil period end counts as open.
func (p Projection) HasActive(now time.Time) bool {
	if p.Status != StatusActive && p.Status != StatusTrialing {
		return false
	}
	return p.CurrentPeriodEnd == nil || now.Before(*p.CurrentPeriodEnd)
}

// FreeProjection is what users without a subscription carry.
func FreeProjection() Projection {
	return Projection{IsActive: false, Plan: plan.Free, Status: StatusFree}
}

// User is the billing projection of an account. Non-billing profile
// fields are limited to what commands and auth need.
type User struct {
	ID                 string              `bson:"_id" json:"id"`
	Email              string              `bson:"email" json:"email"`
	FirstName          string              `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName           string              `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Role               string              `bson:"role,omitempty" json:"role,omitempty"`
	TokenVersion       int                 `bson:"tokenVersion" json:"-"`
	ProviderCustomerID string              `bson:"providerCustomerId,omitempty" json:"providerCustomerId,omitempty"`
	BillingEnvironment gateway.Environment `bson:"billingEnvironment,omitempty" json:"billingEnvironment,omitempty"`
	CheckoutSessionID  string              `bson:"checkoutSessionId,omitempty" json:"-"`
	Subscription       Projection          `bson:"subscription" json:"subscription"`
	AssignedPrograms   []string            `bson:"assignedPrograms,omitempty" json:"assignedPrograms,omitempty"`
	CreatedAt          time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// Subscription is the normalized history row, one per provider
// subscription.
type Subscription struct {
	ID                     string              `bson:"_id" json:"id"`
	UserID                 string              `bson:"userId" json:"userId"`
	ProviderCustomerID     string              `bson:"providerCustomerId,omitempty" json:"providerCustomerId,omitempty"`
	ProviderSubscriptionID string              `bson:"providerSubscriptionId" json:"providerSubscriptionId"`
	Plan                   plan.Tag            `bson:"plan,omitempty" json:"plan,omitempty"`
	ProviderPriceID        string              `bson:"providerPriceId,omitempty" json:"providerPriceId,omitempty"`
	CurrentPeriodStart     *time.Time          `bson:"currentPeriodStart,omitempty" json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time          `bson:"currentPeriodEnd,omitempty" json:"currentPeriodEnd,omitempty"`
	Status                 Status              `bson:"status" json:"status"`
	CanceledAt             *time.Time          `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`
	CancelAtPeriodEnd      bool                `bson:"cancelAtPeriodEnd" json:"cancelAtPeriodEnd"`
	Amount                 int64               `bson:"amount,omitempty" json:"amount,omitempty"`
	Currency               string              `bson:"currency,omitempty" json:"currency,omitempty"`
	BillingEnvironment     gateway.Environment `bson:"billingEnvironment,omitempty" json:"billingEnvironment,omitempty"`
	LastWebhookEventAt     *time.Time          `bson:"lastWebhookEventAt,omitempty" json:"-"`
	CheckoutSessionID      string              `bson:"checkoutSessionId,omitempty" json:"-"`
	Invoices               []gateway.Invoice   `bson:"invoices,omitempty" json:"invoices,omitempty"`
	CreatedAt              time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt              time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// SubscriptionFields is a partial update for UpsertSubscription. Zero
// values mean "leave the stored column alone" so out-of-order webhooks do
// not blank freshly populated data.
type SubscriptionFields struct {
	UserID             string
	ProviderCustomerID string
	Plan               plan.Tag
	ProviderPriceID    string
	Status             Status
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	CanceledAt         *time.Time
	ClearCanceledAt    bool
	Amount             *int64
	Currency           string
	BillingEnvironment gateway.Environment
	LastWebhookEventAt *time.Time
	CheckoutSessionID  string
	AppendInvoice      *gateway.Invoice
}

// Purchase is a one-time product purchase fulfilled through checkout.
type Purchase struct {
	ID                string    `bson:"_id" json:"id"`
	UserID            string    `bson:"userId" json:"userId"`
	ProductID         string    `bson:"productId" json:"productId"`
	CheckoutSessionID string    `bson:"checkoutSessionId" json:"-"`
	Amount            int64     `bson:"amount,omitempty" json:"amount,omitempty"`
	Currency          string    `bson:"currency,omitempty" json:"currency,omitempty"`
	Status            string    `bson:"status" json:"status"` // pending or completed
	CreatedAt         time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt" json:"updatedAt"`
}

const (
	PurchasePending   = "pending"
	PurchaseCompleted = "completed"
)
