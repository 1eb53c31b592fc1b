package store

import (
	"context"
	"time"

	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
)

// Store is the persistence surface for billing state. Every method is one
// logical transaction; writes touching a projection are a single atomic
// update.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByCustomerID(ctx context.Context, customerID string) (User, error)
	SetProviderCustomer(ctx context.Context, userID, customerID string, env gateway.Environment) error
	SetCheckoutSession(ctx context.Context, userID, sessionID string) error
	AssignProgram(ctx context.Context, userID, programID string) error

	UpsertSubscription(ctx context.Context, providerSubscriptionID string, f SubscriptionFields) (Subscription, bool, error)
	SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (Subscription, error)
	SetSubscriptionStatus(ctx context.Context, providerSubscriptionID string, status Status, canceledAt *time.Time) error
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)

	TransitionProjection(ctx context.Context, userID string, next Projection) error
	SetProjectionStatus(ctx context.Context, userID string, status Status, clearIdentifiers bool) error

	FindExpired(ctx context.Context, now time.Time, yield func(User) error) error
	FindLongPastDue(ctx context.Context, cutoff time.Time, yield func(User) error) error
	DeleteCanceledBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreatePurchase(ctx context.Context, p Purchase) (Purchase, error)
	CompletePurchaseBySession(ctx context.Context, sessionID string) error
}
