package engine

import "errors"

var (
	ErrIncompleteProfile  = errors.New("engine: profile is missing name or email")
	ErrActiveSubscription = errors.New("engine: user already has an active subscription")
	ErrFreePlan           = errors.New("engine: free plan cannot be purchased")
	ErrPriceUnavailable   = errors.New("engine: no provider price configured for plan")
	ErrNotCancelPending   = errors.New("engine: subscription is not flagged for cancellation")
)
