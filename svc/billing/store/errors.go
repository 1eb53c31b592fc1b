package store

import "errors"

var (
	ErrUserNotFound         = errors.New("store: user not found")
	ErrSubscriptionNotFound = errors.New("store: subscription not found")
	ErrPurchaseNotFound     = errors.New("store: purchase not found")
	ErrEmailTaken           = errors.New("store: email already registered")
	ErrStaleEvent           = errors.New("store: projection write older than stored state")
)
