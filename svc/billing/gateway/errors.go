package gateway

import "errors"

// Provider failures are classified into this small taxonomy; callers
// branch with errors.Is and never see provider-specific types.
var (
	ErrBadSignature         = errors.New("gateway: webhook signature verification failed")
	ErrNotFound             = errors.New("gateway: provider object not found")
	ErrInvalidPaymentMethod = errors.New("gateway: payment method was declined or is invalid")
	ErrNetwork              = errors.New("gateway: provider unreachable")
	ErrConflict             = errors.New("gateway: conflicting provider request")
	ErrProvider             = errors.New("gateway: provider request failed")
)
