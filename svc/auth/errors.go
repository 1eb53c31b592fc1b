package auth

import "errors"

var (
	ErrMissingToken    = errors.New("auth: missing bearer token")
	ErrTokenRevoked    = errors.New("auth: token revoked")
	ErrAccountNotFound = errors.New("auth: account not found")
)
