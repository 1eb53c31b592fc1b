// Package auth issues and validates bearer tokens with server-side
// revocation through a stored token version.
package auth
