// Package jwt implements HMAC-SHA256 JSON Web Token generation and
// validation. Token revocation is handled above this package: access
// tokens carry a token_version claim that callers compare against the
// stored user record.
package jwt
