// Package gateway wraps the payment provider behind normalized types and
// a small error taxonomy. It is the only package importing the provider
// SDK; everything above it works with gateway shapes and sentinel errors.
package gateway
