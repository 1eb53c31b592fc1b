// Package engine reconciles the local datastore with the payment
// provider. It consumes three input kinds with a fixed source precedence,
// webhook events over user commands over maintenance sweeps, and applies
// every transition through the store's monotonicity guard.
package engine
