// Package cart externalizes the shopping cart into redis with encrypted
// contents so it is shared across processes instead of living in process
// memory.
package cart
