// Package intake terminates provider webhooks: signature verification,
// event-id deduplication backed by redis, and dispatch to the
// reconciliation engine.
package intake
