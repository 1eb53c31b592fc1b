// Package httpapi exposes the billing command and query surface over
// JSON HTTP, rooted at /api/v1.
package httpapi
