// Package plan holds the fixed subscription plan enumeration and the
// catalog that resolves provider price identifiers at runtime, with a
// static fallback pricing table for when the provider is unreachable.
package plan
