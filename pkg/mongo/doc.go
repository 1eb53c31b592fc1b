// Package mongo wraps the official MongoDB driver with a retrying
// connector, environment-driven configuration and a readiness probe.
package mongo
