// Package httpserver wraps net/http Server with graceful shutdown, signal
// handling and environment-driven timeouts.
package httpserver
