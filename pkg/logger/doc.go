// Package logger builds configured slog.Logger instances with consistent
// output format and application-wide static attributes, plus attribute
// helpers shared across components.
package logger
