package logger

import "log/slog"

// Error returns a standard attribute for error values.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Component tags a record with the emitting component name.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// EventID tags a record with a provider webhook event id.
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// UserID tags a record with the acting user id.
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

// SubscriptionID tags a record with a provider subscription id.
func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}
