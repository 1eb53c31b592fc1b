// Package sweeper runs the periodic maintenance passes: expiring ended
// subscriptions, canceling long past-due ones, and pruning canceled rows
// past the retention window.
package sweeper
