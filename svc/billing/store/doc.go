// Package store persists billing users, subscription history rows and
// one-time purchases. The Mongo implementation backs the server; an
// in-memory implementation backs tests.
package store
