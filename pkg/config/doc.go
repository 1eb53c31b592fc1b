// Package config loads typed configuration structs from environment
// variables with struct tags, backed by an optional .env file for local
// development. Parsed values are cached per type for the process lifetime.
package config
