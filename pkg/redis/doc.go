// Package redis provides a retrying Redis connector and healthcheck probe
// around go-redis.
package redis
