// Package async provides typed futures over goroutines for fan-out reads
// where a request handler wants to issue independent I/O concurrently and
// join the results.
package async
