// Package handler provides the JSON response envelope, HTTP error
// taxonomy and request decoding shared by the API surface. Errors flow as
// values: endpoints return sentinel or HTTPError values and JSONError maps
// them to the wire format.
package handler
