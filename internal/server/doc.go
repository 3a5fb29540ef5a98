// Package server hosts the Fiber admin application that sits next to the
// store cache: request-id middleware, panic recovery, and a JSON error
// handler that maps cache and upstream errors onto HTTP status codes.
// Route sets live in the routes subpackage and receive their dependencies
// explicitly, so keep exports narrow.
package server
