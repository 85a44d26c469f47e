// Package dispatcher runs a single prediction request end to end: resolve a
// backend, invoke it under a timeout, record the outcome, and build the
// response.
package dispatcher
