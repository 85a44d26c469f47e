// Package handler exposes the router over HTTP: prediction, live weight
// reconfiguration, metrics and liveness. It translates domain errors into
// status codes and a uniform JSON error body.
package handler
