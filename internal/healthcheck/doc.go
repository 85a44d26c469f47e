// Package healthcheck implements periodic health probing for remote
// inference backends. Results are logged and exported as the backend_up
// gauge; they do not influence backend selection.
package healthcheck
