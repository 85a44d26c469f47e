// Package backend defines the classification capability the router
// dispatches to and the concrete backends that provide it.
//
// Every backend implements Classifier. The set of backends is fixed when the
// Registry is built; nothing is added or removed at runtime. Available
// variants:
//
//   - HTTP: forwards text to a remote inference server as JSON
//   - Lexicon: a word-list sentiment model for local runs and tests
//   - Guard: wraps any Classifier with a circuit breaker
package backend
