// Package circuitbreaker implements the circuit breaker pattern for
// inference backends.
//
// A breaker stops calls to a backend that keeps failing so requests routed
// to it fail fast instead of waiting out a timeout. It has three states:
//
//   - CLOSED: Normal operation, calls pass through
//   - OPEN: Backend failing, calls rejected
//   - HALF-OPEN: One probe call admitted to test recovery
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("distilbert")
//	if cb.Allow() {
//	    // Call backend...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
