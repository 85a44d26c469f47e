// Package router implements weighted random backend selection for A/B
// experiments.
//
// A Router is built from a WeightTable whose key set is fixed for its
// lifetime. Weights can be replaced at runtime through UpdateWeights; the
// swap is a single pointer store, so concurrent Select calls observe either
// the previous table or the new one in full. Swap does the same and returns
// the committed table; WithObserver sees every commit in order.
//
// Usage:
//
//	r, err := router.New(router.WeightTable{"distilbert": 0.5, "roberta": 0.5})
//	id, err := r.Select()
//	err = r.UpdateWeights(router.WeightTable{"distilbert": 0.2, "roberta": 0.8})
package router
