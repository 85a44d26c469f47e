package router

import "errors"

var (
	ErrEmptyWeightTable     = errors.New("weight table is empty")
	ErrMismatchedBackendSet = errors.New("backend set does not match registry")
	ErrInvalidWeight        = errors.New("invalid weight")
	ErrWeightsNotNormalized = errors.New("weights do not sum to 1")
)
