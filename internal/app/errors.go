package service

import "errors"

// Sentinel error kinds for this package.
var (
	ErrMissingDependency = errors.New("missing dependency")
	ErrDelivery          = errors.New("delivery failed")
	ErrSideEffect        = errors.New("side effect failed")
	ErrLoadSubscribers   = errors.New("load subscribers failed")
	ErrTrackItem         = errors.New("track item failed")
	ErrEvaluationAborted = errors.New("evaluation aborted")
)
