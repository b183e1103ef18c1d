package dedupe

import "errors"

// Sentinel errors for the gate and its stores.
var (
	ErrEmptyID       = errors.New("event id is empty")
	ErrRecord        = errors.New("record event failed")
	ErrClaim         = errors.New("claim event failed")
	ErrRelease       = errors.New("release claim failed")
	ErrMarkProcessed = errors.New("mark processed failed")
	ErrNotFound      = errors.New("event not recorded")
	ErrNotClaimed    = errors.New("event is not claimed")
	ErrClaimLost     = errors.New("claim was taken over")
)
