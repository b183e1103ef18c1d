package digest

import "errors"

// Sentinel errors.
var (
	ErrLeaseHeld   = errors.New("digest lease held by another run")
	ErrLoadConfigs = errors.New("load digest configs failed")
	ErrLoadItems   = errors.New("load tracked items failed")
	ErrPublish     = errors.New("publish digest failed")
)
