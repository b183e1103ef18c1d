package kafka

import "errors"

// Sentinel errors.
var (
	ErrMissingConfig = errors.New("kafka config missing")
	ErrFetch         = errors.New("kafka fetch failed")
	ErrDecode        = errors.New("kafka message decode failed")
	ErrEncode        = errors.New("kafka message encode failed")
	ErrWrite         = errors.New("kafka write failed")
)
