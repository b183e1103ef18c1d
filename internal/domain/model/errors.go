package model

import "errors"

// Sentinel errors for payload decoding.
var (
	ErrUnknownKind      = errors.New("unknown event kind")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Sentinel errors for directory data.
var (
	ErrUnknownReason       = errors.New("unknown watching reason")
	ErrInvalidDigestConfig = errors.New("invalid digest config")
)
