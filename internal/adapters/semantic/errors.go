package semantic

import "errors"

// Sentinel error kinds for this package.
var (
	ErrMissingAPIKey = errors.New("openai api key is required")
	ErrRequest       = errors.New("semantic match request failed")
	ErrResponse      = errors.New("invalid semantic match response")
)
