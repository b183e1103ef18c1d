package replay

import "errors"

// Sentinel error kinds for this package.
var (
	ErrRead       = errors.New("read events failed")
	ErrNoEvents   = errors.New("no events to replay")
	ErrSubmit     = errors.New("submit event failed")
	ErrUnexpected = errors.New("unexpected response")
)
