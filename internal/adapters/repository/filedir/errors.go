package filedir

import "errors"

// Sentinel error kinds for this package.
var (
	ErrRead    = errors.New("read directory file")
	ErrParse   = errors.New("parse directory file")
	ErrInvalid = errors.New("invalid directory")
)
