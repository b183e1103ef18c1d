package postgres

import "errors"

// Sentinel errors.
var (
	ErrMigrate = errors.New("schema migration failed")
	ErrDecode  = errors.New("stored row decode failed")
)
