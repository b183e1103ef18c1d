package worker

import "errors"

// ErrTaskPanic wraps a recovered task panic.
var ErrTaskPanic = errors.New("task panicked")
