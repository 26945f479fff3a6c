package engine

import "errors"

// ErrThreadNotActive is returned when an operation targets a thread other
// than the one whose log is currently held.
var ErrThreadNotActive = errors.New("thread is not active")
