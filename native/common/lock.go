package common

import (
	"errors"
	"sync/atomic"
)

// ErrReentrantCall is returned when a guarded operation is entered while
// another guarded operation on the same lock is still executing.
var ErrReentrantCall = errors.New("reentrant call")

// ExecutionLock is a non-blocking "currently executing" flag. It never waits:
// a second entry, whether from a callback on the same call stack or from a
// concurrent caller, fails immediately.
type ExecutionLock struct {
	executing atomic.Bool
}

// Enter marks the lock as held and returns the matching release function.
func (l *ExecutionLock) Enter() (func(), error) {
	if !l.executing.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { l.executing.Store(false) }, nil
}

// Held reports whether a guarded operation is in progress.
func (l *ExecutionLock) Held() bool {
	return l.executing.Load()
}
