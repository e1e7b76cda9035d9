package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrAccountUnavailable is reported when the remote account is not available
// and sync setup is skipped.
var ErrAccountUnavailable = errors.New("remote account unavailable")

// FailureKind classifies reported failures.
type FailureKind string

const (
	FailureLocalIO            FailureKind = "local-io"
	FailureAccountUnavailable FailureKind = "account-unavailable"
	FailureRemoteSync         FailureKind = "remote-sync"
	FailureCancelled          FailureKind = "cancelled"
)

// OpError is a failure that was logged and swallowed by the operation Op.
type OpError struct {
	Op   string
	Kind FailureKind
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// syncFailure classifies an error returned by a sync engine run.
func syncFailure(op string, err error) *OpError {
	kind := FailureRemoteSync
	if errors.Is(err, context.Canceled) {
		kind = FailureCancelled
	}
	return &OpError{Op: op, Kind: kind, Err: err}
}

// ErrorChannel collects swallowed failures so they can be observed without
// changing the control flow of the operation that hit them. Reports never
// block: when the buffer is full the error is counted and dropped.
type ErrorChannel struct {
	ch      chan error
	dropped atomic.Int64
}

// NewErrorChannel returns an ErrorChannel buffering up to size errors.
func NewErrorChannel(size int) *ErrorChannel {
	if size <= 0 {
		size = 64
	}
	return &ErrorChannel{ch: make(chan error, size)}
}

// Report queues err. Safe on a nil receiver.
func (e *ErrorChannel) Report(err error) {
	if e == nil || err == nil {
		return
	}
	select {
	case e.ch <- err:
	default:
		e.dropped.Add(1)
	}
}

// C returns the channel failures are delivered on.
func (e *ErrorChannel) C() <-chan error { return e.ch }

// Dropped returns how many failures were discarded because the buffer was full.
func (e *ErrorChannel) Dropped() int64 { return e.dropped.Load() }
