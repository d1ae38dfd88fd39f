package models

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both unknown ids and ownership mismatches so that
// non-owners can never probe for another user's instance ids.
var ErrNotFound = errors.New("not found")

// ValidationError reports a user-correctable problem with a create
// request: malformed input or an exhausted per-owner quota.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidStateError reports a command that is illegal for the
// instance's current state. Current is included so clients can refresh.
type InvalidStateError struct {
	Current   string
	Requested string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s instance in state %q", e.Requested, e.Current)
}

// WindowRestrictedError reports a start attempted outside the access
// window. The bounds are included so the UI can explain the policy.
type WindowRestrictedError struct {
	StartHour int
	EndHour   int
}

func (e *WindowRestrictedError) Error() string {
	return fmt.Sprintf("start operations are only allowed between %02d:00 and %02d:00", e.StartHour, e.EndHour)
}

// RuntimeUnavailableError reports that the process runtime could not be
// reached. Transient: callers retry, the synchronizer backs off.
type RuntimeUnavailableError struct {
	Cause error
}

func (e *RuntimeUnavailableError) Error() string {
	return fmt.Sprintf("runtime unavailable: %v", e.Cause)
}

func (e *RuntimeUnavailableError) Unwrap() error {
	return e.Cause
}
