package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

var (
	ErrChainMismatch = errors.New("chain id of new events doesn't match the chain")
	ErrPartialChain  = errors.New("event chain is partial")
	ErrEmptyRebase   = errors.New("unable to rebase: both chains need events")
	ErrEmptyChain    = errors.New("event chain has no events")
	ErrNotAnchored   = errors.New("event is not anchored yet")
)

// UnresolvableConflictError is returned when a fork can't be resolved.
type UnresolvableConflictError struct {
	Ours   *EventChain
	Theirs *EventChain

	// NotAnchored is set when one of the forks is not anchored yet; the conflict may resolve later.
	NotAnchored bool
	Cause       error
}

func (e *UnresolvableConflictError) Error() string {
	msg := fmt.Sprintf("failed to resolve conflict for chain '%s'", chainID(e.Ours))
	if e.NotAnchored {
		msg += "; " + ErrNotAnchored.Error()
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnresolvableConflictError) Unwrap() error {
	return e.Cause
}

func (e *UnresolvableConflictError) Is(target error) bool {
	if target == ErrNotAnchored {
		return e.NotAnchored
	}
	_, ok := target.(*UnresolvableConflictError)
	return ok
}

func chainID(c *EventChain) string {
	if c == nil {
		return ""
	}
	return c.ID
}
