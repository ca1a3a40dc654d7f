package ai

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a collaborator call failed. Callers decide
// between skip-and-continue and abort by kind, and log it either way.
type FailureKind string

const (
	FailureUnavailable FailureKind = "unavailable"
	FailureTimeout     FailureKind = "timeout"
	FailureMalformed   FailureKind = "malformed_output"
	FailureEmpty       FailureKind = "empty_output"
	FailureConfig      FailureKind = "config"
)

// Error is a failed provider call.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err with a kind. A nil err still produces an error.
func Fail(kind FailureKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies a transport error: deadlines become FailureTimeout,
// everything else FailureUnavailable. Already classified errors pass through.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Fail(FailureTimeout, op, err)
	}
	return Fail(FailureUnavailable, op, err)
}

// KindOf reports the failure kind of any error. Unclassified errors count as
// unavailable; nil has no kind.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureUnavailable
}
