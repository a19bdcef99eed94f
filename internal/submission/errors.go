// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package submission

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by RejectionError kinds.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrAlreadyDecided = errors.New("already decided")
	ErrPreconditions  = errors.New("preconditions not met")
	ErrNotFound       = errors.New("not found")
)

// Kind classifies a rejected lifecycle operation.
type Kind string

const (
	KindUnauthorized   Kind = "unauthorized"
	KindAlreadyDecided Kind = "already-decided"
	KindPreconditions  Kind = "preconditions-not-met"
	KindNotFound       Kind = "not-found"
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindAlreadyDecided:
		return ErrAlreadyDecided
	case KindPreconditions:
		return ErrPreconditions
	case KindNotFound:
		return ErrNotFound
	}
	return nil
}

// RejectionError reports why an operation was refused. Nothing was written
// when an operation returns one.
type RejectionError struct {
	Kind   Kind
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches the sentinel for the error's kind.
func (e *RejectionError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func reject(kind Kind, format string, args ...any) error {
	return &RejectionError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
