package circulation

import (
	"errors"
	"fmt"
)

// PolicyCode identifies which lending policy rejected an operation.
type PolicyCode string

const (
	CodeBorrowLimitExceeded      PolicyCode = "BorrowLimitExceeded"
	CodeRenewalLimitExceeded     PolicyCode = "RenewalLimitExceeded"
	CodeReaderSuspended          PolicyCode = "ReaderSuspended"
	CodeOutstandingFinesExceeded PolicyCode = "OutstandingFinesExceeded"
	CodeBookReserved             PolicyCode = "BookReserved"
	CodeUseDirectBorrow          PolicyCode = "UseDirectBorrow"
)

// PolicyError is an operation rejected by a lending rule. The circumstances
// are legitimate; the caller just isn't allowed what it asked for.
type PolicyError struct {
	Code    PolicyCode
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPolicy reports whether err is a PolicyError with the given code.
func IsPolicy(err error, code PolicyCode) bool {
	var pe *PolicyError
	return errors.As(err, &pe) && pe.Code == code
}

// ValidationError is malformed or self-contradictory input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Message
}

// NotFoundError is a lookup of a missing entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ConflictError is a state clash discovered at commit time, such as the last
// copy being claimed by a concurrent borrower. Callers may retry or reserve.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// ForbiddenError is a capability check failure: the actor's role does not
// permit the operation, or it targets another reader's records.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Message
}

// InvariantError signals an internal bug: ledger state that the engine
// guarantees can never occur. It aborts the enclosing operation and is
// reported with a full state snapshot; it is never auto-corrected.
type InvariantError struct {
	Component string
	Message   string
	Snapshot  map[string]any
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Component, e.Message)
}
