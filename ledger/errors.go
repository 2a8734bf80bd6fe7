/*
errors.go - Error kinds for the ledger engine

ERROR KINDS:
  Validation          malformed or out-of-range input, never partially applied
  NotFound            referenced counterparty/advance/batch/price does not exist
  InvalidState        operation not valid in the entity's current state
  ConcurrencyConflict a compare-and-swap on a shared balance lost a race

Every kind has a sentinel so callers can use errors.Is; *Error carries the
operation and field for structured responses.

  if errors.Is(err, ledger.ErrInvalidState) { ... }
  if ledger.IsRetryable(err) { retry }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	ErrInvalidState = errors.New("invalid state")

	// ErrConcurrencyConflict is returned by stores when a versioned update
	// finds a different version than the one that was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDuplicateKey is returned by stores when a unique key (receipt
	// number, batch id) already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindInvalidState        ErrorKind = "invalid_state"
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
	KindInternal            ErrorKind = "internal"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindInvalidState:
		return ErrInvalidState
	case KindConcurrencyConflict:
		return ErrConcurrencyConflict
	}
	return nil
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the structured error returned by every ledger operation.
type Error struct {
	Kind    ErrorKind
	Op      string // e.g. "advance.settle"
	Field   string // offending input field, validation only
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func validationError(op, field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(op, what string, id any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func invalidStateError(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Op: op, Message: fmt.Sprintf(format, args...)}
}

// wrapStoreError classifies an error coming back from a Store.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, ErrConcurrencyConflict) {
		return &Error{Kind: KindConcurrencyConflict, Op: op, Message: "entity was modified concurrently", Err: err}
	}
	return &Error{Kind: KindInternal, Op: op, Message: "store failure", Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf reports the kind of err, KindInternal when it is not a ledger error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	}
	return KindInternal
}

// IsRetryable returns true if the whole operation may succeed when re-run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the caller must change its input or target.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidState)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
