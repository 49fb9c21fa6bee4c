/*
errors.go - Error taxonomy for the ledger and its engines

PURPOSE:
  Every failure surfaced by an engine carries a machine-readable kind and code,
  plus a human-readable message. Callers classify with errors.Is / errors.As or
  with the KindOf / CodeOf helpers; the HTTP layer maps kinds to status codes.

ERROR KINDS:
  validation            malformed input, caught before any storage access
  conflict              unit already claimed / sold, duplicate IMEI
  not_found             unknown unit, order, customer or variant
  state                 illegal lifecycle transition
  insufficient_payment  cash tendered below the order total
  transient             contention that survived the retry budget

PROPAGATION:
  Conflict and state errors are produced only after an atomic attempt was
  rolled back, so they never leave partial effects behind.

SEE ALSO:
  - retry.go: decides which errors are retried
  - api/handlers.go: kind to HTTP status mapping
*/
package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindConflict            ErrorKind = "conflict"
	KindNotFound            ErrorKind = "not_found"
	KindState               ErrorKind = "state"
	KindInsufficientPayment ErrorKind = "insufficient_payment"
	KindTransient           ErrorKind = "transient"
	KindInternal            ErrorKind = "internal"
)

// Machine codes.
const (
	CodeEmptyCart            = "empty_cart"
	CodeInvalidCustomerInfo  = "invalid_customer_info"
	CodeInvalidIMEI          = "invalid_imei"
	CodeInvalidInput         = "invalid_input"
	CodeUnitConflict         = "unit_conflict"
	CodeIntakeConflict       = "intake_conflict"
	CodeInsufficientPayment  = "insufficient_payment"
	CodeOrderNumberCollision = "order_number_collision"
	CodeIllegalTransition    = "illegal_transition"
	CodeConfirmationRequired = "confirmation_required"
	CodeOrderMismatch        = "order_mismatch"
	CodeDuplicate            = "duplicate"
	CodeNotFound             = "not_found"
	CodeTransient            = "transient"
	CodeInternal             = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrState               = errors.New("illegal state")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrTransient           = errors.New("transient failure")

	// ErrConcurrentModification is returned by stores when a compare-and-swap
	// finds the row changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIMEI is returned by stores when a unit insert hits an existing IMEI.
	ErrDuplicateIMEI = errors.New("duplicate imei")

	// ErrDuplicateOrderNumber is returned when a document number is already taken.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")

	// ErrDuplicateIdempotencyKey is returned when a sale with the same key exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrLockNotObtained is returned by lockers when a unit lock is held elsewhere.
	ErrLockNotObtained = errors.New("unit lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports input rejected before any storage access.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Conflict names one unit and the state that blocked the operation.
type Conflict struct {
	IMEI   string     `json:"imei"`
	Status UnitStatus `json:"status"`
}

// UnitConflictError lists every unit that blocked a claim or an intake.
type UnitConflictError struct {
	Code      string
	Conflicts []Conflict
}

func (e *UnitConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = c.IMEI + "=" + string(c.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, strings.Join(parts, ", "))
}

func (e *UnitConflictError) Unwrap() error { return ErrConflict }

// IMEIs returns the conflicting unit identifiers.
func (e *UnitConflictError) IMEIs() []string {
	out := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		out[i] = c.IMEI
	}
	return out
}

// DuplicateError reports a uniqueness violation on a catalog or party record.
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.Key)
}

func (e *DuplicateError) Unwrap() error { return ErrConflict }

// TransitionError reports an attempted move the state machine forbids.
type TransitionError struct {
	IMEI string
	From UnitStatus
	To   UnitStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.IMEI, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrState }

// StateError reports a precondition on a document that does not hold.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func (e *StateError) Unwrap() error { return ErrState }

// InsufficientPaymentError provides details about a cash shortfall.
type InsufficientPaymentError struct {
	Total     decimal.Decimal
	Received  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: total %s, received %s, shortfall %s",
		e.Total.String(), e.Received.String(), e.Shortfall.String())
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransientError is surfaced once the retry budget is exhausted.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

func notFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientPayment):
		return KindInsufficientPayment
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicateIMEI), errors.Is(err, ErrDuplicateIdempotencyKey):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrState):
		return KindState
	case IsRetryable(err):
		return KindTransient
	}
	return KindInternal
}

// CodeOf returns the machine code carried by err.
func CodeOf(err error) string {
	var (
		ve *ValidationError
		ce *UnitConflictError
		se *StateError
		de *DuplicateError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &ce):
		return ce.Code
	case errors.As(err, &se):
		return se.Code
	case errors.As(err, &de):
		return CodeDuplicate
	case errors.Is(err, ErrDuplicateOrderNumber):
		return CodeOrderNumberCollision
	}
	switch KindOf(err) {
	case KindState:
		return CodeIllegalTransition
	case KindInsufficientPayment:
		return CodeInsufficientPayment
	case KindNotFound:
		return CodeNotFound
	case KindTransient:
		return CodeTransient
	case KindConflict:
		return CodeUnitConflict
	case KindValidation:
		return CodeInvalidInput
	}
	return CodeInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockNotObtained) ||
		errors.Is(err, ErrDuplicateOrderNumber)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConflict, KindNotFound, KindState, KindInsufficientPayment:
		return true
	}
	return false
}
