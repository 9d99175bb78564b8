package sale

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can branch without matching every
// individual reason.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindState
	KindCapacity
	KindArithmetic
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindArithmetic:
		return "arithmetic"
	case KindTransfer:
		return "transfer"
	default:
		return "internal"
	}
}

// Error is the typed outcome of every failed engine operation. Sentinel values
// below identify the reason; wrapped instances carry the underlying cause and
// still match their sentinel with errors.Is.
type Error struct {
	kind   Kind
	reason string
	cause  error
}

func newError(kind Kind, reason string) *Error {
	return &Error{kind: kind, reason: reason}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("sale: %s: %v", e.reason, e.cause)
	}
	return "sale: " + e.reason
}

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.kind }

// Reason returns the stable, human readable reason without the cause.
func (e *Error) Reason() string { return e.reason }

func (e *Error) Unwrap() error { return e.cause }

// Is matches any Error carrying the same kind and reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.reason == e.reason
}

func (e *Error) wrap(cause error) *Error {
	return &Error{kind: e.kind, reason: e.reason, cause: cause}
}

func (e *Error) withf(format string, args ...any) *Error {
	return e.wrap(fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.kind
	}
	return KindInternal
}

var (
	ErrInvalidPrice       = newError(KindValidation, "invalid price: must be greater than zero")
	ErrInvalidAmount      = newError(KindValidation, "invalid token amount: must be greater than zero")
	ErrInvalidStartTime   = newError(KindValidation, "invalid start time")
	ErrInvalidEndTime     = newError(KindValidation, "invalid end time: must be after start time")
	ErrEndTimeInPast      = newError(KindValidation, "sale end time cannot be in the past")
	ErrInvalidPlatformFee = newError(KindValidation, "invalid platform fee: must be 10000 basis points or less")
	ErrInvalidAsset       = newError(KindValidation, "invalid asset identifier")
	ErrInvalidIdentity    = newError(KindValidation, "identity must be non-zero")

	ErrSaleNotFound       = newError(KindState, "sale not found")
	ErrSaleExists         = newError(KindState, "sale already exists for seller and asset")
	ErrBuyerExists        = newError(KindState, "buyer record already exists")
	ErrSaleNotActive      = newError(KindState, "sale is not active")
	ErrSalePaused         = newError(KindState, "sale is currently paused")
	ErrSaleNotStarted     = newError(KindState, "sale has not started yet")
	ErrSaleEnded          = newError(KindState, "sale has ended")
	ErrSaleAlreadyStarted = newError(KindState, "sale has already started, cannot modify parameters")
	ErrUnauthorized       = newError(KindState, "caller is not the sale seller")
	ErrModulePaused       = newError(KindState, "sale module paused by platform")
	ErrVaultNotEmpty      = newError(KindState, "sale vault already holds a balance")

	ErrInsufficientSupply   = newError(KindCapacity, "insufficient tokens available")
	ErrExceedsPurchaseLimit = newError(KindCapacity, "purchase exceeds per-buyer limit")

	ErrMathOverflow = newError(KindArithmetic, "math overflow")

	ErrTransferFailed = newError(KindTransfer, "asset transfer failed")

	ErrNotConfigured      = newError(KindInternal, "engine not configured")
	ErrStorage            = newError(KindInternal, "state storage failure")
	ErrRollbackIncomplete = newError(KindInternal, "rollback incomplete")
)
