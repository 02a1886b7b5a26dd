// Package apperrors defines the error kinds the exchange core raises and
// the helpers adapters use to classify them.
package apperrors

import (
	"errors"
	"fmt"
)

// Standardized exchange errors. Engine and store code wraps these with
// %w so callers can classify with errors.Is / KindOf.
var (
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrStaleTicker       = errors.New("stale ticker")
	ErrConflict          = errors.New("conflict")
	ErrTransient         = errors.New("transient store error")
	ErrFatal             = errors.New("fatal")
)

// Kind partitions errors for transport mapping and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnknownSymbol
	KindInsufficientFunds
	KindInvalidArgument
	KindNotFound
	KindIllegalTransition
	KindStaleTicker
	KindConflict
	KindTransient
	KindFatal
)

var kindSentinels = []struct {
	err  error
	kind Kind
}{
	{ErrUnknownSymbol, KindUnknownSymbol},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrNotFound, KindNotFound},
	{ErrIllegalTransition, KindIllegalTransition},
	{ErrStaleTicker, KindStaleTicker},
	{ErrConflict, KindConflict},
	{ErrTransient, KindTransient},
	{ErrFatal, KindFatal},
}

// KindOf reports the kind of err by unwrapping to the sentinel it carries.
func KindOf(err error) Kind {
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}

// IsTransient reports whether the operation that produced err may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// UnknownSymbolf wraps ErrUnknownSymbol with the offending symbol.
func UnknownSymbolf(symbol string) error {
	return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// InsufficientFundsf wraps ErrInsufficientFunds with a detail message.
// The message is user-visible: it becomes the rejected order's cancel reason.
func InsufficientFundsf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInsufficientFunds, fmt.Sprintf(format, args...))
}

// InvalidArgumentf wraps ErrInvalidArgument with a detail message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IllegalTransitionf wraps ErrIllegalTransition with the offending move.
func IllegalTransitionf(oid, from, to string) error {
	return fmt.Errorf("%w: order %s: %s -> %s", ErrIllegalTransition, oid, from, to)
}

// Transientf wraps ErrTransient with the underlying cause.
func Transientf(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, cause)
}

// Fatalf wraps ErrFatal with the underlying cause. Fatal errors indicate a
// corrupt record or a broken invariant and surface as 5xx.
func Fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatal, fmt.Sprintf(format, args...))
}
