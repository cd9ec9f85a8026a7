package adapter

import "errors"

// Sentinel errors returned by protocol adapters. Concrete errors wrap one of
// these so callers can branch with errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrSigning               = errors.New("signing failed")
	ErrUnsupportedOperation  = errors.New("unsupported operation")
	ErrParse                 = errors.New("malformed payload")
	ErrUnknownExchange       = errors.New("unknown exchange")
	ErrUnknownSubscription   = errors.New("unknown subscription")
	ErrDuplicateSubscription = errors.New("duplicate subscription")
)

// ErrTradingHalted is returned by CircuitBreaker.Check when order entry is
// blocked.
var ErrTradingHalted = errors.New("trading halted")
