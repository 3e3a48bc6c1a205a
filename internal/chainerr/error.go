// Package chainerr classifies errors raised while reading chain state and
// processing decoded Safe invocations, so callers can decide retry vs.
// skip vs. abort without string-matching error messages.
package chainerr

import (
	"errors"
	"fmt"
	"time"
)

// IndexError is the classified error type returned by the chain client,
// decoder and processor. Not every error in the service is one: store
// sentinels such as ledger.ErrNotFound and errors wrapped with fmt.Errorf
// cross package boundaries unclassified.
type IndexError struct {
	Code           string
	Message        string
	Classification Classification
	RetryAfter     *time.Duration
	Cause          error
}

func (e *IndexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Classification categorizes errors for retry/skip/abort decisions.
type Classification int

const (
	// Retryable errors are transient I/O failures: RPC timeouts, connection
	// resets, rate limiting. Safe to retry with backoff.
	Retryable Classification = iota

	// NonRetryable errors will not succeed on retry but don't invalidate
	// the unit of work they occurred in beyond the single call (e.g. call
	// data whose selector matches no known Safe function, which the
	// decoder reports as CannotDecode).
	NonRetryable

	// Fatal errors abort the current unit of work outright (e.g. a
	// recognized selector whose arguments don't unpack per the ABI --
	// UnexpectedDecoding in spec terms).
	Fatal
)

func (c Classification) String() string {
	switch c {
	case Retryable:
		return "Retryable"
	case NonRetryable:
		return "NonRetryable"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Common error codes.
const (
	ErrCodeRPCTimeout       = "ERR_RPC_TIMEOUT"
	ErrCodeRPCUnavailable   = "ERR_RPC_UNAVAILABLE"
	ErrCodeAllEndpointsDown = "ERR_ALL_ENDPOINTS_DOWN"

	ErrCodeCannotDecode       = "ERR_CANNOT_DECODE"
	ErrCodeUnexpectedDecoding = "ERR_UNEXPECTED_DECODING"
	ErrCodeInvariantViolation = "ERR_INVARIANT_VIOLATION"
	ErrCodeUniqueConflict     = "ERR_UNIQUE_CONFLICT"
)

func New(code, message string, classification Classification, cause error) *IndexError {
	return &IndexError{Code: code, Message: message, Classification: classification, Cause: cause}
}

func NewRetryable(code, message string, retryAfter *time.Duration, cause error) *IndexError {
	return &IndexError{Code: code, Message: message, Classification: Retryable, RetryAfter: retryAfter, Cause: cause}
}

func NewNonRetryable(code, message string, cause error) *IndexError {
	return &IndexError{Code: code, Message: message, Classification: NonRetryable, Cause: cause}
}

func NewFatal(code, message string, cause error) *IndexError {
	return &IndexError{Code: code, Message: message, Classification: Fatal, Cause: cause}
}

func IsRetryable(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Classification == Retryable
}

func IsNonRetryable(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Classification == NonRetryable
}

func IsFatal(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Classification == Fatal
}

// IsUniqueConflict reports whether err represents a unique-constraint
// violation on a ledger upsert, which callers should absorb silently
// rather than treat as a processing failure.
func IsUniqueConflict(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Code == ErrCodeUniqueConflict
}
