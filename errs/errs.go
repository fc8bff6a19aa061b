// Package errs defines the failure kinds reported by the signing engine.
//
// Every failure surfaced by the codec, cipher, key-image sync, transaction
// signer and tx-key recovery wraps exactly one of the sentinel errors below,
// so callers can branch with errors.Is:
//
//	if errors.Is(err, errs.ErrCommitmentMismatch) {
//		// the device echoed a value that does not match our recomputation
//	}
//
// Signer failures are additionally wrapped in a *StepError naming the round
// at which the session failed.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding reports a malformed or wrong-length encoding.
	ErrEncoding = errors.New("encoding error")
	// ErrCrypto reports an authentication or primitive failure.
	ErrCrypto = errors.New("crypto error")
	// ErrCommitmentMismatch reports a recomputed hash or HMAC that differs from the device's.
	ErrCommitmentMismatch = errors.New("commitment mismatch")
	// ErrProtocol reports an acknowledgment with missing or out-of-range fields.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidState reports a step or accessor used before its state exists.
	ErrInvalidState = errors.New("invalid state")
)

// Encoding returns an error wrapping ErrEncoding.
func Encoding(format string, args ...any) error {
	return wrap(ErrEncoding, format, args...)
}

// Crypto returns an error wrapping ErrCrypto.
func Crypto(format string, args ...any) error {
	return wrap(ErrCrypto, format, args...)
}

// Mismatch returns an error wrapping ErrCommitmentMismatch.
func Mismatch(format string, args ...any) error {
	return wrap(ErrCommitmentMismatch, format, args...)
}

// Protocol returns an error wrapping ErrProtocol.
func Protocol(format string, args ...any) error {
	return wrap(ErrProtocol, format, args...)
}

// InvalidState returns an error wrapping ErrInvalidState.
func InvalidState(format string, args ...any) error {
	return wrap(ErrInvalidState, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the sentinel wrapped by err, or nil if err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrEncoding, ErrCrypto, ErrCommitmentMismatch, ErrProtocol, ErrInvalidState} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// StepError records the protocol round at which a session failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AtStep wraps err with the step name. A nil err stays nil and an existing
// StepError is not wrapped twice.
func AtStep(step string, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Step: step, Err: err}
}
