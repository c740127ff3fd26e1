package messaging

import (
	"errors"
	"fmt"
)

// ErrTransportTransient marks a provider failure worth retrying: network
// errors, 5xx responses and rate limiting.
var ErrTransportTransient = errors.New("transport transient failure")

// ErrTransportPermanent marks a provider rejection that will not succeed on
// retry: invalid destination, rejected content, auth failures.
var ErrTransportPermanent = errors.New("transport permanent failure")

// Transient wraps err as a retryable transport failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransportTransient, err)
}

// Permanent wraps err as a non-retryable transport failure.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrTransportPermanent, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransportTransient)
}

// IsPermanent reports whether err is a terminal provider rejection.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrTransportPermanent)
}
