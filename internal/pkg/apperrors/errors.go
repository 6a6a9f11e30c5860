// Package apperrors defines the error kinds shared by the quota, billing and
// reminder packages.
package apperrors

import (
	"errors"
	"fmt"

	jujuerrors "github.com/juju/errors"
)

// ErrNotFound is matched by every not-found error produced by NotFoundf.
const ErrNotFound = jujuerrors.NotFound

// NotFoundf returns an error satisfying errors.Is(err, ErrNotFound).
func NotFoundf(format string, args ...interface{}) error {
	return jujuerrors.NotFoundf(format, args...)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidationError is returned for malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// QuotaExceededError is a user-visible denial from the quota tracker.
type QuotaExceededError struct {
	Action string
	Limit  int
	Period string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Limit of %d %ss per %s reached", e.Limit, e.Action, e.Period)
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var q *QuotaExceededError
	return errors.As(err, &q)
}

// ConflictError reports a write that collided with an existing row. Callers
// treat the existing row as authoritative.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.Key)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// BillingProviderError wraps a failed call to the billing provider.
type BillingProviderError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *BillingProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("billing provider %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *BillingProviderError) Unwrap() error { return e.Err }

// NotificationDeliveryError wraps a failed push or call attempt. Permanent
// failures must not be retried.
type NotificationDeliveryError struct {
	Channel   string
	Permanent bool
	Err       error
}

func (e *NotificationDeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s delivery failed (%s): %v", e.Channel, kind, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err must not be retried. Validation errors,
// permanent provider errors and permanent delivery errors qualify.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) {
		return true
	}
	var b *BillingProviderError
	if errors.As(err, &b) {
		return !b.Transient
	}
	var n *NotificationDeliveryError
	if errors.As(err, &n) {
		return n.Permanent
	}
	return false
}
