package domain

import (
	"errors"
	"fmt"

	"github.com/engagepush/backend/pkg/validator"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExpired  = errors.New("subscription expired")
	ErrRateLimited          = errors.New("push service rate limited the request")
	ErrTransport            = errors.New("push transport failure")
)

// ValidationError is returned when input is rejected before any registry write.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Errors.Error()
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	var errs validator.ValidationErrors
	errs.Add(field, message)
	return &ValidationError{Errors: errs}
}

// ConfigurationError aborts a whole dispatch before any network activity.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Reason)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
