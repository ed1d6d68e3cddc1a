package services

import (
	"errors"
	"fmt"
)

// AuthenticationError means the caller's credentials were missing or wrong.
// Nothing was changed.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError means a required input was missing or malformed. Nothing
// was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotConfiguredError means a credential or mapping needed for an optional
// step is absent. Callers treat it as a skip.
type NotConfiguredError struct {
	What string
}

func (e *NotConfiguredError) Error() string {
	return e.What + " is not configured"
}

func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotConfigured(err error) bool {
	var target *NotConfiguredError
	return errors.As(err, &target)
}
