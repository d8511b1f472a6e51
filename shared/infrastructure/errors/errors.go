/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides domain-specific error types for credential lifecycle management.
// These errors help distinguish between different failure modes and enable
// appropriate handling strategies (retry, abort, programmer error).
package errors

import (
	"errors"
	"fmt"
)

// IllegalStateError indicates an operation was invoked in a lifecycle state
// that does not permit it, e.g. initializing a task twice or using it after destroy.
// This is a programmer error and is never retried.
type IllegalStateError struct {
	Resource  string // Name of the task or resource
	State     string // State the resource was in
	Operation string // Operation that was rejected
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state: cannot %s %q while %s", e.Operation, e.Resource, e.State)
}

// NewIllegalStateError creates an IllegalStateError.
func NewIllegalStateError(resource, state, operation string) *IllegalStateError {
	return &IllegalStateError{
		Resource:  resource,
		State:     state,
		Operation: operation,
	}
}

// IsIllegalStateError returns true if the error is an IllegalStateError.
func IsIllegalStateError(err error) bool {
	var stateErr *IllegalStateError
	return errors.As(err, &stateErr)
}

// DecodeError indicates the expiry embedded in a credential could not be read.
type DecodeError struct {
	Reason string // What could not be decoded
	Cause  error  // The underlying parser error, if any
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// NewDecodeError creates a DecodeError.
func NewDecodeError(reason string, cause error) *DecodeError {
	return &DecodeError{
		Reason: reason,
		Cause:  cause,
	}
}

// IsDecodeError returns true if the error is a DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}

// ValidationError indicates invalid configuration or input.
// This is a permanent error - retrying won't help without user correction.
type ValidationError struct {
	Field   string // The field that failed validation
	Value   string // The invalid value (may be redacted for sensitive data)
	Message string // Why validation failed
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// TransientError indicates a temporary failure that should be retried.
// Common causes: network issues, secret store unavailable, rate limiting.
type TransientError struct {
	Operation string // What operation was attempted
	Cause     error  // The underlying error
	Retryable bool   // Whether retry is recommended
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("transient error during %s", e.Operation)
}

// Unwrap returns the underlying cause for errors.As/Is support.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a TransientError.
func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{
		Operation: operation,
		Cause:     cause,
		Retryable: true,
	}
}

// IsTransientError returns true if the error is a TransientError.
func IsTransientError(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

// NotFoundError indicates a credential does not exist in the external store.
type NotFoundError struct {
	Source string // e.g., "vault", "aws-secretsmanager"
	Key    string // Path, ARN or name that was looked up
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.Source, e.Key)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(source, key string) *NotFoundError {
	return &NotFoundError{
		Source: source,
		Key:    key,
	}
}

// IsNotFoundError returns true if the error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// IsRetryable reports whether a failed fetch is worth another attempt.
// Lifecycle, decode, validation and not-found errors are permanent. A
// TransientError follows its Retryable flag. Anything else is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.Retryable
	}

	if IsIllegalStateError(err) || IsDecodeError(err) || IsValidationError(err) || IsNotFoundError(err) {
		return false
	}

	return true
}
