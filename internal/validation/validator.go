// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package validation provides struct validation using go-playground/validator
// v10. Every decoded WebSocket payload is checked against its schema before
// the relay dispatches it; frames that fail validation are logged and
// dropped, never fatal to the connection.
//
// The validator instance is a thread-safe singleton that caches struct info.
//
// Example usage:
//
//	var payload models.PositionUpdatePayload
//	if err := json.Unmarshal(env.Body(), &payload); err != nil { ... }
//	if err := validation.ValidateStruct(&payload); err != nil {
//	    logging.Warn().Err(err).Msg("invalid payload")
//	    return
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError represents a single field validation failure.
type FieldError struct {
	field string
	tag   string
	param string
}

// Field returns the struct field name that failed validation.
func (e *FieldError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *FieldError) Tag() string { return e.tag }

// Error returns a human-readable error message.
func (e *FieldError) Error() string {
	if e.param != "" {
		return fmt.Sprintf("field %s failed %s=%s", e.field, e.tag, e.param)
	}
	return fmt.Sprintf("field %s failed %s", e.field, e.tag)
}

// PayloadError is a collection of field validation failures for one payload.
type PayloadError struct {
	errors []FieldError
}

// Errors returns the individual field failures.
func (pe *PayloadError) Errors() []FieldError { return pe.errors }

// Error implements the error interface, joining all field messages.
func (pe *PayloadError) Error() string {
	if len(pe.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(pe.errors))
	for i := range pe.errors {
		msgs = append(msgs, pe.errors[i].Error())
	}
	return strings.Join(msgs, "; ")
}

// getValidator returns the singleton validator, initializing it on first use.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates a struct against its `validate` tags. Returns a
// *PayloadError describing every failed field, or nil when valid.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Not a struct - programming error, surface as-is.
		return err
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	pe := &PayloadError{errors: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		pe.errors = append(pe.errors, FieldError{
			field: fe.Field(),
			tag:   fe.Tag(),
			param: fe.Param(),
		})
	}
	return pe
}
