// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package validation provides struct validation using go-playground/validator
// v10 plus the request-level semantic rules that struct tags cannot express
// (streaming channel requirements, response topic requirements).
//
// The validator instance is a thread-safe singleton; validator.Validate
// caches struct metadata, so sharing one instance is both safe and cheap.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dgfacade/dgfacade/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// instance returns the singleton validator.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string
	Tag     string
	Message string
}

// Error returns the human-readable message.
func (e FieldError) Error() string { return e.Message }

// RequestValidationError aggregates field failures for one request.
type RequestValidationError struct {
	fieldErrors []FieldError
}

// Errors returns the individual field errors.
func (e *RequestValidationError) Errors() []FieldError { return e.fieldErrors }

// Error implements the error interface.
func (e *RequestValidationError) Error() string {
	if len(e.fieldErrors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.fieldErrors))
	for _, fe := range e.fieldErrors {
		msgs = append(msgs, fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// ValidateStruct validates any struct against its validate tags.
func ValidateStruct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &RequestValidationError{}
	for _, fe := range verrs {
		out.fieldErrors = append(out.fieldErrors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

// fieldMessage renders one validator failure as a readable sentence.
func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// ValidateRequest applies struct tags plus the semantic rules of the request
// envelope. It returns a *RequestValidationError describing every violation.
func ValidateRequest(req *models.Request) error {
	if req == nil {
		return &RequestValidationError{fieldErrors: []FieldError{
			{Field: "request", Tag: "required", Message: "request body is required"},
		}}
	}

	out := &RequestValidationError{}
	if err := ValidateStruct(req); err != nil {
		var rve *RequestValidationError
		if errors.As(err, &rve) {
			out.fieldErrors = append(out.fieldErrors, rve.fieldErrors...)
		} else {
			return err
		}
	}

	if req.Streaming && len(req.ResponseChannels) == 0 {
		out.fieldErrors = append(out.fieldErrors, FieldError{
			Field:   "response_channels",
			Tag:     "required",
			Message: "streaming requests must name at least one response channel",
		})
	}
	for _, ch := range req.ResponseChannels {
		if _, ok := models.ParseChannelType(string(ch)); !ok {
			out.fieldErrors = append(out.fieldErrors, FieldError{
				Field:   "response_channels",
				Tag:     "oneof",
				Message: fmt.Sprintf("unknown response channel %q", ch),
			})
		}
	}
	if req.Streaming && req.NeedsResponseTopic() && req.ResponseTopic == "" {
		out.fieldErrors = append(out.fieldErrors, FieldError{
			Field:   "response_topic",
			Tag:     "required",
			Message: "response_topic is required when a broker response channel is requested",
		})
	}

	if len(out.fieldErrors) > 0 {
		return out
	}
	return nil
}
