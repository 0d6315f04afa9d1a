// Package server implements the control session: a single WebSocket client
// that tunes the monitor and receives live readings.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

// ErrEmptyMessage is returned for messages without any recognized field.
var ErrEmptyMessage = errors.New("no recognized fields")

// validate is the shared validator instance for request validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	if err := validate.RegisterValidation("printable", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), func(r rune) bool { return !unicode.IsPrint(r) }) < 0
	}); err != nil {
		panic(err)
	}
}

// DecodeControlMessage decodes and validates an inbound control message.
// Validation failures are returned as *types.ValidationError.
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.empty() {
		return ControlMessage{}, ErrEmptyMessage
	}

	if err := validate.Struct(&msg); err != nil {
		return ControlMessage{}, toValidationError(err)
	}

	return msg, nil
}

// toValidationError converts validator errors to our format.
func toValidationError(err error) *types.ValidationError {
	verr := types.NewValidationError()

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			verr.Add(e.Field(), formatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}

	return verr
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "printable":
		return "must not contain control characters"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
