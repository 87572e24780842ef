// Package validator builds the request validator shared by every handler.
package validator

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// New returns a validator with the custom rules the API DTOs use
// registered. Handlers and tests must build their validator here so the
// rule set never drifts between them.
func New() *validator.Validate {
	v := validator.New()

	// notblank rejects strings that are empty after trimming. Coupon names
	// are unique keys, so a whitespace-only name must not reach the
	// database.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		return strings.TrimSpace(str) != ""
	})

	// rfc3339 checks that a string field parses as an RFC3339 timestamp.
	// The coupon validity window arrives as strings; rejecting malformed
	// ones here gives a field-level message instead of a generic 400.
	_ = v.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
		str, ok := fl.Field().Interface().(string)
		if !ok {
			return true
		}
		_, err := time.Parse(time.RFC3339, str)
		return err == nil
	})

	return v
}
