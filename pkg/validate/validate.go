// Package validate wraps go-playground/validator for request body validation.
package validate

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates a struct against its validate tags
func Struct[T any](value T) error {
	if err := validate.Struct(value); err != nil {
		return validationErrorToString(value, err)
	}

	return nil
}

// Value validates a single value against a validation tag
func Value(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return validationErrorToString(value, err)
	}
	return nil
}

func validationErrorToString(input any, err error) error {
	// Check if the error is a ValidationErrors type
	if verrs, ok := err.(validator.ValidationErrors); ok {
		// Build a custom error message for each field error.
		msg := ""
		for _, fe := range verrs {
			msg += fmt.Sprintf("\n • Failed %T validation for field '%s': rule '%s' expected '%s', got '%v'.", input, fe.StructField(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s", msg)
	}

	return err
}
