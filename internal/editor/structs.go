package editor

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewStructValidator returns a validator that reports fields by their json
// names, matching the keys the admin forms submit.
func NewStructValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return validate
}

// ValidateStruct runs validate over value and converts tag failures into a
// ValidationError keyed by field name. Other errors pass through.
func ValidateStruct(validate *validator.Validate, value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) {
		return err
	}
	fields := make(FieldErrors, len(failures))
	for _, failure := range failures {
		reason := failure.Tag()
		if reason == "required" {
			reason = ReasonRequired
		}
		fields[failure.Field()] = reason
	}
	return &ValidationError{Fields: fields}
}
