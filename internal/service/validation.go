package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Usernames are used verbatim in cache keys and token subjects.
var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var (
	validate *validator.Validate
	once     sync.Once
)

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Use json tag names for field names in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return strings.ToLower(fld.Name)
			}
			return name
		})

		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernameRegex.MatchString(fl.Field().String())
		})
	})
	return validate
}

// validateInput validates s and converts failures into ErrMissingField or
// ErrInvalidField. A missing field takes precedence over an invalid one.
func validateInput(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	var invalid validator.FieldError
	for _, e := range validationErrors {
		if e.Tag() == "required" {
			return fmt.Errorf("%w: %s", ErrMissingField, e.Field())
		}
		if invalid == nil {
			invalid = e
		}
	}

	return fmt.Errorf("%w: %s %s", ErrInvalidField, invalid.Field(), describe(invalid))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "username":
		return "may only contain letters, digits, '.', '_' and '-'"
	default:
		return "is invalid"
	}
}
