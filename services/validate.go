// Package services holds the use cases behind the HTTP handlers: identity,
// inventory, the request/loan state machine, notifications and user admin.
package services

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"Gin_postgres_redis_loan_manager/apperr"

	"github.com/go-playground/validator/v10"
)

var (
	studentNumberRe = regexp.MustCompile(`^\d{7}$`)
	phoneRe         = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
	colorRe         = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误里用 json 字段名，前端直接对得上
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("student_number", func(fl validator.FieldLevel) bool {
		return studentNumberRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("color", func(fl validator.FieldLevel) bool {
		return colorRe.MatchString(fl.Field().String())
	})
	return v
}

// strongPassword: at least 8 characters with a lower case letter, an upper case letter and a digit.
func strongPassword(p string) bool {
	if len(p) < 8 {
		return false
	}
	var lower, upper, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// check validates a struct and turns validator output into a field-level apperr.
func check(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return apperr.Validation(FieldErrors(ve)...)
	}
	return err
}

// FieldErrors converts validator errors, ours or gin binding's, into API field errors.
func FieldErrors(ve validator.ValidationErrors) []apperr.FieldError {
	out := make([]apperr.FieldError, 0, len(ve))
	for _, fe := range ve {
		out = append(out, apperr.FieldError{Field: fieldName(fe), Message: fieldMessage(fe)})
	}
	return out
}

func fieldName(fe validator.FieldError) string {
	if f := fe.Field(); f != "" {
		return f
	}
	return strings.ToLower(fe.StructField())
}

func fieldMessage(fe validator.FieldError) string {
	text := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if text {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "max":
		if text {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gtfield":
		return "must be after " + fe.Param()
	case "password":
		return "must be at least 8 characters with a lower case letter, an upper case letter and a digit"
	case "student_number":
		return "must be exactly 7 digits"
	case "phone":
		return "invalid phone number"
	case "color":
		return "must be a hex color like #1A2B3C"
	}
	return "is invalid"
}
