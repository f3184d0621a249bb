package entity

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalid    = errors.New("invalid profile input")
	ErrEmptyPatch = errors.New("empty profile patch")
)

// FieldError names the offending json field of an invalid input.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

// ValidationError wraps ErrInvalid with the failing fields.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" ("+f.Tag+")")
	}
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names, not Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return Role(fl.Field().String()).Valid()
	})
	return v
}

// Validator exposes the shared validator so sibling packages validate with
// the same tags (including "role").
func Validator() *validator.Validate { return validate }

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Fields = append(ve.Fields, FieldError{Field: fe.Field(), Tag: fe.Tag()})
	}
	return ve
}
