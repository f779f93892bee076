package common

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// FieldError represents a single field validation failure
type FieldError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// Validator provides validation utilities
type Validator struct {
	errors []FieldError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]FieldError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Error returns the collected failures as a single input validation error.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	ae := ValidationErrorf("%s", v.ErrorMessage())
	ae.Key = v.errors[0].Field
	return ae
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}

	var messages []string
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *FieldError

// Required - Common validation rules
func Required(fieldName string, value interface{}) *FieldError {
	if value == nil {
		return &FieldError{Field: fieldName, Value: value, Message: "is required"}
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return &FieldError{Field: fieldName, Value: value, Message: "is required"}
		}
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return &FieldError{Field: fieldName, Value: value, Message: "is required"}
		}
	}
	return nil
}

func MaxLength(max int) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &FieldError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("must be at most %d characters", max),
			}
		}
		return nil
	}
}

// Matches rejects non-empty strings that do not match re.
func Matches(re *regexp.Regexp, hint string) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, ok := value.(string)
		if !ok || str == "" {
			return nil
		}
		if !re.MatchString(str) {
			return &FieldError{Field: fieldName, Value: value, Message: hint}
		}
		return nil
	}
}

// OneOf rejects values outside the allowed set.
func OneOf(allowed ...string) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, ok := value.(string)
		if !ok || str == "" {
			return nil
		}
		for _, a := range allowed {
			if str == a {
				return nil
			}
		}
		return &FieldError{
			Field:   fieldName,
			Value:   value,
			Message: "must be one of " + strings.Join(allowed, ", "),
		}
	}
}
