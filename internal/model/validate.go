package model

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ValidationError holds a list of field-level validation errors. It matches
// ErrInvalidArgument under errors.Is.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

const maxKeyLength = 200

// ValidateKey checks that key is usable as an entity identity: non-empty, at
// most 200 characters, and free of whitespace and control characters.
func ValidateKey(field, key string) error {
	var msg string
	switch {
	case key == "":
		msg = "is required"
	case len(key) > maxKeyLength:
		msg = fmt.Sprintf("must be %d characters or fewer", maxKeyLength)
	case strings.IndexFunc(key, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		msg = "must not contain whitespace"
	default:
		return nil
	}
	return &ValidationError{Errors: []FieldError{{Field: field, Message: msg}}}
}

// ValidateRules checks an attribute-validation schema: every pattern must
// compile, and allowed values must be non-empty strings.
func ValidateRules(rules map[string]AttributeRule) error {
	var ve ValidationError
	for name, r := range rules {
		field := "attribute_validation." + name
		if strings.TrimSpace(name) == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: "attribute_validation", Message: "attribute name is required"})
			continue
		}
		if r.Pattern != "" {
			if _, err := regexp.Compile(r.Pattern); err != nil {
				ve.Errors = append(ve.Errors, FieldError{Field: field, Message: fmt.Sprintf("invalid pattern: %v", err)})
			}
		}
		for _, v := range r.AllowedValues {
			if v == "" {
				ve.Errors = append(ve.Errors, FieldError{Field: field, Message: "allowed values must be non-empty"})
				break
			}
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateLinkRule checks that a rule names all three types and carries a
// known cardinality.
func ValidateLinkRule(r *LinkRule) error {
	var ve ValidationError
	if r.LinkTypeKey == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "link_type_key", Message: "is required"})
	}
	if r.StartItemTypeKey == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "start_item_type_key", Message: "is required"})
	}
	if r.EndItemTypeKey == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "end_item_type_key", Message: "is required"})
	}
	if !r.Cardinality.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{Field: "cardinality", Message: fmt.Sprintf("invalid value %q", r.Cardinality)})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}
