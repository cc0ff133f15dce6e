package onebot

import (
	"errors"
	"fmt"
)

const (
	ErrorInvalidJSON  = "invalid_json"
	ErrorMissingField = "missing_field"
	ErrorEncode       = "encode_failed"
)

// Error represents a stable, categorized frame decoding failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized frame error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

func missingField(name string) error {
	return NewError(ErrorMissingField, name)
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ErrorInvalidJSON
}
