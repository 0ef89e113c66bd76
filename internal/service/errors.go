package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pompaku/backend/internal/store"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports rejected input. Fields is empty when the problem is
// not tied to one field, e.g. topping up a product that is not fuel.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}

type fieldErrors []FieldError

func (f *fieldErrors) add(field string, message string) {
	*f = append(*f, FieldError{Field: field, Message: message})
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

// CapacityExceededError rejects a fuel top-up that would overfill the tank.
type CapacityExceededError struct {
	Capacity  decimal.Decimal
	Current   decimal.Decimal
	Remaining decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("fuel stock would exceed the %s L capacity; %s L remaining",
		e.Capacity.StringFixed(0), e.Remaining.StringFixed(2))
}

func (e *CapacityExceededError) Unwrap() error {
	return store.ErrCapacityExceeded
}
