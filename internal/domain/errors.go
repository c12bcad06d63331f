package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBatchNotFound       = errors.New("settlement batch not found")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrDuplicateBatch      = errors.New("settlement batch already exists for date")
	ErrNoPayments          = errors.New("no eligible payments for settlement date")
	ErrMaxAttemptsExceeded = errors.New("payout has reached the maximum number of attempts")
	ErrAlreadyCompleted    = errors.New("payout is already completed")
	ErrInvalidState        = errors.New("invalid state for operation")
	ErrProviderTimeout     = errors.New("payment provider timed out")
	ErrProviderRejected    = errors.New("payment provider rejected the payout")
	ErrDispatchInProgress  = errors.New("payout dispatch already in progress")
)

// FieldError describes one missing or invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Add records a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field problems were recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InvalidStateError reports an operation attempted against an entity in the wrong status.
type InvalidStateError struct {
	Entity    string
	Operation string
	Status    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Operation, e.Entity, e.Status)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
