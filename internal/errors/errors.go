package errors

import (
	"fmt"

	"github.com/tsamsiyu/themelio/pkg/problem"
)

// InvalidInputError represents a request that cannot be processed as sent
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}

func (e *InvalidInputError) Problem() *problem.Problem {
	return problem.New(problem.InvalidRequest, e.Message)
}

func NewInvalidInputError(message string) *InvalidInputError {
	return &InvalidInputError{
		Message: message,
	}
}

func NewInvalidInputErrorf(format string, args ...any) *InvalidInputError {
	return NewInvalidInputError(fmt.Sprintf(format, args...))
}

// MarshalingError represents when marshaling or unmarshaling operations fail
type MarshalingError struct {
	Message string
}

func (e *MarshalingError) Error() string {
	return e.Message
}

func NewMarshalingError(message string) *MarshalingError {
	return &MarshalingError{
		Message: message,
	}
}
