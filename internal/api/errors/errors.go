package errors

import (
	"fmt"

	"github.com/tsamsiyu/themelio/pkg/problem"
)

// SerializationError represents a request that could not be read or bound
type SerializationError struct {
	Operation string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("request serialization failed: %s (caused by: %v)", e.Operation, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func (e *SerializationError) Problem() *problem.Problem {
	return problem.New(problem.InvalidRequest, e.Error())
}

func NewSerializationError(operation string, err error) *SerializationError {
	return &SerializationError{
		Operation: operation,
		Err:       err,
	}
}

// StreamError is raised once an SSE stream has started and no status can be sent anymore
type StreamError struct {
	EventType string
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("failed to send %s event: %v", e.EventType, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func NewStreamError(eventType string, err error) *StreamError {
	return &StreamError{
		EventType: eventType,
		Err:       err,
	}
}
