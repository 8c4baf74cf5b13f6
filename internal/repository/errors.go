package repository

import (
	"fmt"
)

// NotFoundError represents when a key is not present in the store
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key %s not found", e.Key)
}

func NewNotFoundError(key string) *NotFoundError {
	return &NotFoundError{
		Key: key,
	}
}

// AlreadyExistsError represents a create against an existing key
type AlreadyExistsError struct {
	Key string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("key %s already exists", e.Key)
}

func NewAlreadyExistsError(key string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Key: key,
	}
}

// ConflictError represents a write whose expected revision no longer matches the stored one
type ConflictError struct {
	Key      string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("key %s is at revision %d, expected %d", e.Key, e.Actual, e.Expected)
}

func NewConflictError(key string, expected, actual int64) *ConflictError {
	return &ConflictError{
		Key:      key,
		Expected: expected,
		Actual:   actual,
	}
}

// CompactedError represents a watch that cannot resume because its revision was compacted
type CompactedError struct {
	Revision        int64
	CompactRevision int64
}

func (e *CompactedError) Error() string {
	return fmt.Sprintf("revision %d has been compacted, oldest available revision is %d", e.Revision, e.CompactRevision)
}

func NewCompactedError(revision, compactRevision int64) *CompactedError {
	return &CompactedError{
		Revision:        revision,
		CompactRevision: compactRevision,
	}
}
