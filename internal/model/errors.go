package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every tier. Callers match with errors.Is.
var (
	// ErrValidation marks malformed input to a write. Raised before any I/O.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an operation addressed to a missing id.
	ErrNotFound = errors.New("not found")

	// ErrStorage marks a failure of the durable backend.
	ErrStorage = errors.New("storage error")

	// ErrEmbedding marks a failed or malformed embedding.
	ErrEmbedding = errors.New("embedding error")
)

// Error wraps an error with the operation that produced it.
//
//	err := &Error{Op: "AddDocument", Err: ErrEmbedding}
//	// Error() returns: "treering: AddDocument: embedding error"
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("treering: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil when err is nil, otherwise an *Error for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Validationf formats a validation failure.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf formats a missing-id failure.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// StorageErr tags a backend failure, keeping the cause in the chain.
func StorageErr(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, what, err)
}

// EmbeddingErr tags an embedding failure, keeping the cause in the chain.
func EmbeddingErr(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrEmbedding, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrEmbedding, what, err)
}
