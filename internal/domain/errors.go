package domain

import (
	"errors"
	"fmt"
)

type ErrCode string

const (
	CodeValidation  ErrCode = "validation_error"
	CodeNotFound    ErrCode = "not_found"
	CodeUnavailable ErrCode = "unavailable"
)

type AppError struct {
	Code    ErrCode
	Message string
	Meta    map[string]string
}

func (e *AppError) Error() string {
	if len(e.Meta) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Meta)
}

func ErrValidation(msg string) error { return &AppError{Code: CodeValidation, Message: msg} }
func ErrValidationMeta(msg string, meta map[string]string) error {
	return &AppError{Code: CodeValidation, Message: msg, Meta: meta}
}
func ErrNotFound(msg string) error    { return &AppError{Code: CodeNotFound, Message: msg} }
func ErrUnavailable(msg string) error { return &AppError{Code: CodeUnavailable, Message: msg} }

// IsCode reports whether err (or anything it wraps) is an AppError with the given code.
func IsCode(err error, code ErrCode) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}

var (
	// ErrMalformedEntry marks a fast-tier member that cannot be decoded into a record.
	ErrMalformedEntry = errors.New("malformed history entry")

	// ErrStoreUnavailable marks a backing-store call that failed or timed out.
	ErrStoreUnavailable = errors.New("history store unavailable")
)
