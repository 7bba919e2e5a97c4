package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class of the classification pipeline.
type Kind string

const (
	KindModelLoad     Kind = "model_load"
	KindDecode        Kind = "decode"
	KindShapeMismatch Kind = "shape_mismatch"
	KindInference     Kind = "inference"
	KindValidation    Kind = "validation"
	KindInternal      Kind = "internal"
)

// AppError is a categorized application error carrying its HTTP status.
type AppError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any *AppError of the same kind, so callers can compare
// against the sentinel values below with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrModelLoad     = &AppError{Kind: KindModelLoad}
	ErrDecode        = &AppError{Kind: KindDecode}
	ErrShapeMismatch = &AppError{Kind: KindShapeMismatch}
	ErrInference     = &AppError{Kind: KindInference}
	ErrValidation    = &AppError{Kind: KindValidation}
)

// NewModelLoadError reports a model artifact that could not be opened.
// It is fatal at startup.
func NewModelLoadError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindModelLoad,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// NewDecodeError reports bytes that are not a supported image.
func NewDecodeError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindDecode,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewShapeMismatchError reports a tensor that does not fit the model input.
func NewShapeMismatchError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindShapeMismatch,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewInferenceError reports a failed forward pass.
func NewInferenceError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindInference,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// StatusCode extracts the HTTP status code from an error.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Internal reports whether the kind is an invariant or server-side failure
// rather than something the caller can fix.
func (k Kind) Internal() bool {
	switch k {
	case KindModelLoad, KindShapeMismatch, KindInference, KindInternal:
		return true
	}
	return false
}
