package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a qrform error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrInvalidTemplate     ErrorCode = "INVALID_TEMPLATE"     // 400
	ErrInvalidAnswers      ErrorCode = "INVALID_ANSWERS"      // 400
	ErrValidationFailed    ErrorCode = "VALIDATION_FAILED"    // 422
	ErrConditionalCycle    ErrorCode = "CONDITIONAL_CYCLE"    // 422
	ErrPayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"    // 413
	ErrTemplateUnavailable ErrorCode = "TEMPLATE_UNAVAILABLE" // 502
	ErrKeyUnavailable      ErrorCode = "KEY_UNAVAILABLE"      // 502
	ErrTimeout             ErrorCode = "TIMEOUT"              // 504
	ErrTranscodeFailed     ErrorCode = "TRANSCODE_FAILED"     // 500
	ErrCompressFailed      ErrorCode = "COMPRESS_FAILED"      // 500
	ErrEncryptFailed       ErrorCode = "ENCRYPT_FAILED"       // 500
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// QRError represents a structured error with code, status, and details.
type QRError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *QRError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the low-level cause, if any.
func (e *QRError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *QRError {
	return &QRError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidTemplate creates a 400 error for a structurally invalid template.
func NewInvalidTemplate(msg string) *QRError {
	return &QRError{
		Code:    ErrInvalidTemplate,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidAnswers creates a 400 error for an answer document that cannot be decoded.
func NewInvalidAnswers(msg string) *QRError {
	return &QRError{
		Code:    ErrInvalidAnswers,
		Status:  400,
		Message: msg,
	}
}

// NewValidationFailed creates a 422 error listing the questions that failed validation.
func NewValidationFailed(fields map[string]string) *QRError {
	return &QRError{
		Code:    ErrValidationFailed,
		Status:  422,
		Message: fmt.Sprintf("%d question(s) failed validation", len(fields)),
		Details: map[string]any{"fields": fields},
	}
}

// NewConditionalCycle creates a 422 error when conditional visibility does not settle.
func NewConditionalCycle(passes int) *QRError {
	return &QRError{
		Code:    ErrConditionalCycle,
		Status:  422,
		Message: fmt.Sprintf("conditional questions did not settle after %d passes", passes),
		Details: map[string]any{"passes": passes},
	}
}

// NewPayloadTooLarge creates a 413 error when the encoded payload exceeds the template limit.
func NewPayloadTooLarge(max, actual int) *QRError {
	return &QRError{
		Code:    ErrPayloadTooLarge,
		Status:  413,
		Message: fmt.Sprintf("payload exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewTemplateUnavailable creates a 502 error when a template cannot be fetched.
func NewTemplateUnavailable(department string, err error) *QRError {
	return &QRError{
		Code:    ErrTemplateUnavailable,
		Status:  502,
		Message: fmt.Sprintf("failed to fetch template for department %s", department),
		Details: map[string]any{"department_id": department},
		cause:   err,
	}
}

// NewKeyUnavailable creates a 502 error when the public key cannot be fetched.
func NewKeyUnavailable(err error) *QRError {
	return &QRError{
		Code:    ErrKeyUnavailable,
		Status:  502,
		Message: "failed to fetch public key",
		cause:   err,
	}
}

// NewTimeout creates a 504 error for a request that exceeded its deadline.
func NewTimeout(what string) *QRError {
	return &QRError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("%s request timed out", what),
		Details: map[string]any{"request": what},
	}
}

// NewTranscodeFailed creates a 500 error when text cannot be represented in Shift-JIS.
func NewTranscodeFailed(err error) *QRError {
	return &QRError{
		Code:    ErrTranscodeFailed,
		Status:  500,
		Message: causeMessage("transcoding failed", err),
		cause:   err,
	}
}

// NewCompressFailed creates a 500 error for a compression failure.
func NewCompressFailed(err error) *QRError {
	return &QRError{
		Code:    ErrCompressFailed,
		Status:  500,
		Message: causeMessage("compression failed", err),
		cause:   err,
	}
}

// NewEncryptFailed creates a 500 error for a failed encryption attempt.
func NewEncryptFailed(err error) *QRError {
	return &QRError{
		Code:    ErrEncryptFailed,
		Status:  500,
		Message: causeMessage("encryption failed", err),
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *QRError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &QRError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) a QRError with the given code.
func Is(err error, code ErrorCode) bool {
	var qErr *QRError
	if errors.As(err, &qErr) {
		return qErr.Code == code
	}
	return false
}

// CodeOf returns the code of a QRError, or ErrInternal for any other non-nil error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var qErr *QRError
	if errors.As(err, &qErr) {
		return qErr.Code
	}
	return ErrInternal
}

// As converts any error into a QRError, wrapping unknown errors as internal.
func As(err error) *QRError {
	if err == nil {
		return nil
	}
	var qErr *QRError
	if errors.As(err, &qErr) {
		return qErr
	}
	return NewInternal(err)
}

func causeMessage(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return prefix + ": " + err.Error()
}
