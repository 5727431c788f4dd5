// Package errors provides standardized error handling for the APNs codec and
// its BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Codec errors: caller content or usage problems, never retried.
const (
	ErrCodePayloadTooLarge         ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeInvalidPayload          ErrorCode = "INVALID_PAYLOAD"
	ErrCodeMalformedFeedbackStream ErrorCode = "MALFORMED_FEEDBACK_STREAM"
	ErrCodeInvalidFrameInput       ErrorCode = "INVALID_FRAME_INPUT"
	ErrCodeInvalidDeviceToken      ErrorCode = "INVALID_DEVICE_TOKEN"
	ErrCodeInvalidJobInput         ErrorCode = "INVALID_JOB_INPUT"
)

// Transport and storage errors: transient, retried by the workflow engine.
const (
	ErrCodeGatewayWriteFailed ErrorCode = "GATEWAY_WRITE_FAILED"
	ErrCodeFeedbackReadFailed ErrorCode = "FEEDBACK_READ_FAILED"
	ErrCodeTokenStoreFailed   ErrorCode = "TOKEN_STORE_FAILED"
	ErrCodeEventPublishFailed ErrorCode = "EVENT_PUBLISH_FAILED"
)

// KnownCodes lists every code a worker can report.
var KnownCodes = []ErrorCode{
	ErrCodePayloadTooLarge,
	ErrCodeInvalidPayload,
	ErrCodeMalformedFeedbackStream,
	ErrCodeInvalidFrameInput,
	ErrCodeInvalidDeviceToken,
	ErrCodeInvalidJobInput,
	ErrCodeGatewayWriteFailed,
	ErrCodeFeedbackReadFailed,
	ErrCodeTokenStoreFailed,
	ErrCodeEventPublishFailed,
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying transport or driver error, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a StandardError carrying the same code, so
// that errors.Is(err, ErrPayloadTooLarge) matches any payload size failure.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrPayloadTooLarge         = &StandardError{Code: ErrCodePayloadTooLarge}
	ErrInvalidPayload          = &StandardError{Code: ErrCodeInvalidPayload}
	ErrMalformedFeedbackStream = &StandardError{Code: ErrCodeMalformedFeedbackStream}
	ErrInvalidFrameInput       = &StandardError{Code: ErrCodeInvalidFrameInput}
	ErrInvalidDeviceToken      = &StandardError{Code: ErrCodeInvalidDeviceToken}
	ErrInvalidJobInput         = &StandardError{Code: ErrCodeInvalidJobInput}
	ErrGatewayWriteFailed      = &StandardError{Code: ErrCodeGatewayWriteFailed}
	ErrFeedbackReadFailed      = &StandardError{Code: ErrCodeFeedbackReadFailed}
	ErrTokenStoreFailed        = &StandardError{Code: ErrCodeTokenStoreFailed}
	ErrEventPublishFailed      = &StandardError{Code: ErrCodeEventPublishFailed}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewPayloadTooLargeError reports a serialized payload over its byte budget.
func NewPayloadTooLargeError(length, limit int) *StandardError {
	return &StandardError{
		Code:      ErrCodePayloadTooLarge,
		Message:   "Payload exceeds maximum length",
		Details:   fmt.Sprintf("length: %d, limit: %d", length, limit),
		Retryable: false,
		Metadata: map[string]interface{}{
			"length": length,
			"limit":  limit,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidPayloadError reports payload content that cannot be serialized.
func NewInvalidPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPayload,
		Message:   "Invalid payload content",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedFeedbackStreamError reports a feedback stream that ended inside a record.
func NewMalformedFeedbackStreamError(buffered int) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedFeedbackStream,
		Message:   "Feedback stream ended with a partial record",
		Details:   fmt.Sprintf("buffered bytes: %d", buffered),
		Retryable: false,
		Metadata:  map[string]interface{}{"buffered": buffered},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidFrameInputError reports a frame field over the 16-bit length capacity.
func NewInvalidFrameInputError(field string, size int) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidFrameInput,
		Message:   "Frame field exceeds 16-bit length",
		Details:   fmt.Sprintf("field: %s, size: %d", field, size),
		Retryable: false,
		Metadata: map[string]interface{}{
			"field": field,
			"size":  size,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidDeviceTokenError reports a device token that is not even-length hex.
func NewInvalidDeviceTokenError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidDeviceToken,
		Message:   "Invalid device token",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidJobInputError reports job variables that fail parsing or schema validation.
func NewInvalidJobInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJobInput,
		Message:   "Job input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayWriteFailedError creates a retryable gateway transport error.
func NewGatewayWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayWriteFailed,
		Message:   "Failed to write frame to gateway",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewFeedbackReadFailedError creates a retryable feedback transport error.
func NewFeedbackReadFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeFeedbackReadFailed,
		Message:   "Failed to read feedback stream",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTokenStoreFailedError creates a retryable token store error.
func NewTokenStoreFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTokenStoreFailed,
		Message:   "Token store operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewEventPublishFailedError creates a retryable event publishing error.
func NewEventPublishFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventPublishFailed,
		Message:   "Failed to publish token event",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "TIMEOUT_ERROR",
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Retry and BPMN mapping
// ==========================

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeGatewayWriteFailed,
		ErrCodeFeedbackReadFailed,
		ErrCodeTokenStoreFailed,
		ErrCodeEventPublishFailed:
		return 3

	case "TIMEOUT_ERROR", "EXTERNAL_SERVICE_ERROR":
		return 2

	default:
		return 0 // codec and input errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "PAYLOAD"):
		return "PAYLOAD"
	case strings.Contains(codeStr, "FEEDBACK"):
		return "FEEDBACK"
	case strings.Contains(codeStr, "FRAME") || strings.Contains(codeStr, "GATEWAY"):
		return "GATEWAY"
	case strings.Contains(codeStr, "TOKEN"):
		return "TOKEN"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
