package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR worker
 *
 * Lower layers return ProcessingError values (usually wrapped with %w).
 * Only the dispatcher turns them into the wire-safe string sent with a reject.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline errors
	ErrorEngineInit     ErrorCode = "ENGINE_INIT_FAILED"
	ErrorLanguageLoad   ErrorCode = "LANGUAGE_LOAD_FAILED"
	ErrorDetectFailed   ErrorCode = "DETECT_FAILED"
	ErrorOCRFailed      ErrorCode = "OCR_FAILED"
	ErrorExportFailed   ErrorCode = "EXPORT_FAILED"
	ErrorProcessTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Input errors
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorImageDecode       ErrorCode = "IMAGE_DECODE_FAILED"
	ErrorInvalidJob        ErrorCode = "INVALID_JOB"
	ErrorUnknownAction     ErrorCode = "UNKNOWN_ACTION"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// DetectFailedMessage is the reject reason for an orientation/script detection
// call that reports failure.
const DetectFailedMessage = "Failed to detect OS"

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewEngineInitError(corePath string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineInit,
		Message:   "Failed to initialize OCR engine",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"core_path": corePath,
		},
		Cause: cause,
	}
}

func NewLanguageLoadError(lang string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorLanguageLoad,
		Message:   fmt.Sprintf("Failed to load language data: %s", lang),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"lang": lang,
		},
		Cause: cause,
	}
}

func NewDetectFailedError(jobID string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDetectFailed,
		Message:   DetectFailedMessage,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewOCRFailedError(jobID string, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed at stage: %s", stage),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Cause: cause,
	}
}

func NewExportFailedError(jobID string, format string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorExportFailed,
		Message:   fmt.Sprintf("Failed to export %s", format),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"format": format,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(format string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported image format: %s", format),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"format": format,
		},
	}
}

func NewImageDecodeError(format string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageDecode,
		Message:   fmt.Sprintf("Failed to decode %s image", format),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"format": format,
		},
		Cause: cause,
	}
}

func NewInvalidJobError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidJob,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewUnknownActionError(jobID string, action string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnknownAction,
		Message:   fmt.Sprintf("unknown action: %s", action),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"action": action,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store job state",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithJob stamps the job ID onto the first ProcessingError in err's chain.
func WithJob(err error, jobID string) error {
	var pe *ProcessingError
	if stderrors.As(err, &pe) && pe.JobID == "" {
		pe.JobID = jobID
	}
	return err
}

// IsCode reports whether any ProcessingError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	for err != nil {
		if !stderrors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}

// Describe renders err as a plain string for the reject event. Job channels
// don't carry rich error values, only text.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		if pe.Cause != nil {
			return fmt.Sprintf("%s: %v", pe.Message, pe.Cause)
		}
		return pe.Message
	}
	return err.Error()
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
