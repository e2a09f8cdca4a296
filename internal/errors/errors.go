package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the segmentation worker
 *
 * Each error carries an ErrorCode so callers (queue, storage) can record a
 * structured failure without parsing messages.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"

	// Segmentation errors
	ErrorInput         ErrorCode = "INPUT_ERROR"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrorRenderFailed  ErrorCode = "RENDER_FAILED"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
)

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

// WithJobID returns the error tagged with a job ID.
func (e *ProcessingError) WithJobID(jobID string) *ProcessingError {
	e.JobID = jobID
	return e
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewOCRFailedError(page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed on page %d", page),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

// NewInputError reports that the raster or glyph stream of a page could not
// be obtained. stage is "render" or "extract".
func NewInputError(page int, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInput,
		Message:   fmt.Sprintf("page %d: %s failed", page, stage),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page":  page,
			"stage": stage,
		},
		Cause: cause,
	}
}

// NewRenderError reports a rasterization failure for one page.
func NewRenderError(page int, reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRenderFailed,
		Message:   fmt.Sprintf("cannot render page %d: %s", page, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page": page,
		},
		Cause: cause,
	}
}

// NewConfigurationError reports a threshold parameter outside its valid range.
func NewConfigurationError(param string, value interface{}, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfiguration,
		Message:   fmt.Sprintf("invalid %s=%v: %s", param, value, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"parameter": param,
			"value":     value,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store segmentation results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// IsCode reports whether any error in err's chain is a ProcessingError with code.
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

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// NewDownloadError reports that a file URL could not be fetched after retries.
func NewDownloadError(jobID string, attempts int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNetworkTimeout,
		Message:   fmt.Sprintf("Download failed after %d attempts", attempts),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewDatabaseFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDatabaseFailed,
		Message:   "Database write failed",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}
