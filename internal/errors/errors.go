// Package errors provides structured error types for the clickstream ETL.
// Every error carries a category, code, message and retryable flag; the
// category decides whether a failure drops one record or aborts the run.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by scope.
type ErrorCategory string

const (
	// Record-scoped: the offending record is dropped and the run continues.
	ErrCategoryRecord       ErrorCategory = "RECORD"
	ErrCategoryCorruptInput ErrorCategory = "CORRUPT_INPUT"

	// Run-scoped: the run aborts before any output is written.
	ErrCategoryConfiguration ErrorCategory = "CONFIGURATION"
	ErrCategorySchema        ErrorCategory = "SCHEMA"

	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryManifest ErrorCategory = "MANIFEST"
	ErrCategoryMerge    ErrorCategory = "MERGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Record codes
	CodeParseError       = "PARSE_ERROR"
	CodeInvalidAttribute = "INVALID_ATTRIBUTE"
	CodeInvalidAppID     = "INVALID_APP_ID"
	CodeMissingField     = "MISSING_FIELD"
	CodeStagePanic       = "STAGE_PANIC"

	// Corrupt input codes
	CodeCorruptRecord = "CORRUPT_RECORD"

	// Configuration codes
	CodeUnknownStage    = "UNKNOWN_STAGE"
	CodeInvalidWindow   = "INVALID_WINDOW"
	CodeMissingSource   = "MISSING_SOURCE"
	CodeInvalidSetting  = "INVALID_SETTING"
	CodeStageInitFailed = "STAGE_INIT_FAILED"

	// Schema codes
	CodeSchemaViolation = "SCHEMA_VIOLATION"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeListFailed     = "LIST_FAILED"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Manifest codes
	CodeWriteConflict = "WRITE_CONFLICT"
	CodeLedgerFailed  = "LEDGER_FAILED"

	// Merge codes
	CodeStagedReadFailed = "STAGED_READ_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ETLError is the structured error type used throughout the system.
type ETLError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ETLError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ETLError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ETLError) Is(target error) bool {
	var t *ETLError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ETLError.
func New(category ErrorCategory, code, message string) *ETLError {
	return &ETLError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ETLError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ETLError {
	return &ETLError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ETLError) WithDetails(details map[string]interface{}) *ETLError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ee *ETLError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// IsRecordScoped reports whether err only invalidates the record it was
// raised for. Errors outside this package are treated as record-scoped when
// they come back from per-record stage logic.
func IsRecordScoped(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryRecord, ErrCategoryCorruptInput, "":
		return true
	default:
		return false
	}
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	return err != nil && !IsRecordScoped(err)
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an ETLError.
func GetCategory(err error) ErrorCategory {
	var ee *ETLError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an ETLError.
func GetCode(err error) string {
	var ee *ETLError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeListFailed:
		return true
	case category == ErrCategoryManifest && code == CodeWriteConflict:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewRecordError(code, message string, cause error) *ETLError {
	return Wrap(ErrCategoryRecord, code, message, cause)
}

func NewCorruptInputError(message string) *ETLError {
	return New(ErrCategoryCorruptInput, CodeCorruptRecord, message)
}

func NewConfigError(code, message string) *ETLError {
	return New(ErrCategoryConfiguration, code, message)
}

func NewSchemaError(message string, cause error) *ETLError {
	return Wrap(ErrCategorySchema, CodeSchemaViolation, message, cause)
}

func NewStorageError(code, message string, cause error) *ETLError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(code, message string, cause error) *ETLError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewMergeError(code, message string, cause error) *ETLError {
	return Wrap(ErrCategoryMerge, code, message, cause)
}

func NewInternalError(message string, cause error) *ETLError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
