// Package errors provides structured error types for the metadata service.
// All errors include a category, code, message, and the offending path so
// callers can react to specific failure kinds across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryMetadata ErrorCategory = "METADATA"
	ErrCategoryOplog    ErrorCategory = "OPLOG"
	ErrCategoryCatalog  ErrorCategory = "CATALOG"
	ErrCategorySnapshot ErrorCategory = "SNAPSHOT"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Metadata codes
	CodeIllegalPath            = "ILLEGAL_PATH"
	CodePathNotExists          = "PATH_NOT_EXISTS"
	CodePathAlreadyExists      = "PATH_ALREADY_EXISTS"
	CodeStorageGroupAlreadySet = "STORAGE_GROUP_ALREADY_SET"
	CodeStorageGroupNotSet     = "STORAGE_GROUP_NOT_SET"

	// Oplog codes
	CodeLogAppendFailed = "LOG_APPEND_FAILED"
	CodeLogReplayFailed = "LOG_REPLAY_FAILED"

	// Catalog codes
	CodeCatalogWriteFailed = "CATALOG_WRITE_FAILED"

	// Snapshot codes
	CodeSnapshotFailed = "SNAPSHOT_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MetaError is the structured error type used throughout the system.
type MetaError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Path     string
	Cause    error
}

// Error returns a formatted error string.
func (e *MetaError) Error() string {
	switch {
	case e.Path != "" && e.Cause != nil:
		return fmt.Sprintf("[%s:%s] %s (path=%s): %v", e.Category, e.Code, e.Message, e.Path, e.Cause)
	case e.Path != "":
		return fmt.Sprintf("[%s:%s] %s (path=%s)", e.Category, e.Code, e.Message, e.Path)
	case e.Cause != nil:
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MetaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MetaError) Is(target error) bool {
	var t *MetaError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MetaError.
func New(category ErrorCategory, code, message string) *MetaError {
	return &MetaError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new MetaError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MetaError {
	return &MetaError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MetaError.
func GetCategory(err error) ErrorCategory {
	var me *MetaError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MetaError.
func GetCode(err error) string {
	var me *MetaError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// Convenience constructors for the metadata error taxonomy. Every metadata
// failure is synchronous and caller-recoverable; none is retried internally.

// NewIllegalPath reports a malformed path: wrong or missing root segment,
// empty segments, or too few segments for the operation.
func NewIllegalPath(path string) *MetaError {
	return &MetaError{
		Category: ErrCategoryMetadata,
		Code:     CodeIllegalPath,
		Message:  "illegal path",
		Path:     path,
	}
}

// NewPathNotExists reports a missing segment during a walk.
func NewPathNotExists(path string) *MetaError {
	return &MetaError{
		Category: ErrCategoryMetadata,
		Code:     CodePathNotExists,
		Message:  "path does not exist",
		Path:     path,
	}
}

// NewPathAlreadyExists reports a creation attempt where a conflicting node
// already occupies the position, or an attempt to extend past a leaf.
func NewPathAlreadyExists(path string) *MetaError {
	return &MetaError{
		Category: ErrCategoryMetadata,
		Code:     CodePathAlreadyExists,
		Message:  "path already exists",
		Path:     path,
	}
}

// NewStorageGroupAlreadySet reports a storage-group declaration at, under,
// or above an existing storage group.
func NewStorageGroupAlreadySet(path string) *MetaError {
	return &MetaError{
		Category: ErrCategoryMetadata,
		Code:     CodeStorageGroupAlreadySet,
		Message:  "storage group already set",
		Path:     path,
	}
}

// NewStorageGroupNotSet reports a resolution that required a storage-group
// ancestor that is absent.
func NewStorageGroupNotSet(path string) *MetaError {
	return &MetaError{
		Category: ErrCategoryMetadata,
		Code:     CodeStorageGroupNotSet,
		Message:  "storage group not set",
		Path:     path,
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *MetaError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
