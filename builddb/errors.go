package builddb

import (
	"errors"
	"fmt"

	"go-repack/pkg"
)

// ==================== Sentinel Errors ====================
// These are simple error constants that can be checked with errors.Is()

var (
	// ErrDatabaseNotOpen is returned when attempting operations on a closed database
	ErrDatabaseNotOpen = fmt.Errorf("database not open")

	// ErrEmptyUUID is returned when a run ID parameter is empty or missing
	ErrEmptyUUID = fmt.Errorf("UUID cannot be empty")

	// ErrEmptyKey is returned when a package key has no identifier
	ErrEmptyKey = fmt.Errorf("package identifier cannot be empty")

	// ErrEmptyPath is returned when an artifact has no archive path
	ErrEmptyPath = fmt.Errorf("archive path cannot be empty")

	// ErrRecordNotFound is returned when a record doesn't exist in the database
	ErrRecordNotFound = fmt.Errorf("record not found")

	// ErrBucketNotFound is returned when a required database bucket doesn't exist
	ErrBucketNotFound = fmt.Errorf("database bucket not found")

	// ErrCorruptedData is returned when database data cannot be parsed or is invalid
	ErrCorruptedData = fmt.Errorf("corrupted database data")
)

// ==================== Structured Error Types ====================

// DatabaseError wraps database operation errors with context about the operation
// and bucket involved.
type DatabaseError struct {
	// Op is the operation that failed (e.g., "open", "create bucket", "persist batch")
	Op string

	// Bucket is the bucket name involved in the operation (empty if not applicable)
	Bucket string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.Bucket != "" {
		return fmt.Sprintf("database %s [bucket: %s]: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is() and errors.As() to work with wrapped errors
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// RecordError wraps run record operation errors with context about which
// run was involved and what operation failed.
type RecordError struct {
	// Op is the operation that failed (e.g., "get run", "update run")
	Op string

	// UUID is the run ID involved in the operation
	UUID string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface
func (e *RecordError) Error() string {
	return fmt.Sprintf("run record %s [uuid: %s]: %v", e.Op, e.UUID, e.Err)
}

// Unwrap allows errors.Is() and errors.As() to work with wrapped errors
func (e *RecordError) Unwrap() error {
	return e.Err
}

// PackageError wraps cached package errors with the package identity.
type PackageError struct {
	// Op is the operation that failed (e.g., "checksum", "get", "marshal")
	Op string

	// Key is the package identity
	Key pkg.Key

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface
func (e *PackageError) Error() string {
	return fmt.Sprintf("cached package %s [%s]: %v", e.Op, e.Key, e.Err)
}

// Unwrap allows errors.Is() and errors.As() to work with wrapped errors
func (e *PackageError) Unwrap() error {
	return e.Err
}

// CRCError wraps checksum errors with the archive path involved.
type CRCError struct {
	// Op is the operation that failed (e.g., "compute", "get")
	Op string

	// Path is the archive path or package key
	Path string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface
func (e *CRCError) Error() string {
	return fmt.Sprintf("CRC %s [%s]: %v", e.Op, e.Path, e.Err)
}

// Unwrap allows errors.Is() and errors.As() to work with wrapped errors
func (e *CRCError) Unwrap() error {
	return e.Err
}

// ValidationError wraps input validation errors with context about which
// field failed validation and what the invalid value was.
type ValidationError struct {
	// Field is the name of the field that failed validation
	Field string

	// Value is the invalid value
	Value string

	// Err is the underlying sentinel error (e.g., ErrEmptyUUID)
	Err error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation failed [%s=%s]: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("validation failed [%s]: %v", e.Field, e.Err)
}

// Unwrap allows errors.Is() and errors.As() to work with wrapped errors
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ==================== Error Inspection Helpers ====================

// IsValidationError checks if the error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDatabaseError checks if the error is a database operation error.
// This helps identify infrastructure-level failures.
func IsDatabaseError(err error) bool {
	var de *DatabaseError
	return errors.As(err, &de)
}

// IsRecordNotFound checks if the error indicates a record was not found.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsBucketNotFound checks if the error indicates a database bucket was not found.
// This typically indicates database corruption or initialization issues.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}
