package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrReentrant     = errors.New("native engine is already running an operation")
	ErrHandleClosed  = errors.New("engine handle is closed")
	ErrNoNativeEntry = errors.New("package has no native index entry")
	ErrMissingField  = errors.New("required field missing")
)

// ParseError reports that the native index could not be parsed. No
// partial result accompanies it.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse package index: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ConversionError reports a native entry that could not be turned into a
// package.
type ConversionError struct {
	Identifier string // empty when the identifier itself is missing
	Field      string
	Err        error
}

func (e *ConversionError) Error() string {
	if e.Identifier == "" {
		return fmt.Sprintf("cannot convert package entry: field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("cannot convert package %s: field %s: %v", e.Identifier, e.Field, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// CatastrophicError reports a native call that failed as a whole, as
// opposed to per-item failures reported through ItemFinished.
type CatastrophicError struct {
	Op  string
	Err error
}

func (e *CatastrophicError) Error() string {
	return fmt.Sprintf("native %s failed: %v", e.Op, e.Err)
}

func (e *CatastrophicError) Unwrap() error {
	return e.Err
}

// IsCatastrophic reports whether err is a CatastrophicError
func IsCatastrophic(err error) bool {
	var cerr *CatastrophicError
	return errors.As(err, &cerr)
}

// IsParseError reports whether err is a ParseError
func IsParseError(err error) bool {
	var perr *ParseError
	return errors.As(err, &perr)
}

// IsConversionError reports whether err is a ConversionError
func IsConversionError(err error) bool {
	var cerr *ConversionError
	return errors.As(err, &cerr)
}
