package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorCode string

const (
	ErrSchema         ErrorCode = "schema"
	ErrSchemaConflict ErrorCode = "schema_conflict"
	ErrStrictMapping  ErrorCode = "strict_mapping"
	ErrBulkMismatch   ErrorCode = "bulk_mismatch"
	ErrConversion     ErrorCode = "conversion"
	ErrNotFound       ErrorCode = "not_found"
	ErrIndexExists    ErrorCode = "index_exists"
	ErrIndexClosed    ErrorCode = "index_closed"
	ErrRegistry       ErrorCode = "registry"
	ErrAlias          ErrorCode = "alias"
	ErrStorage        ErrorCode = "storage"
	ErrEngine         ErrorCode = "engine"
	ErrConfig         ErrorCode = "config"
)

type Error struct {
	Code  ErrorCode
	Msg   string
	Field string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := fmt.Sprintf("%s: %s", e.Code, e.Msg)
	if e.Field != "" {
		base = fmt.Sprintf("%s (field=%s)", base, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code ErrorCode, msg string) *Error { return &Error{Code: code, Msg: msg} }
func Wrap(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

func SchemaError(msg string) *Error { return &Error{Code: ErrSchema, Msg: msg} }

func ConversionError(field, msg string) *Error {
	return &Error{Code: ErrConversion, Field: field, Msg: msg}
}

func NotFoundError(what string) *Error {
	return &Error{Code: ErrNotFound, Msg: fmt.Sprintf("not found: %s", what)}
}

// IsCode reports whether any error in err's chain is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
