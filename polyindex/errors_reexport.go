package polyindex

import perrors "github.com/polyindex/polyindex/polyindex/errors"

type Error = perrors.Error
type ErrorCode = perrors.ErrorCode

const (
	ErrSchema         = perrors.ErrSchema
	ErrSchemaConflict = perrors.ErrSchemaConflict
	ErrStrictMapping  = perrors.ErrStrictMapping
	ErrBulkMismatch   = perrors.ErrBulkMismatch
	ErrConversion     = perrors.ErrConversion
	ErrNotFound       = perrors.ErrNotFound
	ErrIndexExists    = perrors.ErrIndexExists
	ErrIndexClosed    = perrors.ErrIndexClosed
	ErrRegistry       = perrors.ErrRegistry
	ErrAlias          = perrors.ErrAlias
	ErrStorage        = perrors.ErrStorage
	ErrEngine         = perrors.ErrEngine
	ErrConfig         = perrors.ErrConfig
)

func NewError(code ErrorCode, msg string) *Error          { return perrors.NewError(code, msg) }
func Wrap(code ErrorCode, msg string, cause error) *Error { return perrors.Wrap(code, msg, cause) }
func IsCode(err error, code ErrorCode) bool               { return perrors.IsCode(err, code) }
