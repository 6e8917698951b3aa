package backup

import (
	stderrors "errors"

	"lims-backup/internal/errors"
)

// NewStorageError reports a failure reading or writing an artifact, locally or remotely.
func NewStorageError(message string, cause error) *errors.AppError {
	return errors.NewIOError(message, cause).WithContext("component", "storage")
}

// NewCompressionError reports a failure compressing or decompressing an artifact.
func NewCompressionError(message string, cause error) *errors.AppError {
	return errors.NewIOError(message, cause).WithContext("component", "compression")
}

// NewLockError reports that the backup directory is held by another operation.
func NewLockError(message string, cause error) *errors.AppError {
	return errors.NewValidationError(message, cause).WithContext("component", "lock")
}

// IsLockError reports whether err came from a failed lock acquisition.
func IsLockError(err error) bool {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Context["component"] == "lock"
}
