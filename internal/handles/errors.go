package handles

import "errors"

var (
	// ErrHandleNotFound means no record exists for the id. The caller has to
	// obtain a fresh selection.
	ErrHandleNotFound = errors.New("handle not found")

	// ErrHandleStale means the record resolved but its file no longer reads.
	// The record has been deleted.
	ErrHandleStale = errors.New("handle is stale")

	// ErrPermissionDenied means read access was refused.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPermissionPending means access needs an interactive confirmation.
	ErrPermissionPending = errors.New("permission requires user confirmation")
)

// IsPermissionError reports whether err is a denied or pending permission.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrPermissionPending)
}
