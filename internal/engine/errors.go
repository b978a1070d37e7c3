package engine

import (
	"errors"

	"github.com/rescale/upsess/internal/chunk"
	"github.com/rescale/upsess/internal/collect"
	"github.com/rescale/upsess/internal/coop"
	"github.com/rescale/upsess/internal/digest"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/session"
)

// Error codes reported to callers that cannot inspect Go errors.
const (
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeHandleNotFound       = "HANDLE_NOT_FOUND"
	CodeHandleStale          = "HANDLE_STALE"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodePermissionPending    = "PERMISSION_PENDING"
	CodeUnsupportedAlgorithm = "UNSUPPORTED_ALGORITHM"
	CodeCanceled             = "CANCELED"
	CodeInvalidRange         = "INVALID_RANGE"
	CodeBatchNotFound        = "BATCH_NOT_FOUND"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{session.ErrSessionNotFound, CodeSessionNotFound},
	{handles.ErrHandleNotFound, CodeHandleNotFound},
	{handles.ErrHandleStale, CodeHandleStale},
	{handles.ErrPermissionDenied, CodePermissionDenied},
	{handles.ErrPermissionPending, CodePermissionPending},
	{digest.ErrUnsupportedAlgorithm, CodeUnsupportedAlgorithm},
	{coop.ErrCanceled, CodeCanceled},
	{chunk.ErrInvalidRange, CodeInvalidRange},
	{collect.ErrBatchNotFound, CodeBatchNotFound},
}

// ErrorCode maps err to its code, or "" for errors without one.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
