package handles

import (
	"context"
	"fmt"

	"github.com/rescale/upsess/internal/fsref"
)

// negotiate advances the read permission of h from state. It returns the new
// state; an error is returned for anything but granted.
//
//	unknown -> query -> granted | prompt | denied
//	prompt  -> request (interactive only) -> granted | denied
//	denied  -> ErrPermissionDenied
//
// Store.ensure starts every call that is not already granted from unknown.
func negotiate(ctx context.Context, h fsref.Handle, state fsref.Permission, interactive bool) (fsref.Permission, error) {
	if state == fsref.PermissionUnknown {
		perm, err := h.QueryPermission(ctx)
		if err != nil {
			return fsref.PermissionUnknown, fmt.Errorf("failed to query permission for %s: %w", h.Descriptor(), err)
		}
		state = perm
	}

	if state == fsref.PermissionPrompt && interactive {
		perm, err := h.RequestPermission(ctx)
		if err != nil {
			return fsref.PermissionPrompt, fmt.Errorf("failed to request permission for %s: %w", h.Descriptor(), err)
		}
		state = perm
	}

	switch state {
	case fsref.PermissionGranted:
		return state, nil
	case fsref.PermissionDenied:
		return state, fmt.Errorf("%w: %s", ErrPermissionDenied, h.Descriptor())
	default:
		return fsref.PermissionPrompt, fmt.Errorf("%w: %s", ErrPermissionPending, h.Descriptor())
	}
}

// Negotiate runs the permission state machine once for a handle that is not
// in the store, starting from unknown. Directory selections use it before
// they are walked.
func Negotiate(ctx context.Context, h fsref.Handle, interactive bool) (fsref.Permission, error) {
	return negotiate(ctx, h, fsref.PermissionUnknown, interactive)
}
