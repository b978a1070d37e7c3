package localfs

import (
	"context"

	"github.com/rescale/upsess/internal/fsref"
)

// Prompter asks the user to confirm read access to a handle.
type Prompter interface {
	Confirm(ctx context.Context, d fsref.Descriptor) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, d fsref.Descriptor) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, d fsref.Descriptor) (bool, error) {
	return f(ctx, d)
}

var (
	// AllowAll confirms every request. Used by --yes.
	AllowAll Prompter = PrompterFunc(func(context.Context, fsref.Descriptor) (bool, error) { return true, nil })

	// DenyAll refuses every request.
	DenyAll Prompter = PrompterFunc(func(context.Context, fsref.Descriptor) (bool, error) { return false, nil })
)
