//go:build unix

package localfs

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// canRead asks the kernel whether the real user may read path. Directories
// also need search permission. A missing path returns an error wrapping
// fs.ErrNotExist.
func canRead(path string, dir bool) (bool, error) {
	mode := uint32(unix.R_OK)
	if dir {
		mode |= unix.X_OK
	}
	err := unix.Access(path, mode)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return false, nil
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENOTDIR):
		return false, fmt.Errorf("%w: %s", fs.ErrNotExist, path)
	default:
		return false, err
	}
}
