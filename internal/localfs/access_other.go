//go:build !unix

package localfs

import (
	"errors"
	"io/fs"
	"os"
)

func canRead(path string, dir bool) (bool, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		f.Close()
		return true, nil
	case errors.Is(err, fs.ErrPermission):
		return false, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, err
	default:
		return false, err
	}
}
