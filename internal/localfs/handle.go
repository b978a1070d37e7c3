package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rescale/upsess/internal/fsref"
)

type handle struct {
	platform *Platform
	path     string
	kind     fsref.Kind
	granted  atomic.Bool
}

func (h *handle) Kind() fsref.Kind { return h.kind }
func (h *handle) Name() string     { return filepath.Base(h.path) }

func (h *handle) Descriptor() fsref.Descriptor {
	return fsref.Descriptor{
		Scheme:   Scheme,
		Kind:     h.kind,
		Location: h.path,
		Name:     h.Name(),
	}
}

// QueryPermission reports denied when the OS refuses read access, granted
// once this handle has been confirmed, and prompt otherwise. A missing path
// is not a permission problem: it reports granted and File returns ErrGone,
// the same as the cloud platforms on 404.
func (h *handle) QueryPermission(ctx context.Context) (fsref.Permission, error) {
	readable, err := canRead(h.path, h.kind == fsref.KindDirectory)
	if errors.Is(err, fs.ErrNotExist) {
		return fsref.PermissionGranted, nil
	}
	if err != nil {
		return fsref.PermissionUnknown, err
	}
	if !readable {
		return fsref.PermissionDenied, nil
	}
	if h.granted.Load() {
		return fsref.PermissionGranted, nil
	}
	return fsref.PermissionPrompt, nil
}

func (h *handle) RequestPermission(ctx context.Context) (fsref.Permission, error) {
	perm, err := h.QueryPermission(ctx)
	if err != nil || perm != fsref.PermissionPrompt {
		return perm, err
	}

	ok, err := h.platform.opts.Prompter.Confirm(ctx, h.Descriptor())
	if err != nil {
		return fsref.PermissionUnknown, err
	}
	if !ok {
		return fsref.PermissionDenied, nil
	}
	h.granted.Store(true)
	return fsref.PermissionGranted, nil
}

func (h *handle) File(ctx context.Context) (fsref.File, error) {
	if h.kind != fsref.KindFile {
		return nil, fmt.Errorf("%w: %s", fsref.ErrNotFile, h.path)
	}
	info, err := os.Stat(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fsref.ErrGone, h.path)
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", fsref.ErrGone, h.path)
	}
	return &file{path: h.path, size: info.Size(), modTime: info.ModTime()}, nil
}

// file is a snapshot of size and mtime. Reads fail with ErrGone once the file
// on disk no longer matches.
type file struct {
	path    string
	size    int64
	modTime time.Time
}

func (f *file) Name() string       { return filepath.Base(f.path) }
func (f *file) Size() int64        { return f.size }
func (f *file) ModTime() time.Time { return f.modTime }

type sectionCloser struct {
	*io.SectionReader
	io.Closer
}

func (f *file) Range(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fsref.ErrGone, f.path)
		}
		return nil, err
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if info.Size() != f.size || !info.ModTime().Equal(f.modTime) {
		fd.Close()
		return nil, fmt.Errorf("%w: %s changed since it was selected", fsref.ErrGone, f.path)
	}
	return sectionCloser{io.NewSectionReader(fd, off, n), fd}, nil
}
