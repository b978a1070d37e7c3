package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rescale/upsess/internal/fsref"
)

// Scheme is the descriptor scheme for local paths.
const Scheme = "file"

// Platform resolves local paths into handles.
type Platform struct {
	opts Options
}

func New(opts Options) *Platform {
	if opts.Prompter == nil {
		opts.Prompter = DenyAll
	}
	return &Platform{opts: opts}
}

func (p *Platform) Scheme() string { return Scheme }

// Parse accepts an absolute or relative path.
func (p *Platform) Parse(ctx context.Context, location string) (fsref.Handle, error) {
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", location, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fsref.ErrGone, abs)
		}
		return nil, err
	}
	return p.handleFor(abs, info), nil
}

// Resolve rebuilds a handle from its descriptor. The path must still exist
// with the same kind.
func (p *Platform) Resolve(ctx context.Context, d fsref.Descriptor) (fsref.Handle, error) {
	info, err := os.Stat(d.Location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fsref.ErrGone, d.Location)
		}
		return nil, err
	}
	h := p.handleFor(d.Location, info)
	if h.kind != d.Kind {
		return nil, fmt.Errorf("%w: %s is no longer a %s", fsref.ErrGone, d.Location, d.Kind)
	}
	return h, nil
}

func (p *Platform) handleFor(path string, info fs.FileInfo) *handle {
	kind := fsref.KindFile
	if info.IsDir() {
		kind = fsref.KindDirectory
	}
	return &handle{platform: p, path: path, kind: kind}
}

// Entries lists the directory, filtered by the platform options. Entries that
// cannot be stat'ed and anything that is neither a regular file nor a
// directory are skipped.
func (h *handle) Entries(ctx context.Context) ([]fsref.Handle, error) {
	if h.kind != fsref.KindDirectory {
		return nil, fmt.Errorf("%w: %s", fsref.ErrNotDirectory, h.path)
	}

	entries, err := os.ReadDir(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", fsref.ErrGone, h.path)
		}
		return nil, err
	}

	result := make([]fsref.Handle, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()

		// Filter hidden files unless explicitly included
		if !h.platform.opts.IncludeHidden && IsHiddenName(name) {
			continue
		}

		path := filepath.Join(h.path, name)
		// Stat follows symlinks so a link to a file reads as that file.
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			continue
		}

		result = append(result, h.platform.handleFor(path, info))
	}

	return result, nil
}
