package fsref

import (
	"context"
	"io"
)

type readerAt struct {
	ctx context.Context
	f   File
}

// ReaderAt adapts f to io.ReaderAt. Each call opens one Range.
func ReaderAt(ctx context.Context, f File) io.ReaderAt {
	return &readerAt{ctx: ctx, f: f}
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	size := r.f.Size()
	if off >= size {
		return 0, io.EOF
	}
	n := min(int64(len(p)), size-off)
	rc, err := r.f.Range(r.ctx, off, n)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	read, err := io.ReadFull(rc, p[:n])
	if err != nil {
		return read, err
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}
