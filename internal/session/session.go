// Package session binds a data source, an in-memory buffer or a lazy file
// reference, to an id that reads and hashing refer to.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/rescale/upsess/internal/coop"
	"github.com/rescale/upsess/internal/fsref"
)

var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrCanceled is returned by reads and hashing on a canceled session.
	ErrCanceled = coop.ErrCanceled
)

// Session is one readable source. Size and source never change after
// creation; Canceled only goes from false to true.
type Session struct {
	ID        string
	Name      string
	Size      int64
	HandleID  string
	CreatedAt time.Time

	data []byte
	file fsref.File

	canceled atomic.Bool

	quantum  int64
	mu       sync.Mutex
	coverage *roaring.Bitmap
}

// Buffered reports whether the content is held in memory.
func (s *Session) Buffered() bool { return s.file == nil }

func (s *Session) Canceled() bool { return s.canceled.Load() }

// Range opens [off, off+n) of the source. The caller clamps the window.
func (s *Session) Range(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	if s.Canceled() {
		return nil, fmt.Errorf("%w: session %s", ErrCanceled, s.ID)
	}
	if off < 0 || n < 0 || off+n > s.Size {
		return nil, fmt.Errorf("window %d+%d outside session %s of size %d", off, n, s.ID, s.Size)
	}
	if s.file == nil {
		return io.NopCloser(bytes.NewReader(s.data[off : off+n])), nil
	}
	return s.file.Range(ctx, off, n)
}

// ReaderAt exposes the whole source for hashing.
func (s *Session) ReaderAt(ctx context.Context) io.ReaderAt {
	if s.file == nil {
		return bytes.NewReader(s.data)
	}
	return fsref.ReaderAt(ctx, s.file)
}

// Coverage counts the read quanta served so far.
type Coverage struct {
	Served uint64 `json:"served"`
	Total  uint64 `json:"total"`
}

// Complete reports whether every quantum has been served at least once.
func (c Coverage) Complete() bool { return c.Served == c.Total }

// MarkServed records that [off, off+n) was delivered to a reader.
func (s *Session) MarkServed(off, n int64) {
	if n <= 0 || s.quantum <= 0 {
		return
	}
	first := uint64(off / s.quantum)
	last := uint64((off + n + s.quantum - 1) / s.quantum)

	s.mu.Lock()
	s.coverage.AddRange(first, last)
	s.mu.Unlock()
}

func (s *Session) Coverage() Coverage {
	var total uint64
	if s.quantum > 0 {
		total = uint64((s.Size + s.quantum - 1) / s.quantum)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Coverage{Served: s.coverage.GetCardinality(), Total: total}
}
