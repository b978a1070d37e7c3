// Package chunk serves byte windows of a session, either base64 encoded or as
// a raw stream. Both shapes go through the same window logic.
package chunk

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/rescale/upsess/internal/constants"
	"github.com/rescale/upsess/internal/session"
	"github.com/rescale/upsess/internal/util/buffers"
)

// ErrInvalidRange is returned for a negative offset or length.
var ErrInvalidRange = errors.New("invalid range")

// Chunk is an encoded window.
type Chunk struct {
	Offset  int64  `json:"offset"`
	Length  int64  `json:"length"`
	Payload string `json:"payload"`
	IsLast  bool   `json:"isLast"`
}

// Stream is a raw window. The caller closes it.
type Stream struct {
	io.ReadCloser
	Offset int64
	Length int64
	IsLast bool
}

// Reader reads windows from the sessions of a Manager.
type Reader struct {
	sessions *session.Manager
	quantum  int64
}

// NewReader creates a Reader. quantum is the length used when a read asks
// for zero bytes; zero means constants.ReadQuantum.
func NewReader(sessions *session.Manager, quantum int) *Reader {
	if quantum <= 0 {
		quantum = constants.ReadQuantum
	}
	return &Reader{sessions: sessions, quantum: int64(quantum)}
}

type window struct {
	s      *session.Session
	off    int64
	n      int64
	isLast bool
}

// window clamps the request to the session. An offset past the end yields an
// empty last window at size.
func (r *Reader) window(id string, off, length int64) (window, error) {
	if off < 0 || length < 0 {
		return window{}, fmt.Errorf("%w: offset %d length %d", ErrInvalidRange, off, length)
	}
	s, err := r.sessions.Get(id)
	if err != nil {
		return window{}, err
	}
	if s.Canceled() {
		return window{}, fmt.Errorf("%w: session %s", session.ErrCanceled, id)
	}
	if length == 0 {
		length = r.quantum
	}
	off = min(off, s.Size)
	n := min(length, s.Size-off)
	return window{s: s, off: off, n: n, isLast: off+n >= s.Size}, nil
}

// Read returns the window base64 encoded.
func (r *Reader) Read(ctx context.Context, id string, off, length int64) (*Chunk, error) {
	w, err := r.window(id, off, length)
	if err != nil {
		return nil, err
	}

	var buf []byte
	if w.n <= constants.ReadQuantum {
		pooled := buffers.GetQuantumBuffer()
		defer buffers.PutQuantumBuffer(pooled)
		buf = (*pooled)[:w.n]
	} else {
		buf = make([]byte, w.n)
	}

	rc, err := w.s.Range(ctx, w.off, w.n)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, fmt.Errorf("failed to read session %s at %d: %w", id, w.off, err)
	}
	w.s.MarkServed(w.off, w.n)

	return &Chunk{
		Offset:  w.off,
		Length:  w.n,
		Payload: base64.StdEncoding.EncodeToString(buf),
		IsLast:  w.isLast,
	}, nil
}

// ReadStream returns the window as an unread stream.
func (r *Reader) ReadStream(ctx context.Context, id string, off, length int64) (*Stream, error) {
	w, err := r.window(id, off, length)
	if err != nil {
		return nil, err
	}
	rc, err := w.s.Range(ctx, w.off, w.n)
	if err != nil {
		return nil, err
	}
	w.s.MarkServed(w.off, w.n)
	return &Stream{ReadCloser: rc, Offset: w.off, Length: w.n, IsLast: w.isLast}, nil
}
