package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/rescale/upsess/internal/constants"
	"github.com/rescale/upsess/internal/coop"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/logging"
)

// Options tunes a Manager. Zero values take the package constants.
type Options struct {
	// InMemoryThreshold: files smaller than this are buffered at creation.
	// Negative disables buffering.
	InMemoryThreshold int64

	// ChunkSize is the step used while buffering, with a checkpoint between
	// steps.
	ChunkSize int

	// ReadQuantum is the coverage granularity.
	ReadQuantum int
}

// Manager owns the session table.
type Manager struct {
	handles *handles.Store
	logger  *logging.Logger
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(store *handles.Store, opts Options, logger *logging.Logger) *Manager {
	if opts.InMemoryThreshold == 0 {
		opts.InMemoryThreshold = constants.InMemoryThreshold
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = constants.HashChunkSize
	}
	if opts.ReadQuantum <= 0 {
		opts.ReadQuantum = constants.ReadQuantum
	}
	return &Manager{
		handles:  store,
		logger:   logger.Component("session"),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) newSession(name string, size int64, handleID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      size,
		HandleID:  handleID,
		CreatedAt: time.Now(),
		quantum:   int64(m.opts.ReadQuantum),
		coverage:  roaring.New(),
	}
}

func (m *Manager) add(s *Session) string {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Debug().
		Str("session", s.ID).
		Str("name", s.Name).
		Int64("size", s.Size).
		Bool("buffered", s.Buffered()).
		Msg("Session created")
	return s.ID
}

// CreateFromBuffer creates a session over a copy of data.
func (m *Manager) CreateFromBuffer(name string, data []byte) string {
	s := m.newSession(name, int64(len(data)), "")
	s.data = bytes.Clone(data)
	if s.data == nil {
		s.data = []byte{}
	}
	return m.add(s)
}

// CreateFromFile creates a session over f. Files below the in-memory
// threshold are read completely now; larger ones are read on demand.
func (m *Manager) CreateFromFile(ctx context.Context, f fsref.File, handleID string) (string, error) {
	s := m.newSession(f.Name(), f.Size(), handleID)

	if m.opts.InMemoryThreshold > 0 && f.Size() < m.opts.InMemoryThreshold {
		data, err := m.buffer(ctx, f)
		if err != nil {
			return "", err
		}
		s.data = data
	} else {
		s.file = f
	}
	return m.add(s), nil
}

func (m *Manager) buffer(ctx context.Context, f fsref.File) ([]byte, error) {
	size := f.Size()
	data := make([]byte, size)
	step := int64(m.opts.ChunkSize)

	for off := int64(0); off < size; off += step {
		if err := coop.Checkpoint(ctx, nil); err != nil {
			return nil, err
		}
		n := min(step, size-off)
		rc, err := f.Range(ctx, off, n)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer %s: %w", f.Name(), err)
		}
		_, err = io.ReadFull(rc, data[off:off+n])
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer %s at offset %d: %w", f.Name(), off, err)
		}
	}
	return data, nil
}

// RestoreFromHandle creates a session from a stored handle. Errors wrap
// handles.ErrHandleNotFound, ErrHandleStale, ErrPermissionDenied or
// ErrPermissionPending.
func (m *Manager) RestoreFromHandle(ctx context.Context, handleID string, interactive bool) (string, error) {
	f, rec, err := m.handles.Materialize(ctx, handleID, interactive)
	if err != nil {
		return "", err
	}
	id, err := m.CreateFromFile(ctx, f, rec.ID)
	if err != nil {
		return "", err
	}
	m.logger.Info().Str("session", id).Str("handle", handleID).Msg("Session restored from handle")
	return id, nil
}

// Get returns the live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Cancel marks the session canceled. Canceling twice is a no-op.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.canceled.CompareAndSwap(false, true) {
		m.logger.Debug().Str("session", id).Msg("Session canceled")
	}
	return nil
}

// Cleanup removes the session. When it was the last session on its handle
// the handle is deleted as well.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)

	lastRef := s.HandleID != ""
	for _, other := range m.sessions {
		if other.HandleID == s.HandleID {
			lastRef = false
			break
		}
	}
	m.mu.Unlock()

	if lastRef && m.handles != nil {
		if err := m.handles.Delete(ctx, s.HandleID); err != nil {
			return err
		}
	}
	m.logger.Debug().Str("session", id).Bool("handle_removed", lastRef).Msg("Session cleaned up")
	return nil
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Coverage reports which read quanta of the session have been served.
func (m *Manager) Coverage(id string) (Coverage, error) {
	s, err := m.Get(id)
	if err != nil {
		return Coverage{}, err
	}
	return s.Coverage(), nil
}
