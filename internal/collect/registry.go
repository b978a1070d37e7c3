// Package collect turns a user selection (picked files, a drop, or a plain
// file input) into a batch of files ready to become sessions.
package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/upsess/internal/coop"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/logging"
	"github.com/rescale/upsess/internal/session"
	"github.com/rescale/upsess/internal/util/filter"
)

// ErrBatchNotFound is returned for an unknown or already consumed batch.
var ErrBatchNotFound = errors.New("drop batch not found")

// Origin is where a selection came from.
type Origin = handles.Origin

const (
	OriginPicker   = handles.OriginPicker
	OriginDrop     = handles.OriginDrop
	OriginFallback = handles.OriginFallback
)

// ParseOrigin accepts "picker", "drop" or "fallback".
func ParseOrigin(s string) (Origin, error) {
	switch o := Origin(s); o {
	case OriginPicker, OriginDrop, OriginFallback:
		return o, nil
	}
	return "", fmt.Errorf("unknown origin %q", s)
}

// Selection is one user gesture: the items as handed over by the platform.
type Selection struct {
	Origin Origin
	Items  []fsref.Handle

	// Filter applies to files found inside dropped directories. Items
	// selected directly are always kept.
	Filter filter.Config
}

// Entry is a file in a batch.
type Entry struct {
	File          fsref.Handle
	Descriptor    fsref.Descriptor
	RelativePath  string
	FromDirectory bool
	ImplicitGrant bool
}

// DropBatch is the enumerated selection waiting for CreateSessions.
type DropBatch struct {
	ID               string
	Origin           Origin
	Entries          []Entry
	EmptyDirectories []string
	CreatedAt        time.Time
}

// BatchInfo summarizes a registered batch.
type BatchInfo struct {
	BatchID          string   `json:"batchId"`
	FileCount        int      `json:"fileCount"`
	EmptyDirectories []string `json:"emptyDirectories"`
}

// Created describes a session made from a batch entry.
type Created struct {
	SessionID    string `json:"sessionId"`
	FileName     string `json:"fileName"`
	Size         int64  `json:"size"`
	RelativePath string `json:"relativePath"`
	HandleID     string `json:"handleId,omitempty"`
}

// Registry holds batches between Register and CreateSessions.
type Registry struct {
	handles  *handles.Store
	sessions *session.Manager
	logger   *logging.Logger

	mu      sync.Mutex
	batches map[string]*DropBatch
}

func NewRegistry(store *handles.Store, sessions *session.Manager, logger *logging.Logger) *Registry {
	return &Registry{
		handles:  store,
		sessions: sessions,
		logger:   logger.Component("collect"),
		batches:  make(map[string]*DropBatch),
	}
}

type captured struct {
	handle     fsref.Handle
	descriptor fsref.Descriptor
	kind       fsref.Kind
}

// Register enumerates sel into a new batch.
//
// The item handles and their descriptors are captured before anything that
// can block; platforms may invalidate them once the gesture is over.
// Directories always negotiate permission, and only files picked directly
// are marked as implicitly granted.
func (r *Registry) Register(ctx context.Context, sel Selection, interactive bool) (*BatchInfo, error) {
	items := make([]captured, 0, len(sel.Items))
	for _, h := range sel.Items {
		if h == nil {
			continue
		}
		items = append(items, captured{handle: h, descriptor: h.Descriptor(), kind: h.Kind()})
	}

	batch := &DropBatch{
		ID:        uuid.NewString(),
		Origin:    sel.Origin,
		CreatedAt: time.Now(),
	}

	var permErr error
	var filtered int
	for _, item := range items {
		if item.kind != fsref.KindDirectory {
			batch.Entries = append(batch.Entries, Entry{
				File:          item.handle,
				Descriptor:    item.descriptor,
				RelativePath:  item.descriptor.Name,
				ImplicitGrant: sel.Origin == OriginPicker,
			})
			continue
		}

		if _, err := handles.Negotiate(ctx, item.handle, interactive); err != nil {
			r.logger.Warn().Err(err).Str("ref", item.descriptor.String()).Msg("Skipping directory without read permission")
			if permErr == nil {
				permErr = err
			}
			continue
		}

		err := walk(ctx, item.handle, r.logger,
			func(h fsref.Handle, rel string) {
				if !sel.Filter.Match(rel) {
					filtered++
					return
				}
				batch.Entries = append(batch.Entries, Entry{
					File:          h,
					Descriptor:    h.Descriptor(),
					RelativePath:  rel,
					FromDirectory: true,
				})
			},
			func(rel string) {
				batch.EmptyDirectories = append(batch.EmptyDirectories, rel)
			},
		)
		if err != nil {
			return nil, err
		}
	}

	if len(batch.Entries) == 0 && len(batch.EmptyDirectories) == 0 && permErr != nil {
		return nil, permErr
	}

	r.mu.Lock()
	r.batches[batch.ID] = batch
	r.mu.Unlock()

	r.logger.Info().
		Str("batch", batch.ID).
		Str("origin", string(batch.Origin)).
		Int("files", len(batch.Entries)).
		Int("empty_dirs", len(batch.EmptyDirectories)).
		Int("filtered", filtered).
		Msg("Selection registered")

	return &BatchInfo{
		BatchID:          batch.ID,
		FileCount:        len(batch.Entries),
		EmptyDirectories: append([]string{}, batch.EmptyDirectories...),
	}, nil
}

// take removes and returns the batch.
func (r *Registry) take(id string) (*DropBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	delete(r.batches, id)
	return b, nil
}

// CreateSessions consumes the batch and creates one session per file. Files
// that fail are logged and left out.
func (r *Registry) CreateSessions(ctx context.Context, batchID string) ([]Created, error) {
	batch, err := r.take(batchID)
	if err != nil {
		return nil, err
	}

	out := make([]Created, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		if err := coop.Checkpoint(ctx, nil); err != nil {
			return out, err
		}
		c, err := r.create(ctx, batch.Origin, e)
		if err != nil {
			if errors.Is(err, coop.ErrCanceled) {
				return out, err
			}
			r.logger.Warn().Err(err).Str("path", e.RelativePath).Msg("Skipping file")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Registry) create(ctx context.Context, origin Origin, e Entry) (Created, error) {
	f, err := e.File.File(ctx)
	if err != nil {
		return Created{}, err
	}

	var handleID string
	if e.Descriptor.Durable() {
		rec, err := r.handles.Put(ctx, "", e.File, handles.PutOptions{
			Origin:        origin,
			ImplicitGrant: e.ImplicitGrant,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("path", e.RelativePath).Msg("Continuing without a stored handle")
		} else {
			handleID = rec.ID
		}
	}

	id, err := r.sessions.CreateFromFile(ctx, f, handleID)
	if err != nil {
		if handleID != "" {
			_ = r.handles.Delete(ctx, handleID)
		}
		return Created{}, err
	}
	return Created{
		SessionID:    id,
		FileName:     f.Name(),
		Size:         f.Size(),
		RelativePath: e.RelativePath,
		HandleID:     handleID,
	}, nil
}

// Len returns the number of batches waiting for CreateSessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
