// Package handles keeps file and directory references across restarts so a
// session can be restored without a new selection.
//
// Records live in the durable store; the permission state lives only on the
// in-memory entry and starts over as unknown after a restart.
package handles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/logging"
)

// Origin is how a handle entered the engine.
type Origin string

const (
	OriginPicker   Origin = "picker"
	OriginDrop     Origin = "drop"
	OriginFallback Origin = "fallback"
)

// Record is the persisted form of a handle.
type Record struct {
	ID            string           `json:"id"`
	Kind          fsref.Kind       `json:"kind"`
	Descriptor    fsref.Descriptor `json:"descriptor"`
	Origin        Origin           `json:"origin,omitempty"`
	ImplicitGrant bool             `json:"implicitGrant,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// PutOptions describe a new record.
type PutOptions struct {
	Origin Origin

	// ImplicitGrant marks a file picked directly by the user. Its in-memory
	// entry starts granted. Ignored for directories.
	ImplicitGrant bool
}

// entry is a live handle. permission is guarded by Store.mu.
type entry struct {
	handle     fsref.Handle
	record     Record
	permission fsref.Permission
}

// Store is the handle table. Records whose descriptor has no scheme are kept
// in memory only.
type Store struct {
	kv       durable.KV
	resolver *fsref.Resolver
	logger   *logging.Logger

	mu    sync.Mutex
	live  map[string]*entry
	group singleflight.Group
}

func NewStore(kv durable.KV, resolver *fsref.Resolver, logger *logging.Logger) *Store {
	return &Store{
		kv:       kv,
		resolver: resolver,
		logger:   logger.Component("handles"),
		live:     make(map[string]*entry),
	}
}

// Put stores h under id, generating an id when empty.
func (s *Store) Put(ctx context.Context, id string, h fsref.Handle, opts PutOptions) (Record, error) {
	if id == "" {
		id = uuid.NewString()
	}
	rec := Record{
		ID:            id,
		Kind:          h.Kind(),
		Descriptor:    h.Descriptor(),
		Origin:        opts.Origin,
		ImplicitGrant: opts.ImplicitGrant && h.Kind() == fsref.KindFile,
		CreatedAt:     time.Now().UTC(),
	}

	if rec.Descriptor.Durable() {
		data, err := json.Marshal(rec)
		if err != nil {
			return Record{}, fmt.Errorf("failed to encode handle record: %w", err)
		}
		if err := s.kv.Put(durable.BucketHandles, id, data); err != nil {
			// The live entry still serves this process.
			s.logger.Warn().Err(err).Str("handle", id).Msg("Failed to persist handle")
		}
	}

	perm := fsref.PermissionUnknown
	if rec.ImplicitGrant {
		perm = fsref.PermissionGranted
	}

	s.mu.Lock()
	s.live[id] = &entry{handle: h, record: rec, permission: perm}
	s.mu.Unlock()

	s.logger.Debug().Str("handle", id).Str("ref", rec.Descriptor.String()).Msg("Handle stored")
	return rec, nil
}

// Get returns the live handle for id, rebuilding it from its record if this
// process has not seen it yet.
func (s *Store) Get(ctx context.Context, id string) (fsref.Handle, Record, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return nil, Record{}, err
	}
	return e.handle, e.record, nil
}

func (s *Store) entry(ctx context.Context, id string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		return e, nil
	}

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}

	h, err := s.resolver.Resolve(ctx, rec.Descriptor)
	if err != nil {
		if errors.Is(err, fsref.ErrGone) {
			s.drop(id)
			return nil, fmt.Errorf("%w: %s: %w", ErrHandleStale, id, err)
		}
		return nil, fmt.Errorf("failed to resolve handle %s: %w", id, err)
	}

	if rec.ImplicitGrant {
		s.logger.Warn().
			Str("handle", id).
			Str("ref", rec.Descriptor.String()).
			Msg("Restoring a handle whose read permission was implied by the picker and never confirmed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have restored it meanwhile.
	if existing, ok := s.live[id]; ok {
		return existing, nil
	}
	e = &entry{handle: h, record: rec, permission: fsref.PermissionUnknown}
	s.live[id] = e
	return e, nil
}

func (s *Store) load(id string) (Record, error) {
	data, err := s.kv.Get(durable.BucketHandles, id)
	if err != nil {
		if errors.Is(err, durable.ErrNotFound) {
			return Record{}, fmt.Errorf("%w: %s", ErrHandleNotFound, id)
		}
		return Record{}, fmt.Errorf("failed to load handle %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.drop(id)
		return Record{}, fmt.Errorf("%w: %s: corrupt record: %w", ErrHandleStale, id, err)
	}
	return rec, nil
}

// EnsurePermission negotiates read permission for id. A granted entry stays
// granted for the life of the process.
func (s *Store) EnsurePermission(ctx context.Context, id string, interactive bool) (fsref.Permission, error) {
	e, err := s.entry(ctx, id)
	if err != nil {
		return fsref.PermissionUnknown, err
	}
	v, err, _ := s.group.Do(flightKey("perm", id, interactive), func() (interface{}, error) {
		return s.ensure(ctx, e, interactive)
	})
	perm, _ := v.(fsref.Permission)
	return perm, err
}

func (s *Store) ensure(ctx context.Context, e *entry, interactive bool) (fsref.Permission, error) {
	s.mu.Lock()
	state := e.permission
	s.mu.Unlock()

	if state == fsref.PermissionGranted {
		return state, nil
	}

	// Only granted is terminal. Prompt and denied are queried again so a
	// file whose access was restored, or that has since disappeared, is seen.
	perm, err := negotiate(ctx, e.handle, fsref.PermissionUnknown, interactive)

	s.mu.Lock()
	e.permission = perm
	s.mu.Unlock()
	return perm, err
}

// Materialize returns the current file behind id. A file that no longer
// reads removes the record and returns ErrHandleStale.
func (s *Store) Materialize(ctx context.Context, id string, interactive bool) (fsref.File, Record, error) {
	type result struct {
		file fsref.File
		rec  Record
	}

	v, err, _ := s.group.Do(flightKey("file", id, interactive), func() (interface{}, error) {
		e, err := s.entry(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.record.Kind != fsref.KindFile {
			return nil, fmt.Errorf("%w: handle %s is a %s", fsref.ErrNotFile, id, e.record.Kind)
		}
		if _, err := s.ensure(ctx, e, interactive); err != nil {
			return nil, err
		}

		f, err := e.handle.File(ctx)
		if err != nil {
			if errors.Is(err, fsref.ErrGone) || errors.Is(err, fsref.ErrNotFile) {
				s.drop(id)
				return nil, fmt.Errorf("%w: %s: %w", ErrHandleStale, id, err)
			}
			return nil, fmt.Errorf("failed to open handle %s: %w", id, err)
		}
		return result{file: f, rec: e.record}, nil
	})
	if err != nil {
		return nil, Record{}, err
	}
	r := v.(result)
	return r.file, r.rec, nil
}

// Delete removes id. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	if err := s.kv.Delete(durable.BucketHandles, id); err != nil {
		return fmt.Errorf("failed to delete handle %s: %w", id, err)
	}
	return nil
}

// drop deletes a record that can no longer be used. Failures are logged.
func (s *Store) drop(id string) {
	if err := s.Delete(context.Background(), id); err != nil {
		s.logger.Warn().Err(err).Str("handle", id).Msg("Failed to delete stale handle")
		return
	}
	s.logger.Info().Str("handle", id).Msg("Removed stale handle")
}

// Clear removes every handle.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.live = make(map[string]*entry)
	s.mu.Unlock()
	if err := s.kv.Clear(durable.BucketHandles); err != nil {
		return fmt.Errorf("failed to clear handles: %w", err)
	}
	return nil
}

// List returns every known record, persisted or live, oldest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	byID := make(map[string]Record)
	err := s.kv.ForEach(durable.BucketHandles, func(key string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn().Err(err).Str("handle", key).Msg("Skipping corrupt handle record")
			return nil
		}
		byID[key] = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list handles: %w", err)
	}

	s.mu.Lock()
	for id, e := range s.live {
		byID[id] = e.record
	}
	s.mu.Unlock()

	out := make([]Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func flightKey(op, id string, interactive bool) string {
	return fmt.Sprintf("%s/%s/%t", op, id, interactive)
}
