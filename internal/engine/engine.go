// Package engine wires the session, handle, chunk, digest, collection and
// persistence components into the surface the transfer layer calls.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rescale/upsess/internal/chunk"
	"github.com/rescale/upsess/internal/collect"
	"github.com/rescale/upsess/internal/config"
	"github.com/rescale/upsess/internal/digest"
	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/localfs"
	"github.com/rescale/upsess/internal/logging"
	"github.com/rescale/upsess/internal/persist"
	"github.com/rescale/upsess/internal/session"
	"github.com/rescale/upsess/internal/util/buffers"
)

// Options configures New.
type Options struct {
	// Config defaults to config.NewConfig().
	Config *config.Config

	Logger *logging.Logger

	// Prompter confirms local read access. Nil refuses every request.
	Prompter localfs.Prompter

	// Platforms are registered after the local file platform.
	Platforms []fsref.Platform

	// KV replaces the database at Config.Store.Path. The engine does not
	// close it.
	KV durable.KV
}

// Engine is one independent instance of every table.
type Engine struct {
	cfg      *config.Config
	logger   *logging.Logger
	provider digest.Provider

	kv      durable.KV
	ownsKV  bool
	durable bool

	resolver *fsref.Resolver
	handles  *handles.Store
	sessions *session.Manager
	chunks   *chunk.Reader
	registry *collect.Registry
	uploads  *persist.Store
}

// New builds an engine. A database that cannot be opened is logged and
// replaced by process memory; upload state then reports itself unavailable.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.Component("engine"),
		provider: digest.SelectProvider(cfg.Engine.NativeDigest),
	}

	var uploadsKV durable.KV
	switch {
	case opts.KV != nil:
		e.kv, e.durable = opts.KV, true
		uploadsKV = opts.KV
	default:
		path := config.ExpandHome(cfg.Store.Path)
		store, err := durable.Open(path, cfg.Store.OpenTimeout())
		if err != nil {
			e.logger.Warn().Err(err).Str("path", path).Msg("Durable store unavailable; handles will not survive a restart")
			e.kv = durable.NewMemory()
			e.ownsKV = true
		} else {
			e.kv, e.ownsKV, e.durable = store, true, true
			uploadsKV = store
		}
	}

	local := localfs.New(localfs.Options{
		IncludeHidden: cfg.Engine.IncludeHidden,
		Prompter:      opts.Prompter,
	})
	e.resolver = fsref.NewResolver(local)
	for _, p := range opts.Platforms {
		e.resolver.Register(p)
	}

	threshold := cfg.Engine.InMemoryThreshold()
	if threshold == 0 {
		threshold = -1
	}

	e.handles = handles.NewStore(e.kv, e.resolver, logger)
	e.sessions = session.NewManager(e.handles, session.Options{
		InMemoryThreshold: threshold,
		ChunkSize:         cfg.Engine.HashChunkSize(),
		ReadQuantum:       cfg.Engine.ReadQuantum(),
	}, logger)
	e.chunks = chunk.NewReader(e.sessions, cfg.Engine.ReadQuantum())
	e.registry = collect.NewRegistry(e.handles, e.sessions, logger)
	e.uploads = persist.New(uploadsKV, logger)

	e.logger.Debug().
		Str("digest_provider", e.provider.Name()).
		Bool("durable", e.durable).
		Msg("Engine ready")
	return e, nil
}

// Durable reports whether handles and upload state survive a restart.
func (e *Engine) Durable() bool { return e.durable }

// Resolve parses a reference such as a local path or "s3://bucket/key".
func (e *Engine) Resolve(ctx context.Context, ref string) (fsref.Handle, error) {
	return e.resolver.Parse(ctx, ref)
}

func (e *Engine) CreateSessionFromBuffer(name string, data []byte) string {
	return e.sessions.CreateFromBuffer(name, data)
}

// CreateSessionFromFileReference creates a session over f. handleID may be
// empty.
func (e *Engine) CreateSessionFromFileReference(ctx context.Context, f fsref.File, handleID string) (string, error) {
	return e.sessions.CreateFromFile(ctx, f, handleID)
}

func (e *Engine) RestoreSessionFromHandle(ctx context.Context, handleID string, interactive bool) (string, error) {
	return e.sessions.RestoreFromHandle(ctx, handleID, interactive)
}

func (e *Engine) Read(ctx context.Context, sessionID string, off, length int64) (*chunk.Chunk, error) {
	return e.chunks.Read(ctx, sessionID, off, length)
}

func (e *Engine) ReadStream(ctx context.Context, sessionID string, off, length int64) (*chunk.Stream, error) {
	return e.chunks.ReadStream(ctx, sessionID, off, length)
}

// HashRequest selects the digest to compute.
type HashRequest struct {
	Algorithm  digest.Algorithm
	BlockSize  int64
	OnProgress digest.ProgressFunc
}

// ComputeHash hashes the whole session. Canceling the session stops it within
// one chunk and returns ErrCanceled without a result.
func (e *Engine) ComputeHash(ctx context.Context, sessionID string, req HashRequest) (*digest.Result, error) {
	if !req.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: %q", digest.ErrUnsupportedAlgorithm, string(req.Algorithm))
	}
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Canceled() {
		return nil, fmt.Errorf("%w: session %s", session.ErrCanceled, sessionID)
	}

	start := time.Now()
	res, err := digest.Compute(ctx, s.ReaderAt(ctx), s.Size, digest.Options{
		Algorithm:    req.Algorithm,
		BlockSize:    req.BlockSize,
		Provider:     e.provider,
		ChunkSize:    e.cfg.Engine.HashChunkSize(),
		ProgressStep: e.cfg.Engine.ProgressStep(),
		OnProgress:   req.OnProgress,
		Canceled:     s.Canceled,
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug().
		Str("session", sessionID).
		Str("algorithm", res.Algorithm.String()).
		Str("digest", res.Digest).
		Dur("elapsed", time.Since(start)).
		Msg("Hash computed")
	return res, nil
}

func (e *Engine) CancelSession(sessionID string) error {
	return e.sessions.Cancel(sessionID)
}

func (e *Engine) CleanupSession(ctx context.Context, sessionID string) error {
	return e.sessions.Cleanup(ctx, sessionID)
}

// Session returns the live session.
func (e *Engine) Session(sessionID string) (*session.Session, error) {
	return e.sessions.Get(sessionID)
}

// Coverage reports how much of the session has been read.
func (e *Engine) Coverage(sessionID string) (session.Coverage, error) {
	return e.sessions.Coverage(sessionID)
}

func (e *Engine) RegisterDrop(ctx context.Context, sel collect.Selection, interactive bool) (*collect.BatchInfo, error) {
	return e.registry.Register(ctx, sel, interactive)
}

func (e *Engine) CreateSessionsFromBatch(ctx context.Context, batchID string) ([]collect.Created, error) {
	return e.registry.CreateSessions(ctx, batchID)
}

// PutHandle stores h so a later process can restore it.
func (e *Engine) PutHandle(ctx context.Context, h fsref.Handle, opts handles.PutOptions) (handles.Record, error) {
	return e.handles.Put(ctx, "", h, opts)
}

func (e *Engine) ListHandles(ctx context.Context) ([]handles.Record, error) {
	return e.handles.List(ctx)
}

func (e *Engine) DeleteHandle(ctx context.Context, id string) error {
	return e.handles.Delete(ctx, id)
}

func (e *Engine) ClearHandles(ctx context.Context) error {
	return e.handles.Clear(ctx)
}

func (e *Engine) DeviceID(ctx context.Context) string {
	return e.uploads.DeviceID(ctx)
}

func (e *Engine) SavePersistedUploads(ctx context.Context, records []persist.Record, deviceID string) bool {
	return e.uploads.Save(ctx, records, deviceID)
}

// LoadPersistedUploads returns nil when nothing is stored or the store is
// unavailable.
func (e *Engine) LoadPersistedUploads(ctx context.Context) *persist.Snapshot {
	snap, ok := e.uploads.Load(ctx)
	if !ok {
		return nil
	}
	return snap
}

func (e *Engine) ClearPersistedUploads(ctx context.Context) bool {
	return e.uploads.Clear(ctx)
}

// Close releases the database if the engine opened it.
func (e *Engine) Close() error {
	stats := buffers.GetStats()
	e.logger.Debug().
		Int64("hash_buffers", stats.HashAllocations).
		Int64("quantum_buffers", stats.QuantumAllocations).
		Msg("Engine closed")
	if e.ownsKV {
		return e.kv.Close()
	}
	return nil
}
