package handles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/fsref/fsreftest"
	"github.com/rescale/upsess/internal/logging"
)

func newTestStore(fs *fsreftest.FS, kv durable.KV) *Store {
	return NewStore(kv, fsref.NewResolver(fs), logging.NewNopLogger())
}

func TestPutGetAcrossReload(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("data/a.bin", []byte("hello"))
	kv := durable.NewMemory()

	s := newTestStore(fs, kv)
	rec, err := s.Put(ctx, "", fs.Handle("data/a.bin"), PutOptions{Origin: OriginDrop})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, fsref.KindFile, rec.Kind)

	// A fresh store over the same durable state plays the part of a restart.
	reloaded := newTestStore(fs, kv)
	h, got, err := reloaded.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", h.Name())
	assert.Equal(t, rec.Descriptor, got.Descriptor)
	assert.Equal(t, OriginDrop, got.Origin)

	list, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(fsreftest.New(), durable.NewMemory())
	_, _, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrHandleNotFound)

	_, _, err = s.Materialize(context.Background(), "nope", true)
	require.ErrorIs(t, err, ErrHandleNotFound)
}

func TestPermissionStateMachine(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("a.bin", []byte("a"))
	fs.SetPermission("a.bin", fsref.PermissionPrompt)
	s := newTestStore(fs, durable.NewMemory())

	rec, err := s.Put(ctx, "h1", fs.Handle("a.bin"), PutOptions{Origin: OriginDrop})
	require.NoError(t, err)

	perm, err := s.EnsurePermission(ctx, rec.ID, false)
	require.ErrorIs(t, err, ErrPermissionPending)
	assert.Equal(t, fsref.PermissionPrompt, perm)
	assert.Zero(t, fs.Requests("a.bin"), "non-interactive calls never request")

	perm, err = s.EnsurePermission(ctx, rec.ID, true)
	require.NoError(t, err)
	assert.Equal(t, fsref.PermissionGranted, perm)
	assert.Equal(t, 1, fs.Requests("a.bin"))

	// Granted is terminal for the live entry.
	fs.SetPermission("a.bin", fsref.PermissionDenied)
	perm, err = s.EnsurePermission(ctx, rec.ID, true)
	require.NoError(t, err)
	assert.Equal(t, fsref.PermissionGranted, perm)
	assert.Equal(t, 1, fs.Requests("a.bin"))
}

func TestPermissionDenied(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("a.bin", []byte("a"))
	fs.SetPermission("a.bin", fsref.PermissionPrompt)
	fs.SetRequestAnswer("a.bin", fsref.PermissionDenied)
	s := newTestStore(fs, durable.NewMemory())

	_, err := s.Put(ctx, "h1", fs.Handle("a.bin"), PutOptions{})
	require.NoError(t, err)

	_, _, err = s.Materialize(ctx, "h1", true)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.True(t, IsPermissionError(err))

	// The record survives a permission failure.
	_, _, err = s.Get(ctx, "h1")
	require.NoError(t, err)
}

func TestDeniedIsQueriedAgain(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("a.bin", []byte("a"))
	fs.SetPermission("a.bin", fsref.PermissionDenied)
	s := newTestStore(fs, durable.NewMemory())

	_, err := s.Put(ctx, "h1", fs.Handle("a.bin"), PutOptions{})
	require.NoError(t, err)

	perm, err := s.EnsurePermission(ctx, "h1", false)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, fsref.PermissionDenied, perm)

	// Access restored by the OS.
	fs.SetPermission("a.bin", fsref.PermissionGranted)
	perm, err = s.EnsurePermission(ctx, "h1", false)
	require.NoError(t, err)
	assert.Equal(t, fsref.PermissionGranted, perm)
}

func TestImplicitGrant(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("pick.bin", []byte("picked"))
	fs.AddDir("folder")
	fs.SetPermission("pick.bin", fsref.PermissionPrompt)
	kv := durable.NewMemory()
	s := newTestStore(fs, kv)

	rec, err := s.Put(ctx, "", fs.Handle("pick.bin"), PutOptions{Origin: OriginPicker, ImplicitGrant: true})
	require.NoError(t, err)
	assert.True(t, rec.ImplicitGrant)

	f, _, err := s.Materialize(ctx, rec.ID, false)
	require.NoError(t, err, "an implicitly granted file needs no negotiation")
	assert.Equal(t, int64(6), f.Size())

	dir, err := s.Put(ctx, "", fs.Handle("folder"), PutOptions{Origin: OriginPicker, ImplicitGrant: true})
	require.NoError(t, err)
	assert.False(t, dir.ImplicitGrant, "directories always negotiate")

	// After a restart the grant is gone and the handle has to negotiate.
	reloaded := newTestStore(fs, kv)
	_, _, err = reloaded.Materialize(ctx, rec.ID, false)
	require.ErrorIs(t, err, ErrPermissionPending)
}

func TestStaleHandleIsRemoved(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("a.bin", []byte("a"))
	fs.AddFile("b.bin", []byte("b"))
	kv := durable.NewMemory()
	s := newTestStore(fs, kv)

	a, err := s.Put(ctx, "", fs.Handle("a.bin"), PutOptions{})
	require.NoError(t, err)
	b, err := s.Put(ctx, "", fs.Handle("b.bin"), PutOptions{})
	require.NoError(t, err)

	fs.Remove("a.bin")
	fs.Remove("b.bin")

	// Live entry: the file read fails.
	_, _, err = s.Materialize(ctx, a.ID, true)
	require.ErrorIs(t, err, ErrHandleStale)
	_, _, err = s.Materialize(ctx, a.ID, true)
	require.ErrorIs(t, err, ErrHandleNotFound)

	// Restored entry: resolving the record fails.
	reloaded := newTestStore(fs, kv)
	_, _, err = reloaded.Materialize(ctx, b.ID, true)
	require.ErrorIs(t, err, ErrHandleStale)
	_, _, err = reloaded.Materialize(ctx, b.ID, true)
	require.ErrorIs(t, err, ErrHandleNotFound)

	_, err = kv.Get(durable.BucketHandles, b.ID)
	require.ErrorIs(t, err, durable.ErrNotFound)
}

func TestNonDurableHandlesStayInMemory(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New().NonDurable()
	fs.AddFile("a.bin", []byte("a"))
	kv := durable.NewMemory()
	s := newTestStore(fs, kv)

	rec, err := s.Put(ctx, "", fs.Handle("a.bin"), PutOptions{})
	require.NoError(t, err)

	_, err = kv.Get(durable.BucketHandles, rec.ID)
	require.ErrorIs(t, err, durable.ErrNotFound)

	_, _, err = s.Materialize(ctx, rec.ID, false)
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("a.bin", []byte("a"))
	fs.AddFile("b.bin", []byte("b"))
	s := newTestStore(fs, durable.NewMemory())

	a, _ := s.Put(ctx, "", fs.Handle("a.bin"), PutOptions{})
	_, _ = s.Put(ctx, "", fs.Handle("b.bin"), PutOptions{})

	require.NoError(t, s.Delete(ctx, a.ID))
	require.NoError(t, s.Delete(ctx, a.ID), "deleting twice is fine")
	_, _, err := s.Get(ctx, a.ID)
	require.ErrorIs(t, err, ErrHandleNotFound)

	require.NoError(t, s.Clear(ctx))
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNegotiate(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddDir("dir")
	fs.SetPermission("dir", fsref.PermissionPrompt)

	_, err := Negotiate(ctx, fs.Handle("dir"), false)
	require.True(t, errors.Is(err, ErrPermissionPending))

	perm, err := Negotiate(ctx, fs.Handle("dir"), true)
	require.NoError(t, err)
	assert.Equal(t, fsref.PermissionGranted, perm)
}
