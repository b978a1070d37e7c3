package session

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/fsref/fsreftest"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/logging"
)

type fixture struct {
	fs      *fsreftest.FS
	handles *handles.Store
	m       *Manager
}

func newFixture(opts Options) *fixture {
	fs := fsreftest.New()
	store := handles.NewStore(durable.NewMemory(), fsref.NewResolver(fs), logging.NewNopLogger())
	return &fixture{fs: fs, handles: store, m: NewManager(store, opts, logging.NewNopLogger())}
}

func (f *fixture) file(t *testing.T, p string) fsref.File {
	t.Helper()
	file, err := f.fs.Handle(p).File(context.Background())
	require.NoError(t, err)
	return file
}

func readAll(t *testing.T, s *Session, off, n int64) string {
	t.Helper()
	rc, err := s.Range(context.Background(), off, n)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestCreateFromBufferCopies(t *testing.T) {
	f := newFixture(Options{})
	data := []byte("hello world")
	id := f.m.CreateFromBuffer("greeting.txt", data)
	data[0] = 'J'

	s, err := f.m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(11), s.Size)
	assert.True(t, s.Buffered())
	assert.Equal(t, "hello", readAll(t, s, 0, 5))
}

func TestCreateFromFileThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{InMemoryThreshold: 10, ChunkSize: 3})
	f.fs.AddFile("small.bin", []byte("0123456"))
	f.fs.AddFile("large.bin", []byte("0123456789abcdef"))

	smallID, err := f.m.CreateFromFile(ctx, f.file(t, "small.bin"), "")
	require.NoError(t, err)
	small, _ := f.m.Get(smallID)
	assert.True(t, small.Buffered())
	assert.Equal(t, 3, f.fs.RangeCalls(), "buffered in 3-byte steps")

	largeID, err := f.m.CreateFromFile(ctx, f.file(t, "large.bin"), "")
	require.NoError(t, err)
	large, _ := f.m.Get(largeID)
	assert.False(t, large.Buffered())
	assert.Equal(t, 3, f.fs.RangeCalls(), "large files are not read at creation")

	// The buffered copy no longer depends on the file.
	f.fs.Remove("small.bin")
	assert.Equal(t, "3456", readAll(t, small, 3, 4))
	assert.Equal(t, "89ab", readAll(t, large, 8, 4))
}

func TestCreateFromFileCanceledContext(t *testing.T) {
	f := newFixture(Options{InMemoryThreshold: 1 << 20})
	f.fs.AddFile("a.bin", []byte("abc"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.m.CreateFromFile(ctx, f.file(t, "a.bin"), "")
	require.ErrorIs(t, err, ErrCanceled)
	assert.Zero(t, f.m.Len())
}

func TestRestoreFromHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})
	f.fs.AddFile("a.bin", []byte("restored"))

	rec, err := f.handles.Put(ctx, "", f.fs.Handle("a.bin"), handles.PutOptions{Origin: handles.OriginDrop})
	require.NoError(t, err)

	id, err := f.m.RestoreFromHandle(ctx, rec.ID, true)
	require.NoError(t, err)
	s, err := f.m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, s.HandleID)
	assert.Equal(t, "a.bin", s.Name)
	assert.Equal(t, "restored", readAll(t, s, 0, s.Size))

	_, err = f.m.RestoreFromHandle(ctx, "missing", true)
	require.ErrorIs(t, err, handles.ErrHandleNotFound)

	f.fs.Remove("a.bin")
	_, err = f.m.RestoreFromHandle(ctx, rec.ID, true)
	require.ErrorIs(t, err, handles.ErrHandleStale)
	_, err = f.m.RestoreFromHandle(ctx, rec.ID, true)
	require.ErrorIs(t, err, handles.ErrHandleNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(Options{})
	id := f.m.CreateFromBuffer("a", []byte("abc"))

	require.NoError(t, f.m.Cancel(id))
	require.NoError(t, f.m.Cancel(id), "cancel is idempotent")

	s, _ := f.m.Get(id)
	assert.True(t, s.Canceled())
	_, err := s.Range(context.Background(), 0, 1)
	require.ErrorIs(t, err, ErrCanceled)

	require.ErrorIs(t, f.m.Cancel("missing"), ErrSessionNotFound)
}

func TestCleanupRemovesLastHandleReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Options{})
	f.fs.AddFile("a.bin", []byte("a"))
	rec, err := f.handles.Put(ctx, "", f.fs.Handle("a.bin"), handles.PutOptions{})
	require.NoError(t, err)

	first, err := f.m.RestoreFromHandle(ctx, rec.ID, true)
	require.NoError(t, err)
	second, err := f.m.RestoreFromHandle(ctx, rec.ID, true)
	require.NoError(t, err)

	require.NoError(t, f.m.Cleanup(ctx, first))
	_, _, err = f.handles.Get(ctx, rec.ID)
	require.NoError(t, err, "another session still uses the handle")

	require.NoError(t, f.m.Cleanup(ctx, second))
	_, _, err = f.handles.Get(ctx, rec.ID)
	require.ErrorIs(t, err, handles.ErrHandleNotFound)

	require.ErrorIs(t, f.m.Cleanup(ctx, second), ErrSessionNotFound)
	assert.Zero(t, f.m.Len())
}

func TestCoverage(t *testing.T) {
	f := newFixture(Options{ReadQuantum: 4})
	id := f.m.CreateFromBuffer("a", []byte("0123456789")) // 3 quanta
	s, _ := f.m.Get(id)

	s.MarkServed(0, 4)
	s.MarkServed(4, 0)
	cov, err := f.m.Coverage(id)
	require.NoError(t, err)
	assert.Equal(t, Coverage{Served: 1, Total: 3}, cov)

	s.MarkServed(2, 8)
	cov = s.Coverage()
	assert.Equal(t, Coverage{Served: 3, Total: 3}, cov)
	assert.True(t, cov.Complete())
}

func TestListOrder(t *testing.T) {
	f := newFixture(Options{})
	a := f.m.CreateFromBuffer("a", nil)
	b := f.m.CreateFromBuffer("b", nil)

	list := f.m.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{a, b}, ids)
	assert.Equal(t, 2, f.m.Len())
}
