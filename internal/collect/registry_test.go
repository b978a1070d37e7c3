package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/upsess/internal/durable"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/fsref/fsreftest"
	"github.com/rescale/upsess/internal/handles"
	"github.com/rescale/upsess/internal/logging"
	"github.com/rescale/upsess/internal/session"
	"github.com/rescale/upsess/internal/util/filter"
)

type fixture struct {
	fs       *fsreftest.FS
	handles  *handles.Store
	sessions *session.Manager
	r        *Registry
}

func newFixture(fs *fsreftest.FS) *fixture {
	logger := logging.NewNopLogger()
	store := handles.NewStore(durable.NewMemory(), fsref.NewResolver(fs), logger)
	sessions := session.NewManager(store, session.Options{}, logger)
	return &fixture{fs: fs, handles: store, sessions: sessions, r: NewRegistry(store, sessions, logger)}
}

func paths(created []Created) []string {
	out := make([]string, 0, len(created))
	for _, c := range created {
		out = append(out, c.RelativePath)
	}
	return out
}

func TestRegisterDirectoryWithEmptySubdirectory(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("proj/a.txt", []byte("aaa"))
	fs.AddDir("proj/empty")
	fs.AddFile("proj/sub/b.txt", []byte("bb"))
	f := newFixture(fs)

	info, err := f.r.Register(ctx, Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("proj")}}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, []string{"proj/empty"}, info.EmptyDirectories)

	created, err := f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"proj/a.txt", "proj/sub/b.txt"}, paths(created))
	assert.Equal(t, "b.txt", created[1].FileName)
	assert.Equal(t, int64(2), created[1].Size)
	for _, c := range created {
		assert.NotEmpty(t, c.HandleID)
		_, err := f.sessions.Get(c.SessionID)
		require.NoError(t, err)
	}

	_, err = f.r.CreateSessions(ctx, info.BatchID)
	require.ErrorIs(t, err, ErrBatchNotFound, "a batch is consumed once")
	assert.Zero(t, f.r.Len())
}

func TestWalkPreservesDiscoveryOrder(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("root/z.txt", nil)
	fs.AddFile("root/m/2.txt", nil)
	fs.AddFile("root/m/deeper/3.txt", nil)
	fs.AddFile("root/m/4.txt", nil)
	fs.AddFile("root/a.txt", nil)
	f := newFixture(fs)

	info, err := f.r.Register(ctx, Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("root")}}, false)
	require.NoError(t, err)
	created, err := f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"root/z.txt",
		"root/m/2.txt",
		"root/m/deeper/3.txt",
		"root/m/4.txt",
		"root/a.txt",
	}, paths(created))
}

func TestFilterAppliesToWalkedFilesOnly(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("run/out.dat", []byte("1"))
	fs.AddFile("run/debug.dat", []byte("2"))
	fs.AddFile("run/notes.txt", []byte("3"))
	fs.AddFile("picked.txt", []byte("4"))
	f := newFixture(fs)

	sel := Selection{
		Origin: OriginDrop,
		Items:  []fsref.Handle{fs.Handle("run"), fs.Handle("picked.txt")},
		Filter: filter.Config{Include: []string{"*.dat"}, Exclude: []string{"debug*"}},
	}
	info, err := f.r.Register(ctx, sel, false)
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)

	created, err := f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"run/out.dat", "picked.txt"}, paths(created))
}

func TestWalkSkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("proj/a.txt", []byte("a"))
	fs.AddDir("proj/locked")
	fs.AddFile("proj/locked/secret.txt", []byte("s"))
	fs.AddFile("proj/z.txt", []byte("z"))
	fs.FailEntries("proj/locked", errors.New("access denied"))
	f := newFixture(fs)

	info, err := f.r.Register(ctx, Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("proj")}}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, info.FileCount)
	assert.Empty(t, info.EmptyDirectories, "an unreadable directory is not empty")
}

func TestEmptyDroppedDirectory(t *testing.T) {
	fs := fsreftest.New()
	fs.AddDir("nothing")
	f := newFixture(fs)

	info, err := f.r.Register(context.Background(), Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("nothing")}}, false)
	require.NoError(t, err)
	assert.Zero(t, info.FileCount)
	assert.Equal(t, []string{"nothing"}, info.EmptyDirectories)
}

func TestImplicitGrantOnlyForPickedFiles(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("picked.bin", []byte("p"))
	fs.AddFile("dir/inner.bin", []byte("i"))
	fs.AddFile("dropped.bin", []byte("d"))
	f := newFixture(fs)

	info, err := f.r.Register(ctx, Selection{
		Origin: OriginPicker,
		Items:  []fsref.Handle{fs.Handle("picked.bin"), fs.Handle("dir")},
	}, false)
	require.NoError(t, err)
	created, err := f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	require.Len(t, created, 2)

	_, rec, err := f.handles.Get(ctx, created[0].HandleID)
	require.NoError(t, err)
	assert.True(t, rec.ImplicitGrant)
	assert.Equal(t, handles.OriginPicker, rec.Origin)

	_, rec, err = f.handles.Get(ctx, created[1].HandleID)
	require.NoError(t, err)
	assert.False(t, rec.ImplicitGrant, "files found in a directory negotiate")

	info, err = f.r.Register(ctx, Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("dropped.bin")}}, false)
	require.NoError(t, err)
	created, err = f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	_, rec, err = f.handles.Get(ctx, created[0].HandleID)
	require.NoError(t, err)
	assert.False(t, rec.ImplicitGrant)
}

func TestDirectoryPermissionIsNegotiated(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("dir/a.bin", []byte("a"))
	fs.AddFile("loose.bin", []byte("l"))
	fs.SetPermission("dir", fsref.PermissionPrompt)
	f := newFixture(fs)

	_, err := f.r.Register(ctx, Selection{Origin: OriginPicker, Items: []fsref.Handle{fs.Handle("dir")}}, false)
	require.ErrorIs(t, err, handles.ErrPermissionPending)

	// Other items still go through.
	info, err := f.r.Register(ctx, Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("dir"), fs.Handle("loose.bin")}}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, info.FileCount)

	info, err = f.r.Register(ctx, Selection{Origin: OriginPicker, Items: []fsref.Handle{fs.Handle("dir")}}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, info.FileCount)
	assert.Equal(t, 1, fs.Requests("dir"))
}

func TestCreateSessionsSkipsFailures(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New()
	fs.AddFile("a.bin", []byte("a"))
	fs.AddFile("b.bin", []byte("b"))
	f := newFixture(fs)

	info, err := f.r.Register(ctx, Selection{Origin: OriginFallback, Items: []fsref.Handle{fs.Handle("a.bin"), fs.Handle("b.bin")}}, false)
	require.NoError(t, err)
	fs.Remove("a.bin")

	created, err := f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.bin"}, paths(created))
}

func TestNonDurableHandlesAreNotStored(t *testing.T) {
	ctx := context.Background()
	fs := fsreftest.New().NonDurable()
	fs.AddFile("a.bin", []byte("a"))
	f := newFixture(fs)

	info, err := f.r.Register(ctx, Selection{Origin: OriginDrop, Items: []fsref.Handle{fs.Handle("a.bin")}}, false)
	require.NoError(t, err)
	created, err := f.r.CreateSessions(ctx, info.BatchID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Empty(t, created[0].HandleID)
}

func TestParseOrigin(t *testing.T) {
	o, err := ParseOrigin("picker")
	require.NoError(t, err)
	assert.Equal(t, OriginPicker, o)

	_, err = ParseOrigin("clipboard")
	require.Error(t, err)
}
