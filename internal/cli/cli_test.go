package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/upsess/internal/config"
	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/logging"
)

type harness struct {
	t      *testing.T
	config string
	store  string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		t:      t,
		config: filepath.Join(dir, "upsess.conf"),
		store:  filepath.Join(dir, "upsess.db"),
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.config, "--store", h.store, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

func TestHashCommand(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "abc.txt")
	writeFile(t, path, "abc")

	out, err := h.run("hash", "--quiet", path)
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72  abc.txt\n", out)

	out, err = h.run("hash", "-q", "--algo", "sha1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "a9993e364706816aba3e25717850c26c9cd0d89d")

	_, err = h.run("hash", "--algo", "crc32", path)
	require.Error(t, err)
}

func TestReadCommand(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "abc.txt")
	writeFile(t, path, "abc")

	out, err := h.run("read", "--raw", "--offset", "1", path)
	require.NoError(t, err)
	assert.Equal(t, "bc", out)

	out, err = h.run("read", "--offset", "1", "--length", "1", path)
	require.NoError(t, err)
	assert.Contains(t, out, base64.StdEncoding.EncodeToString([]byte("b")))
	assert.Contains(t, out, `"isLast": false`)
	assert.Contains(t, out, `"served": 1`)
	assert.Contains(t, out, `"total": 1`)

	_, err = h.run("read", "--offset=-1", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_RANGE")
}

func TestDropAndRestore(t *testing.T) {
	h := newHarness(t)
	root := filepath.Join(t.TempDir(), "project")
	writeFile(t, filepath.Join(root, "a.txt"), "alpha")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "abc")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	out, err := h.run("drop", "--yes", root)
	require.NoError(t, err)
	assert.Contains(t, out, "2 files")
	assert.Contains(t, out, "empty folder  project/empty")

	out, err = h.run("handles", "list")
	require.NoError(t, err)
	var handleID string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "b.txt") {
			handleID = strings.Fields(line)[0]
		}
	}
	require.NotEmpty(t, handleID, out)

	_, err = h.run("handles", "restore", "--non-interactive", handleID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PERMISSION_PENDING")
	assert.Contains(t, err.Error(), "pass --yes")

	out, err = h.run("handles", "restore", "--yes", "--hash", "md5", handleID)
	require.NoError(t, err)
	assert.Contains(t, out, "900150983cd24fb0d6963f7d28e17f72  b.txt")

	_, err = h.run("handles", "rm", handleID)
	require.NoError(t, err)
	_, err = h.run("handles", "restore", "--yes", handleID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HANDLE_NOT_FOUND")

	_, err = h.run("handles", "clear")
	require.NoError(t, err)
	out, err = h.run("handles", "list")
	require.NoError(t, err)
	assert.Equal(t, "No stored handles.\n", out)
}

func TestDropHashesEveryFile(t *testing.T) {
	h := newHarness(t)
	root := filepath.Join(t.TempDir(), "set")
	writeFile(t, filepath.Join(root, "one.txt"), "abc")
	writeFile(t, filepath.Join(root, "two.txt"), "abc")

	out, err := h.run("drop", "--yes", "--hash", "md5", "--keep-handles=false", root)
	require.NoError(t, err)
	assert.Contains(t, out, "900150983cd24fb0d6963f7d28e17f72  set/one.txt")
	assert.Contains(t, out, "900150983cd24fb0d6963f7d28e17f72  set/two.txt")

	out, err = h.run("handles", "list")
	require.NoError(t, err)
	assert.Equal(t, "No stored handles.\n", out)
}

func TestUploadsCommands(t *testing.T) {
	h := newHarness(t)

	device, err := h.run("device-id")
	require.NoError(t, err)
	device = strings.TrimSpace(device)
	require.NotEmpty(t, device)

	again, err := h.run("device-id")
	require.NoError(t, err)
	assert.Equal(t, device, strings.TrimSpace(again))

	out, err := h.run("uploads", "show")
	require.NoError(t, err)
	assert.Equal(t, "No saved uploads.\n", out)

	records := filepath.Join(t.TempDir(), "records.json")
	writeFile(t, records, `[{"id":"u1","payload":{"offset":0}},{"id":"u2","payload":{"offset":512}}]`)
	out, err = h.run("uploads", "save", records)
	require.NoError(t, err)
	assert.Equal(t, "Saved 2 upload records.\n", out)

	out, err = h.run("uploads", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"u1"`)
	assert.Contains(t, out, `"u2"`)
	assert.Contains(t, out, device)

	_, err = h.run("uploads", "clear")
	require.NoError(t, err)
	out, err = h.run("uploads", "show")
	require.NoError(t, err)
	assert.Equal(t, "No saved uploads.\n", out)

	bad := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, bad, `[{"payload":{}}]`)
	_, err = h.run("uploads", "save", bad)
	require.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("config", "path")
	require.NoError(t, err)
	assert.Equal(t, h.config+"\n", out)

	_, err = h.run("config", "init")
	require.NoError(t, err)
	_, err = os.Stat(h.config)
	require.NoError(t, err)

	out, err = h.run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "read_quantum_kb:        512")
	assert.Contains(t, out, h.store)
}

func TestTerminalPrompter(t *testing.T) {
	d := fsref.Descriptor{Scheme: "file", Kind: fsref.KindDirectory, Location: "/data"}
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", false},
		{"no\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := &terminalPrompter{reader: bufioReader(tt.input), out: &out}
		got, err := p.Confirm(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "folder '/data'")
	}
}

func TestProxyPasswordPrompt(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Proxy.Mode = "basic"
	cfg.Proxy.Host = "proxy.example.com"
	cfg.Proxy.Port = 8080
	cfg.Proxy.User = "alice"

	a := &app{cfg: cfg, logger: logging.NewNopLogger(), in: strings.NewReader("s3cret\ny\n")}
	var out bytes.Buffer
	a.ensureProxyPassword(&out)
	assert.Equal(t, "s3cret", cfg.Proxy.Password)
	assert.Contains(t, out.String(), "Proxy password for alice: ")

	// The access prompter continues on the same input.
	ok, err := newPrompter(false, a.in, &out).Confirm(context.Background(), fsref.Descriptor{Kind: fsref.KindFile, Location: "/a"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Nothing is asked once a password is set.
	out.Reset()
	a.ensureProxyPassword(&out)
	assert.Empty(t, out.String())
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("short"))
	assert.Equal(t, "****cdef", mask("0123456789abcdef"))
}

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestDropFilters(t *testing.T) {
	h := newHarness(t)
	root := filepath.Join(t.TempDir(), "run")
	writeFile(t, filepath.Join(root, "out.dat"), "1")
	writeFile(t, filepath.Join(root, "debug.dat"), "2")
	writeFile(t, filepath.Join(root, "notes.txt"), "3")

	out, err := h.run("drop", "--yes", "--include", "*.dat", "--exclude", "debug*", root)
	require.NoError(t, err)
	assert.Contains(t, out, "1 file\n")
	assert.Contains(t, out, "run/out.dat")
	assert.NotContains(t, out, "notes.txt")

	_, err = h.run("hash", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}
