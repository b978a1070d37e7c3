// Package fsreftest provides an in-memory fsref platform for tests.
package fsreftest

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rescale/upsess/internal/fsref"
)

// Scheme is the scheme of every handle this platform produces.
const Scheme = "mem"

type node struct {
	kind     fsref.Kind
	data     []byte
	children []string // insertion order
	gen      int
	modTime  time.Time
}

// FS is a mutable in-memory tree. Permissions default to granted.
type FS struct {
	mu         sync.Mutex
	nodes      map[string]*node
	perms      map[string]fsref.Permission
	answers    map[string]fsref.Permission
	entryErrs  map[string]error
	requests   map[string]int
	fileCalls  map[string]int
	rangeCalls int
	gen        int
	nonDurable bool
}

func New() *FS {
	return &FS{
		nodes:     map[string]*node{"": {kind: fsref.KindDirectory}},
		perms:     make(map[string]fsref.Permission),
		answers:   make(map[string]fsref.Permission),
		entryErrs: make(map[string]error),
		requests:  make(map[string]int),
		fileCalls: make(map[string]int),
	}
}

// NonDurable makes every handle report an empty scheme, like a platform
// whose handles cannot be stored.
func (f *FS) NonDurable() *FS {
	f.nonDurable = true
	return f
}

func (f *FS) ensureDir(p string) {
	if p == "." {
		p = ""
	}
	if _, ok := f.nodes[p]; ok {
		return
	}
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	f.ensureDir(parent)
	f.gen++
	f.nodes[p] = &node{kind: fsref.KindDirectory, gen: f.gen}
	f.nodes[parent].children = append(f.nodes[parent].children, p)
}

// AddFile creates or replaces a file, creating parent directories. Replacing
// an existing file invalidates File views taken before.
func (f *FS) AddFile(p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := path.Dir(p)
	f.ensureDir(parent)
	f.gen++
	if n, ok := f.nodes[p]; ok {
		n.data = bytes.Clone(data)
		n.gen = f.gen
		n.modTime = time.Unix(int64(f.gen), 0)
		return
	}
	if parent == "." {
		parent = ""
	}
	f.nodes[p] = &node{kind: fsref.KindFile, data: bytes.Clone(data), gen: f.gen, modTime: time.Unix(int64(f.gen), 0)}
	f.nodes[parent].children = append(f.nodes[parent].children, p)
}

func (f *FS) AddDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureDir(p)
}

// Remove deletes p and everything below it.
func (f *FS) Remove(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(f.nodes, k)
		}
	}
	parent := path.Dir(p)
	if parent == "." {
		parent = ""
	}
	if n, ok := f.nodes[parent]; ok {
		kept := n.children[:0]
		for _, c := range n.children {
			if c != p {
				kept = append(kept, c)
			}
		}
		n.children = kept
	}
}

// SetPermission fixes what QueryPermission reports for p.
func (f *FS) SetPermission(p string, perm fsref.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[p] = perm
}

// SetRequestAnswer fixes what RequestPermission answers for p.
func (f *FS) SetRequestAnswer(p string, perm fsref.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[p] = perm
}

// FailEntries makes listing p fail with err.
func (f *FS) FailEntries(p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entryErrs[p] = err
}

func (f *FS) Requests(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[p]
}

func (f *FS) FileCalls(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileCalls[p]
}

// RangeCalls counts Range opens across all files.
func (f *FS) RangeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rangeCalls
}

// Handle returns a live handle for an existing path, or nil.
func (f *FS) Handle(p string) fsref.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[p]
	if !ok {
		return nil
	}
	return &handle{fs: f, path: p, kind: n.kind}
}

func (f *FS) Scheme() string { return Scheme }

func (f *FS) Resolve(ctx context.Context, d fsref.Descriptor) (fsref.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[d.Location]
	if !ok || n.kind != d.Kind {
		return nil, fsref.ErrGone
	}
	return &handle{fs: f, path: d.Location, kind: n.kind}, nil
}

func (f *FS) Parse(ctx context.Context, location string) (fsref.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[location]
	if !ok {
		return nil, fsref.ErrGone
	}
	return &handle{fs: f, path: location, kind: n.kind}, nil
}

type handle struct {
	fs   *FS
	path string
	kind fsref.Kind
}

func (h *handle) Kind() fsref.Kind { return h.kind }
func (h *handle) Name() string     { return path.Base(h.path) }

func (h *handle) Descriptor() fsref.Descriptor {
	d := fsref.Descriptor{Kind: h.kind, Location: h.path, Name: h.Name()}
	if !h.fs.nonDurable {
		d.Scheme = Scheme
	}
	return d
}

func (h *handle) QueryPermission(ctx context.Context) (fsref.Permission, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if p, ok := h.fs.perms[h.path]; ok {
		return p, nil
	}
	return fsref.PermissionGranted, nil
}

func (h *handle) RequestPermission(ctx context.Context) (fsref.Permission, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.fs.requests[h.path]++
	answer, ok := h.fs.answers[h.path]
	if !ok {
		answer = fsref.PermissionGranted
	}
	h.fs.perms[h.path] = answer
	return answer, nil
}

func (h *handle) File(ctx context.Context) (fsref.File, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.fs.fileCalls[h.path]++
	n, ok := h.fs.nodes[h.path]
	if !ok {
		return nil, fsref.ErrGone
	}
	if n.kind != fsref.KindFile {
		return nil, fsref.ErrNotFile
	}
	return &file{fs: h.fs, path: h.path, data: n.data, gen: n.gen, modTime: n.modTime}, nil
}

func (h *handle) Entries(ctx context.Context) ([]fsref.Handle, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if err := h.fs.entryErrs[h.path]; err != nil {
		return nil, err
	}
	n, ok := h.fs.nodes[h.path]
	if !ok {
		return nil, fsref.ErrGone
	}
	if n.kind != fsref.KindDirectory {
		return nil, fsref.ErrNotDirectory
	}
	out := make([]fsref.Handle, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, &handle{fs: h.fs, path: c, kind: h.fs.nodes[c].kind})
	}
	return out, nil
}

type file struct {
	fs      *FS
	path    string
	data    []byte
	gen     int
	modTime time.Time
}

func (f *file) Name() string       { return path.Base(f.path) }
func (f *file) Size() int64        { return int64(len(f.data)) }
func (f *file) ModTime() time.Time { return f.modTime }

func (f *file) Range(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.rangeCalls++
	cur, ok := f.fs.nodes[f.path]
	if !ok || cur.gen != f.gen {
		return nil, fsref.ErrGone
	}
	end := min(off+n, int64(len(f.data)))
	off = min(off, end)
	return io.NopCloser(bytes.NewReader(f.data[off:end])), nil
}
