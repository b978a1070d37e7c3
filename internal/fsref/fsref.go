// Package fsref defines platform-neutral references to files and directories
// that can outlive the process: a live Handle and its durable Descriptor.
package fsref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Kind tells files and directories apart.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Permission is the read permission state of a handle.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionPrompt  Permission = "prompt"
	PermissionDenied  Permission = "denied"
)

var (
	// ErrGone means the referenced object no longer resolves: deleted, moved,
	// or modified since the reference was taken.
	ErrGone = errors.New("referenced object is gone")

	ErrUnknownScheme = errors.New("unknown reference scheme")
	ErrNotDirectory  = errors.New("not a directory")
	ErrNotFile       = errors.New("not a file")
)

// Descriptor is the serializable form of a handle. An empty Scheme marks a
// handle that cannot be rebuilt after a restart.
type Descriptor struct {
	Scheme   string `json:"scheme"`
	Kind     Kind   `json:"kind"`
	Location string `json:"location"`
	Name     string `json:"name"`
}

// Durable reports whether the descriptor can be resolved again later.
func (d Descriptor) Durable() bool { return d.Scheme != "" }

func (d Descriptor) String() string {
	if d.Scheme == "" {
		return d.Name
	}
	return d.Scheme + "://" + d.Location
}

// Handle is a live reference to a file or directory.
type Handle interface {
	Kind() Kind
	Name() string
	Descriptor() Descriptor

	// QueryPermission reports the current read permission without prompting.
	QueryPermission(ctx context.Context) (Permission, error)

	// RequestPermission asks the user. Only call it from an interactive context.
	RequestPermission(ctx context.Context) (Permission, error)

	// File returns the current bytes behind a file handle.
	File(ctx context.Context) (File, error)

	// Entries lists the direct children of a directory handle.
	Entries(ctx context.Context) ([]Handle, error)
}

// File is a lazy view of a file's content at the time File was called.
type File interface {
	Name() string
	Size() int64
	ModTime() time.Time

	// Range opens [off, off+n). Only that window is read.
	Range(ctx context.Context, off, n int64) (io.ReadCloser, error)
}

// Platform rebuilds and parses handles for one scheme.
type Platform interface {
	Scheme() string
	Resolve(ctx context.Context, d Descriptor) (Handle, error)
	Parse(ctx context.Context, location string) (Handle, error)
}

// Resolver dispatches descriptors and references to their platform.
type Resolver struct {
	mu        sync.RWMutex
	platforms map[string]Platform
	fallback  string
}

// NewResolver registers platforms. References without a scheme go to the
// first platform given.
func NewResolver(platforms ...Platform) *Resolver {
	r := &Resolver{platforms: make(map[string]Platform)}
	for _, p := range platforms {
		r.Register(p)
	}
	return r
}

func (r *Resolver) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallback == "" {
		r.fallback = p.Scheme()
	}
	r.platforms[p.Scheme()] = p
}

func (r *Resolver) platform(scheme string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if scheme == "" {
		scheme = r.fallback
	}
	p, ok := r.platforms[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return p, nil
}

// Resolve rebuilds the live handle for d.
func (r *Resolver) Resolve(ctx context.Context, d Descriptor) (Handle, error) {
	if !d.Durable() {
		return nil, fmt.Errorf("%w: %s has no scheme", ErrUnknownScheme, d.Name)
	}
	p, err := r.platform(d.Scheme)
	if err != nil {
		return nil, err
	}
	return p.Resolve(ctx, d)
}

// Parse turns user input such as "s3://bucket/key" or a bare local path into
// a handle.
func (r *Resolver) Parse(ctx context.Context, ref string) (Handle, error) {
	scheme, location := SplitRef(ref)
	p, err := r.platform(scheme)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, location)
}

// SplitRef splits "scheme://location". A reference without "://" has an
// empty scheme.
func SplitRef(ref string) (scheme, location string) {
	if i := strings.Index(ref, "://"); i > 0 {
		return strings.ToLower(ref[:i]), ref[i+3:]
	}
	return "", ref
}
