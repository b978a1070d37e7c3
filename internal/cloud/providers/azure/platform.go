package azure

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"path"
	"strings"
	"time"

	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/logging"
)

// Scheme is the descriptor scheme for Azure blobs.
const Scheme = "azure"

// Platform resolves azure:// references.
type Platform struct {
	api    BlobAPI
	logger *logging.Logger
}

func New(api BlobAPI, logger *logging.Logger) *Platform {
	return &Platform{api: api, logger: logger.Component("azure")}
}

func (p *Platform) Scheme() string { return Scheme }

func (p *Platform) Parse(ctx context.Context, location string) (fsref.Handle, error) {
	containerName, blobPath, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	if blobPath == "" || strings.HasSuffix(blobPath, "/") {
		return p.dir(containerName, blobPath), nil
	}

	_, err = p.api.Properties(ctx, containerName, blobPath)
	switch code := statusCode(err); {
	case err == nil, code == nethttp.StatusForbidden:
		return p.file(containerName, blobPath), nil
	case code != nethttp.StatusNotFound:
		return nil, fmt.Errorf("failed to get properties of azure://%s/%s: %w", containerName, blobPath, err)
	}

	prefixes, blobs, err := p.api.List(ctx, containerName, blobPath+"/", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to list azure://%s/%s/: %w", containerName, blobPath, err)
	}
	if len(prefixes) == 0 && len(blobs) == 0 {
		return nil, fmt.Errorf("%w: azure://%s/%s", fsref.ErrGone, containerName, blobPath)
	}
	return p.dir(containerName, blobPath+"/"), nil
}

func (p *Platform) Resolve(ctx context.Context, d fsref.Descriptor) (fsref.Handle, error) {
	containerName, blobPath, err := splitLocation(d.Location)
	if err != nil {
		return nil, err
	}
	if d.Kind == fsref.KindDirectory {
		return p.dir(containerName, blobPath), nil
	}
	return p.file(containerName, blobPath), nil
}

func (p *Platform) file(containerName, blobPath string) *handle {
	return &handle{p: p, container: containerName, path: blobPath, kind: fsref.KindFile}
}

func (p *Platform) dir(containerName, prefix string) *handle {
	return &handle{p: p, container: containerName, path: prefix, kind: fsref.KindDirectory}
}

type handle struct {
	p         *Platform
	container string
	path      string
	kind      fsref.Kind
}

func (h *handle) Kind() fsref.Kind { return h.kind }

func (h *handle) Name() string {
	name := path.Base(strings.TrimSuffix(h.path, "/"))
	if name == "." || name == "/" {
		return h.container
	}
	return name
}

func (h *handle) Descriptor() fsref.Descriptor {
	return fsref.Descriptor{
		Scheme:   Scheme,
		Kind:     h.kind,
		Location: h.container + "/" + h.path,
		Name:     h.Name(),
	}
}

func (h *handle) QueryPermission(ctx context.Context) (fsref.Permission, error) {
	var err error
	if h.kind == fsref.KindFile {
		_, err = h.p.api.Properties(ctx, h.container, h.path)
	} else {
		_, _, err = h.p.api.List(ctx, h.container, h.path, 1)
	}

	switch code := statusCode(err); {
	case err == nil:
		return fsref.PermissionGranted, nil
	case code == nethttp.StatusForbidden || code == nethttp.StatusUnauthorized:
		return fsref.PermissionDenied, nil
	case code == nethttp.StatusNotFound:
		return fsref.PermissionGranted, nil
	default:
		return fsref.PermissionUnknown, err
	}
}

func (h *handle) RequestPermission(ctx context.Context) (fsref.Permission, error) {
	return h.QueryPermission(ctx)
}

func (h *handle) File(ctx context.Context) (fsref.File, error) {
	if h.kind != fsref.KindFile {
		return nil, fmt.Errorf("%w: azure://%s/%s", fsref.ErrNotFile, h.container, h.path)
	}
	props, err := h.p.api.Properties(ctx, h.container, h.path)
	if err != nil {
		if statusCode(err) == nethttp.StatusNotFound {
			return nil, fmt.Errorf("%w: azure://%s/%s", fsref.ErrGone, h.container, h.path)
		}
		return nil, fmt.Errorf("failed to get properties of azure://%s/%s: %w", h.container, h.path, err)
	}
	return &file{h: h, props: props}, nil
}

func (h *handle) Entries(ctx context.Context) ([]fsref.Handle, error) {
	if h.kind != fsref.KindDirectory {
		return nil, fmt.Errorf("%w: azure://%s/%s", fsref.ErrNotDirectory, h.container, h.path)
	}
	prefixes, blobs, err := h.p.api.List(ctx, h.container, h.path, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list azure://%s/%s: %w", h.container, h.path, err)
	}

	out := make([]fsref.Handle, 0, len(prefixes)+len(blobs))
	for _, prefix := range prefixes {
		out = append(out, h.p.dir(h.container, prefix))
	}
	for _, name := range blobs {
		if name == h.path || strings.HasSuffix(name, "/") {
			continue
		}
		out = append(out, h.p.file(h.container, name))
	}
	return out, nil
}

type file struct {
	h     *handle
	props Properties
}

func (f *file) Name() string       { return f.h.Name() }
func (f *file) Size() int64        { return f.props.Size }
func (f *file) ModTime() time.Time { return f.props.ModTime }

func (f *file) Range(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	if n <= 0 || off >= f.props.Size {
		return io.NopCloser(strings.NewReader("")), nil
	}
	n = min(n, f.props.Size-off)

	rc, err := f.h.p.api.Download(ctx, f.h.container, f.h.path, off, n, f.props.ETag)
	if err != nil {
		switch statusCode(err) {
		case nethttp.StatusNotFound, nethttp.StatusPreconditionFailed:
			return nil, fmt.Errorf("%w: azure://%s/%s", fsref.ErrGone, f.h.container, f.h.path)
		}
		return nil, fmt.Errorf("failed to read azure://%s/%s range %d+%d: %w", f.h.container, f.h.path, off, n, err)
	}
	return rc, nil
}
