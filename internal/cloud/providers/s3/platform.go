package s3

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rescale/upsess/internal/fsref"
	"github.com/rescale/upsess/internal/logging"
)

// Scheme is the descriptor scheme for S3 objects.
const Scheme = "s3"

// Platform resolves s3:// references.
type Platform struct {
	api    API
	logger *logging.Logger
}

func New(api API, logger *logging.Logger) *Platform {
	return &Platform{api: api, logger: logger.Component("s3")}
}

func (p *Platform) Scheme() string { return Scheme }

func splitLocation(location string) (bucket, key string, err error) {
	location = strings.TrimPrefix(location, "/")
	bucket, key, _ = strings.Cut(location, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid s3 location %q: missing bucket", location)
	}
	return bucket, key, nil
}

// Parse checks the object exists. A key that is not an object but has
// objects below it is treated as a directory.
func (p *Platform) Parse(ctx context.Context, location string) (fsref.Handle, error) {
	bucket, key, err := splitLocation(location)
	if err != nil {
		return nil, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return p.dir(bucket, key), nil
	}

	_, err = p.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return p.file(bucket, key), nil
	case statusCode(err) == nethttp.StatusForbidden:
		// Existence is unknowable; the permission query reports denied.
		return p.file(bucket, key), nil
	case statusCode(err) != nethttp.StatusNotFound:
		return nil, fmt.Errorf("failed to head s3://%s/%s: %w", bucket, key, err)
	}

	out, err := p.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s/%s/: %w", bucket, key, err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s", fsref.ErrGone, bucket, key)
	}
	return p.dir(bucket, key+"/"), nil
}

// Resolve rebuilds the handle without a round trip; a vanished object shows
// up when File is called.
func (p *Platform) Resolve(ctx context.Context, d fsref.Descriptor) (fsref.Handle, error) {
	bucket, key, err := splitLocation(d.Location)
	if err != nil {
		return nil, err
	}
	if d.Kind == fsref.KindDirectory {
		return p.dir(bucket, key), nil
	}
	return p.file(bucket, key), nil
}

func (p *Platform) file(bucket, key string) *handle {
	return &handle{p: p, bucket: bucket, key: key, kind: fsref.KindFile}
}

func (p *Platform) dir(bucket, prefix string) *handle {
	return &handle{p: p, bucket: bucket, key: prefix, kind: fsref.KindDirectory}
}

type handle struct {
	p      *Platform
	bucket string
	key    string
	kind   fsref.Kind
}

func (h *handle) Kind() fsref.Kind { return h.kind }

func (h *handle) Name() string {
	name := path.Base(strings.TrimSuffix(h.key, "/"))
	if name == "." || name == "/" {
		return h.bucket
	}
	return name
}

func (h *handle) Descriptor() fsref.Descriptor {
	return fsref.Descriptor{
		Scheme:   Scheme,
		Kind:     h.kind,
		Location: h.bucket + "/" + h.key,
		Name:     h.Name(),
	}
}

// QueryPermission probes the object (or prefix). Credentials are the user's
// consent, so the answer is never prompt.
func (h *handle) QueryPermission(ctx context.Context) (fsref.Permission, error) {
	var err error
	if h.kind == fsref.KindFile {
		_, err = h.p.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(h.bucket),
			Key:    aws.String(h.key),
		})
	} else {
		_, err = h.p.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(h.bucket),
			Prefix:  aws.String(h.key),
			MaxKeys: aws.Int32(1),
		})
	}

	switch code := statusCode(err); {
	case err == nil:
		return fsref.PermissionGranted, nil
	case code == nethttp.StatusForbidden || code == nethttp.StatusUnauthorized:
		return fsref.PermissionDenied, nil
	case code == nethttp.StatusNotFound:
		// Not a permission problem; File reports the object as gone.
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
		return nil, fmt.Errorf("%w: s3://%s/%s", fsref.ErrNotFile, h.bucket, h.key)
	}
	out, err := h.p.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key),
	})
	if err != nil {
		if statusCode(err) == nethttp.StatusNotFound {
			return nil, fmt.Errorf("%w: s3://%s/%s", fsref.ErrGone, h.bucket, h.key)
		}
		return nil, fmt.Errorf("failed to head s3://%s/%s: %w", h.bucket, h.key, err)
	}
	return &file{
		h:       h,
		size:    aws.ToInt64(out.ContentLength),
		etag:    aws.ToString(out.ETag),
		modTime: aws.ToTime(out.LastModified),
	}, nil
}

// Entries lists one level below the prefix, sub-prefixes first per page.
func (h *handle) Entries(ctx context.Context) ([]fsref.Handle, error) {
	if h.kind != fsref.KindDirectory {
		return nil, fmt.Errorf("%w: s3://%s/%s", fsref.ErrNotDirectory, h.bucket, h.key)
	}

	paginator := s3.NewListObjectsV2Paginator(h.p.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(h.bucket),
		Prefix:    aws.String(h.key),
		Delimiter: aws.String("/"),
	})

	var out []fsref.Handle
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", h.bucket, h.key, err)
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, h.p.dir(h.bucket, aws.ToString(cp.Prefix)))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Zero-byte "folder" markers.
			if key == h.key || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, h.p.file(h.bucket, key))
		}
	}
	return out, nil
}

type file struct {
	h       *handle
	size    int64
	etag    string
	modTime time.Time
}

func (f *file) Name() string       { return f.h.Name() }
func (f *file) Size() int64        { return f.size }
func (f *file) ModTime() time.Time { return f.modTime }

// Range issues a ranged GET pinned to the ETag seen by File, so a replaced
// object fails instead of mixing contents.
func (f *file) Range(ctx context.Context, off, n int64) (io.ReadCloser, error) {
	if n <= 0 || off >= f.size {
		return io.NopCloser(strings.NewReader("")), nil
	}
	n = min(n, f.size-off)

	in := &s3.GetObjectInput{
		Bucket: aws.String(f.h.bucket),
		Key:    aws.String(f.h.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	}
	if f.etag != "" {
		in.IfMatch = aws.String(f.etag)
	}

	out, err := f.h.p.api.GetObject(ctx, in)
	if err != nil {
		switch statusCode(err) {
		case nethttp.StatusNotFound, nethttp.StatusPreconditionFailed:
			return nil, fmt.Errorf("%w: s3://%s/%s", fsref.ErrGone, f.h.bucket, f.h.key)
		}
		return nil, fmt.Errorf("failed to read s3://%s/%s range %d+%d: %w", f.h.bucket, f.h.key, off, n, err)
	}
	return out.Body, nil
}
