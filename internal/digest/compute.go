package digest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/rescale/upsess/internal/constants"
	"github.com/rescale/upsess/internal/coop"
	"github.com/rescale/upsess/internal/util/buffers"
)

// ErrCanceled is returned instead of a digest when hashing stops early.
var ErrCanceled = coop.ErrCanceled

// ProgressFunc receives the fraction of the input processed so far, in (0, 1].
type ProgressFunc func(fraction float64)

// Options configures Compute.
type Options struct {
	Algorithm Algorithm

	// BlockSize, when positive, also produces one digest per BlockSize window.
	// Honored for MD5 and SHA1; the segmented algorithm defines its own segments
	// and ignores it.
	BlockSize int64

	// Provider picks the MD5/SHA-1 implementation. Nil means Pure.
	Provider Provider

	// ChunkSize is the number of bytes hashed between checkpoints.
	// Zero means constants.HashChunkSize.
	ChunkSize int

	// ProgressStep is the minimum number of bytes between progress reports.
	// Zero means constants.ProgressStep.
	ProgressStep int64

	OnProgress ProgressFunc

	// Canceled is polled at every checkpoint. May be nil.
	Canceled func() bool
}

// Result is a finished digest.
type Result struct {
	Algorithm    Algorithm `json:"algorithm"`
	Digest       string    `json:"digest"`
	BlockSize    int64     `json:"blockSize,omitempty"`
	BlockDigests []string  `json:"blockDigests,omitempty"`
	Size         int64     `json:"size"`
	Provider     string    `json:"provider"`
}

// Compute hashes size bytes of src in order, one chunk per step. Between steps
// it runs a cooperative checkpoint; if the cancel poll fires or ctx ends it
// returns ErrCanceled and no result.
func Compute(ctx context.Context, src io.ReaderAt, size int64, opts Options) (*Result, error) {
	if !opts.Algorithm.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(opts.Algorithm))
	}
	if size < 0 {
		return nil, fmt.Errorf("invalid input size %d", size)
	}
	if opts.BlockSize < 0 {
		return nil, fmt.Errorf("invalid block size %d", opts.BlockSize)
	}

	provider := opts.Provider
	if provider == nil {
		provider = Pure
	}
	step := opts.ProgressStep
	if step <= 0 {
		step = constants.ProgressStep
	}

	var whole hash.Hash
	var newBlockHash func() hash.Hash
	switch opts.Algorithm {
	case MD5:
		whole = provider.NewMD5()
		newBlockHash = provider.NewMD5
	case SHA1:
		whole = provider.NewSHA1()
		newBlockHash = provider.NewSHA1
	case SegmentedSHA1:
		whole = NewSegmentedSHA1(size, provider.NewSHA1)
	}

	var blocks *blockHasher
	if opts.BlockSize > 0 && newBlockHash != nil {
		blocks = newBlockHasher(opts.BlockSize, size, newBlockHash)
	}

	buf, release := chunkBuffer(opts.ChunkSize)
	defer release()

	var done int64
	nextReport := step
	for done < size {
		if err := coop.Checkpoint(ctx, opts.Canceled); err != nil {
			return nil, err
		}

		want := min(int64(len(buf)), size-done)
		n, err := src.ReadAt(buf[:want], done)
		if int64(n) < want {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read at offset %d: %w", done, err)
		}

		whole.Write(buf[:want])
		if blocks != nil {
			blocks.Write(buf[:want])
		}
		done += want

		if opts.OnProgress != nil && done >= nextReport && done < size {
			opts.OnProgress(float64(done) / float64(size))
			for nextReport <= done {
				nextReport += step
			}
		}
	}

	// The last chunk may have raced a cancel; never hand back a digest then.
	if opts.Canceled != nil && opts.Canceled() {
		return nil, ErrCanceled
	}

	res := &Result{
		Algorithm: opts.Algorithm,
		Size:      size,
		Provider:  provider.Name(),
	}
	sum := hex.EncodeToString(whole.Sum(nil))
	if opts.Algorithm == SegmentedSHA1 {
		sum = strings.ToUpper(sum)
	}
	res.Digest = sum
	if blocks != nil {
		res.BlockSize = opts.BlockSize
		res.BlockDigests = blocks.finish()
	}

	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}
	return res, nil
}

// Bytes hashes an in-memory slice.
func Bytes(alg Algorithm, data []byte, provider Provider) (string, error) {
	res, err := Compute(context.Background(), bytesReaderAt(data), int64(len(data)), Options{
		Algorithm: alg,
		Provider:  provider,
	})
	if err != nil {
		return "", err
	}
	return res.Digest, nil
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func chunkBuffer(size int) ([]byte, func()) {
	if size <= 0 || size == constants.HashChunkSize {
		buf := buffers.GetHashBuffer()
		return *buf, func() { buffers.PutHashBuffer(buf) }
	}
	return make([]byte, size), func() {}
}
