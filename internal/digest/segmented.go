package digest

import (
	"hash"

	"github.com/rescale/upsess/internal/constants"
)

// SegmentSize returns the segment length the segmented SHA-1 uses for a file of
// the given total size. It is a non-decreasing step function with breakpoints at
// 128MiB, 256MiB and 512MiB.
func SegmentSize(size int64) int64 {
	switch {
	case size <= constants.SegmentBreak1:
		return constants.SegmentSizeSmall
	case size <= constants.SegmentBreak2:
		return constants.SegmentSizeMedium
	case size <= constants.SegmentBreak3:
		return constants.SegmentSizeLarge
	default:
		return constants.SegmentSizeHuge
	}
}

// segmented hashes each segment on its own and feeds the binary segment
// digests into a second SHA-1. Sum returns the raw outer digest; callers
// upper-case the hex form.
type segmented struct {
	segSize int64
	segHash hash.Hash // current segment
	outer   hash.Hash // hash of segment digests
	n       int64     // bytes written into current segment
	newSHA1 func() hash.Hash
	scratch []byte
}

// NewSegmentedSHA1 returns the segmented SHA-1 for a file of totalSize bytes.
// The segment size is fixed up front from totalSize, so the caller must know
// the size before hashing. newSHA1 picks the SHA-1 implementation; nil means the
// pure one.
func NewSegmentedSHA1(totalSize int64, newSHA1 func() hash.Hash) hash.Hash {
	if newSHA1 == nil {
		newSHA1 = NewSHA1
	}
	s := &segmented{
		segSize: SegmentSize(totalSize),
		newSHA1: newSHA1,
		scratch: make([]byte, 0, sha1Size),
	}
	s.Reset()
	return s
}

func (s *segmented) Reset() {
	s.n = 0
	s.segHash = s.newSHA1()
	s.outer = s.newSHA1()
}

func (s *segmented) Size() int { return sha1Size }

func (s *segmented) BlockSize() int { return sha1BlockSize }

// flushSegment writes the finished segment digest into the outer hash.
func (s *segmented) flushSegment() {
	s.scratch = s.segHash.Sum(s.scratch[:0])
	s.outer.Write(s.scratch)
	s.segHash.Reset()
	s.n = 0
}

func (s *segmented) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		toWrite := min(int64(len(p)), s.segSize-s.n)
		s.segHash.Write(p[:toWrite])
		s.n += toWrite
		p = p[toWrite:]
		if s.n >= s.segSize {
			s.flushSegment()
		}
	}
	return n, nil
}

// Sum folds a trailing partial segment into a copy of the outer state, leaving
// the running hash untouched.
func (s *segmented) Sum(in []byte) []byte {
	if s.n == 0 {
		return s.outer.Sum(in)
	}
	outer := cloneHash(s.outer, s.newSHA1)
	outer.Write(s.segHash.Sum(nil))
	return outer.Sum(in)
}
