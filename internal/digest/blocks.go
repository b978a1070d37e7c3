package digest

import (
	"encoding/hex"
	"hash"
)

// blockHasher records one hex digest per consecutive blockSize window. The
// last window may be short; an empty stream has no blocks.
type blockHasher struct {
	size    int64
	n       int64
	cur     hash.Hash
	digests []string
}

func newBlockHasher(blockSize, totalSize int64, newHash func() hash.Hash) *blockHasher {
	count := 0
	if blockSize > 0 {
		count = int((totalSize + blockSize - 1) / blockSize)
	}
	return &blockHasher{
		size:    blockSize,
		cur:     newHash(),
		digests: make([]string, 0, count),
	}
}

func (b *blockHasher) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		toWrite := min(int64(len(p)), b.size-b.n)
		b.cur.Write(p[:toWrite])
		b.n += toWrite
		p = p[toWrite:]
		if b.n == b.size {
			b.flush()
		}
	}
	return n, nil
}

func (b *blockHasher) flush() {
	b.digests = append(b.digests, hex.EncodeToString(b.cur.Sum(nil)))
	b.cur.Reset()
	b.n = 0
}

// finish closes a trailing partial block and returns all block digests.
func (b *blockHasher) finish() []string {
	if b.n > 0 {
		b.flush()
	}
	return b.digests
}
