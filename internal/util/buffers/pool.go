package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/rescale/upsess/internal/constants"
)

// Pool provides reusable byte buffers for the two fixed-size windows the engine
// works in: hashing steps (HashChunkSize) and read quanta (ReadQuantum).

// Pool monitoring counters
var (
	hashAllocations    int64 // Total hash buffer allocations (new creates)
	quantumAllocations int64 // Total quantum buffer allocations
)

var (
	// hashPool provides 4MB buffers for one hashing step
	hashPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&hashAllocations, 1)
			buf := make([]byte, constants.HashChunkSize)
			return &buf
		},
	}

	// quantumPool provides 512KB buffers for encoded chunk reads
	quantumPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&quantumAllocations, 1)
			buf := make([]byte, constants.ReadQuantum)
			return &buf
		},
	}
)

// GetHashBuffer retrieves a HashChunkSize buffer from the pool.
// The buffer must be returned with PutHashBuffer when done.
//
// Usage:
//
//	buf := buffers.GetHashBuffer()
//	defer buffers.PutHashBuffer(buf)
//	n, err := src.ReadAt(*buf, off)
//	// Use (*buf)[:n] for actual data
func GetHashBuffer() *[]byte {
	return hashPool.Get().(*[]byte)
}

// PutHashBuffer returns a buffer to the pool for reuse.
// Only buffers of the correct size are pooled. The buffer is cleared first so
// file contents do not linger across sessions.
func PutHashBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.HashChunkSize {
		clear(*buf)
		hashPool.Put(buf)
	}
}

// GetQuantumBuffer retrieves a ReadQuantum buffer from the pool.
func GetQuantumBuffer() *[]byte {
	return quantumPool.Get().(*[]byte)
}

// PutQuantumBuffer returns a quantum buffer to the pool for reuse.
// Only buffers of the correct size are pooled.
func PutQuantumBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.ReadQuantum {
		clear(*buf)
		quantumPool.Put(buf)
	}
}

// Stats returns current buffer pool statistics
type Stats struct {
	HashBufferSize     int   // Size of hash buffers (bytes)
	QuantumBufferSize  int   // Size of quantum buffers (bytes)
	HashAllocations    int64 // Total hash buffer allocations (new creates)
	QuantumAllocations int64 // Total quantum buffer allocations (new creates)
}

// GetStats returns current buffer pool statistics
func GetStats() Stats {
	return Stats{
		HashBufferSize:     constants.HashChunkSize,
		QuantumBufferSize:  constants.ReadQuantum,
		HashAllocations:    atomic.LoadInt64(&hashAllocations),
		QuantumAllocations: atomic.LoadInt64(&quantumAllocations),
	}
}
