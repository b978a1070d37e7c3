// Package constants holds the size thresholds and tuning values shared by the
// session engine packages.
package constants

import (
	"time"
)

// Session thresholds
const (
	// InMemoryThreshold - files below this size are buffered in full when a session
	// is created (128 MiB). Larger files keep only the lazy reference and are read
	// window by window.
	InMemoryThreshold = 128 * 1024 * 1024

	// ReadQuantum - default window for Chunk Reader requests with no length (512 KiB)
	// Also the unit of read coverage tracking.
	ReadQuantum = 512 * 1024
)

// Hashing
const (
	// HashChunkSize - bytes read from a session per hashing step (4 MiB)
	// A cooperative checkpoint runs after every step, so this bounds the time
	// a hash holds the thread between yields.
	HashChunkSize = 4 * 1024 * 1024

	// ProgressStep - minimum bytes processed between progress reports (128 MiB)
	ProgressStep = 128 * 1024 * 1024
)

// Segmented SHA-1 segment sizes, chosen by total file size
const (
	// SegmentBreak1 - files up to this size use SegmentSizeSmall (128 MiB)
	SegmentBreak1 = 128 * 1024 * 1024

	// SegmentBreak2 - files up to this size use SegmentSizeMedium (256 MiB)
	SegmentBreak2 = 256 * 1024 * 1024

	// SegmentBreak3 - files up to this size use SegmentSizeLarge (512 MiB)
	SegmentBreak3 = 512 * 1024 * 1024

	SegmentSizeSmall  = 256 * 1024
	SegmentSizeMedium = 512 * 1024
	SegmentSizeLarge  = 1024 * 1024
	SegmentSizeHuge   = 2 * 1024 * 1024
)

// Durable store
const (
	// StoreOpenTimeout - how long to wait for the bbolt file lock (5 seconds)
	// Another upsess process holding the database blocks Open until this expires.
	StoreOpenTimeout = 5 * time.Second
)

// HTTP Client Timeouts (remote file references)
const (
	// HTTPDialTimeout - timeout for establishing TCP connections (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive interval for TCP connections (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPIdleConnTimeout - how long idle connections remain in pool (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for HTTP 100-continue (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second
)

// Retry configuration for remote reads
const (
	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second
)
