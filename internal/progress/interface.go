package progress

import "io"

// MultiUI shows one bar per session while several sessions are hashed.
type MultiUI interface {
	// AddFileBar creates a new progress bar for a session
	AddFileBar(name string, size int64) FileBarHandle

	// Wait blocks until all progress bars complete
	Wait()

	// Writer returns an io.Writer that safely outputs above the progress bars.
	Writer() io.Writer

	// IsTerminal returns true if output is to a terminal (progress bars are active)
	IsTerminal() bool
}

// FileBarHandle represents a handle to a single session's progress bar
type FileBarHandle interface {
	// UpdateProgress updates the progress bar based on a fraction (0.0 to 1.0)
	UpdateProgress(fraction float64)

	// Complete marks the operation as finished and prints a summary
	Complete(digest string, err error)
}
