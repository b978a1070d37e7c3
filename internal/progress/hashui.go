package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

var _ MultiUI = (*HashUI)(nil)

// HashUI manages one progress bar per session being hashed using mpb
type HashUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	totalFiles int
	started    int32 // Atomic counter for file index (1, 2, 3, ...)
	completed  int32
}

// FileBar represents a single session's hash progress bar
type FileBar struct {
	bar       *mpb.Bar
	ui        *HashUI
	index     int
	name      string
	size      int64
	startTime time.Time
	lastBytes int64
}

// NewHashUI creates a new UI for totalFiles sessions. Bars are drawn only
// when out is a terminal; otherwise one line per event is printed.
func NewHashUI(totalFiles int, out io.Writer) *HashUI {
	isTerminal := false
	if f, ok := out.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
		if isTerminal {
			// Enable ANSI escape sequences on Windows for proper progress bar rendering
			enableANSIOnWindows(f)
		}
	}

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond), // ~3 times per second
			mpb.WithWidth(100),
		)
	} else {
		// Non-TTY: disable progress bars, just use text output
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &HashUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFileBar creates a new progress bar for a session
func (u *HashUI) AddFileBar(name string, size int64) FileBarHandle {
	index := int(atomic.AddInt32(&u.started, 1))
	label := truncatePath(name, 2)

	fb := &FileBar{
		ui:        u,
		index:     index,
		name:      name,
		size:      size,
		startTime: time.Now(),
	}

	if u.isTerminal {
		fb.bar = u.progress.New(size,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("[%d/%d] %s (%.1f MiB)",
					index, u.totalFiles, label, float64(size)/(1024*1024)), decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(u.out, "Hashing [%d/%d]: %s (%.1f MiB)\n",
			index, u.totalFiles, label, float64(size)/(1024*1024))
	}
	return fb
}

// UpdateProgress moves the bar to fraction of the session size.
func (f *FileBar) UpdateProgress(fraction float64) {
	if f.bar == nil {
		return
	}
	current := int64(fraction * float64(f.size))
	if current > f.lastBytes {
		f.bar.IncrInt64(current - f.lastBytes)
		f.lastBytes = current
	}
}

// Complete marks the session as hashed and prints a summary
func (f *FileBar) Complete(digest string, err error) {
	elapsed := time.Since(f.startTime)

	var msg string
	if err == nil {
		if f.bar != nil {
			// ENSURE exact 100% completion (no rounding errors)
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(f.size, true)
		}
		msg = fmt.Sprintf("✓ %s %s (%s)\n", truncatePath(f.name, 2), digest, elapsed.Round(time.Millisecond))
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v\n", truncatePath(f.name, 2), err)
	}

	// Write through mpb's writer (not stdout) to avoid triggering redraws
	fmt.Fprint(f.ui.Writer(), msg)
	atomic.AddInt32(&f.ui.completed, 1)
}

// Completed returns how many bars have finished.
func (u *HashUI) Completed() int {
	return int(atomic.LoadInt32(&u.completed))
}

// Wait blocks until all progress bars complete
func (u *HashUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that safely prints above the progress bars
func (u *HashUI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if output is to a terminal (progress bars are active).
func (u *HashUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return path
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}

// enableANSIOnWindows enables Virtual Terminal processing on Windows for ANSI escape sequences
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
