// Package progress renders hash progress on the terminal: a single
// progressbar/v3 bar for one session, or mpb multi-bars for a batch.
package progress

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

// Single tracks one session. The hasher reports fractions in (0, 1].
type Single interface {
	Fraction(f float64)
	Done()
	Fail(err error)
}

// Bar is a Single drawn with progressbar/v3.
type Bar struct {
	bar   *progressbar.ProgressBar
	out   io.Writer
	total int64
}

// NewBar starts a byte bar of total bytes labelled with label.
func NewBar(out io.Writer, total int64, label string) *Bar {
	b := &Bar{out: out, total: total}
	b.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	return b
}

func (b *Bar) Fraction(f float64) {
	_ = b.bar.Set64(int64(f * float64(b.total)))
}

// Done fills the bar.
func (b *Bar) Done() {
	_ = b.bar.Finish()
}

func (b *Bar) Fail(err error) {
	if err != nil {
		fmt.Fprintf(b.out, "\nError: %v\n", err)
	}
}

// Silent is a Single that draws nothing (--quiet).
type Silent struct{}

func (Silent) Fraction(float64) {}
func (Silent) Done()            {}
func (Silent) Fail(error)       {}
