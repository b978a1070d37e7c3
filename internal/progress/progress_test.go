package progress

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBarDrawsToWriter(t *testing.T) {
	var out bytes.Buffer
	bar := NewBar(&out, 1000, "Hashing a.bin")
	bar.Fraction(0.5)
	bar.Done()
	assert.Contains(t, out.String(), "Hashing a.bin")

	out.Reset()
	bar.Fail(errors.New("boom"))
	assert.Contains(t, out.String(), "Error: boom")
}

func TestSilentIsSingle(t *testing.T) {
	var s Single = Silent{}
	s.Fraction(0.5)
	s.Done()
	s.Fail(errors.New("ignored"))
}

func TestHashUINonTerminal(t *testing.T) {
	var out bytes.Buffer
	ui := NewHashUI(2, &out)
	assert.False(t, ui.IsTerminal())
	assert.Equal(t, &out, ui.Writer())

	a := ui.AddFileBar("/data/project/a.bin", 2<<20)
	b := ui.AddFileBar("b.bin", 10)
	a.UpdateProgress(0.5)
	a.Complete("900150983cd24fb0d6963f7d28e17f72", nil)
	b.Complete("", errors.New("canceled"))
	ui.Wait()

	text := out.String()
	assert.Contains(t, text, "Hashing [1/2]: …/project/a.bin (2.0 MiB)")
	assert.Contains(t, text, "Hashing [2/2]: b.bin")
	assert.Contains(t, text, "✓ …/project/a.bin 900150983cd24fb0d6963f7d28e17f72")
	assert.Contains(t, text, "✗ b.bin: canceled")
	assert.Equal(t, 2, ui.Completed())
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "file.txt", truncatePath("file.txt", 2))
	assert.Equal(t, "d/file.txt", truncatePath("d/file.txt", 2))
	assert.Equal(t, "…/c/d/file.txt", truncatePath("/a/b/c/d/file.txt", 3))
}
