package localfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rescale/upsess/internal/fsref"
)

func TestIsHiddenName(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{".hidden", true},
		{".gitignore", true},
		{"visible.txt", false},
		{"normal", false},
		{"..", false}, // Parent dir reference starts with . but is special
		{".", false},  // Current dir reference
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsHiddenName(tt.name)
			if result != tt.expected {
				t.Errorf("IsHiddenName(%q) = %v, want %v", tt.name, result, tt.expected)
			}
		})
	}
}

func names(handles []fsref.Handle) []string {
	out := make([]string, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Name())
	}
	sort.Strings(out)
	return out
}

func TestEntries(t *testing.T) {
	tmpDir := t.TempDir()

	testFiles := []string{"visible.txt", ".hidden", "another.txt", ".gitignore"}
	for _, f := range testFiles {
		if err := os.WriteFile(filepath.Join(tmpDir, f), []byte("test"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, ".hiddendir"), 0755); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	t.Run("exclude hidden", func(t *testing.T) {
		dir, err := New(Options{}).Parse(ctx, tmpDir)
		if err != nil {
			t.Fatal(err)
		}
		entries, err := dir.Entries(ctx)
		if err != nil {
			t.Fatal(err)
		}
		got := names(entries)
		want := []string{"another.txt", "subdir", "visible.txt"}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("include hidden", func(t *testing.T) {
		dir, err := New(Options{IncludeHidden: true}).Parse(ctx, tmpDir)
		if err != nil {
			t.Fatal(err)
		}
		entries, err := dir.Entries(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 6 {
			t.Errorf("got %d entries, want 6", len(entries))
		}
		for _, e := range entries {
			wantDir := e.Name() == "subdir" || e.Name() == ".hiddendir"
			if (e.Kind() == fsref.KindDirectory) != wantDir {
				t.Errorf("entry %q has kind %s", e.Name(), e.Kind())
			}
			if e.Descriptor().Location != filepath.Join(tmpDir, e.Name()) {
				t.Errorf("entry %q has location %q", e.Name(), e.Descriptor().Location)
			}
		}
	})

	t.Run("file has no entries", func(t *testing.T) {
		f, err := New(Options{}).Parse(ctx, filepath.Join(tmpDir, "visible.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Entries(ctx); !errors.Is(err, fsref.ErrNotDirectory) {
			t.Errorf("Entries on file: err = %v, want ErrNotDirectory", err)
		}
	})

	t.Run("nonexistent path", func(t *testing.T) {
		_, err := New(Options{}).Parse(ctx, "/nonexistent/path")
		if !errors.Is(err, fsref.ErrGone) {
			t.Errorf("err = %v, want ErrGone", err)
		}
	})
}

func TestPermissionFlow(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var asked int
	p := New(Options{Prompter: PrompterFunc(func(ctx context.Context, d fsref.Descriptor) (bool, error) {
		asked++
		return d.Name == "data.bin", nil
	})})

	h, err := p.Parse(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if perm, _ := h.QueryPermission(ctx); perm != fsref.PermissionPrompt {
		t.Fatalf("initial permission = %s, want prompt", perm)
	}
	if perm, _ := h.RequestPermission(ctx); perm != fsref.PermissionGranted {
		t.Fatalf("requested permission = %s, want granted", perm)
	}
	if perm, _ := h.QueryPermission(ctx); perm != fsref.PermissionGranted {
		t.Errorf("permission after grant = %s, want granted", perm)
	}
	if asked != 1 {
		t.Errorf("prompter asked %d times, want 1", asked)
	}

	// A fresh handle for the same path starts over.
	again, err := p.Resolve(ctx, h.Descriptor())
	if err != nil {
		t.Fatal(err)
	}
	if perm, _ := again.QueryPermission(ctx); perm != fsref.PermissionPrompt {
		t.Errorf("resolved handle permission = %s, want prompt", perm)
	}
}

func TestMissingPathIsNotAPermissionProblem(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gone.bin")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	h, err := New(Options{}).Parse(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	perm, err := h.QueryPermission(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if perm != fsref.PermissionGranted {
		t.Errorf("permission = %s, want granted", perm)
	}
	if _, err := h.File(ctx); !errors.Is(err, fsref.ErrGone) {
		t.Errorf("File: err = %v, want ErrGone", err)
	}
}

func TestDefaultPrompterDenies(t *testing.T) {
	ctx := context.Background()
	h, err := New(Options{}).Parse(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if perm, _ := h.RequestPermission(ctx); perm != fsref.PermissionDenied {
		t.Errorf("permission = %s, want denied", perm)
	}
}

func TestUnreadableIsDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("x"), 0000); err != nil {
		t.Fatal(err)
	}
	h, err := New(Options{Prompter: AllowAll}).Parse(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if perm, _ := h.QueryPermission(ctx); perm != fsref.PermissionDenied {
		t.Errorf("permission = %s, want denied", perm)
	}
	if perm, _ := h.RequestPermission(ctx); perm != fsref.PermissionDenied {
		t.Errorf("requested permission = %s, want denied", perm)
	}
}

func TestFileRange(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}

	h, err := New(Options{}).Parse(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := h.File(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Size() != 10 {
		t.Fatalf("size = %d, want 10", f.Size())
	}

	rc, err := f.Range(ctx, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "23456" {
		t.Errorf("range = %q, want %q", got, "23456")
	}

	// Rewriting the file invalidates the snapshot.
	if err := os.WriteFile(path, []byte("0123456789abc"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Range(ctx, 0, 1); !errors.Is(err, fsref.ErrGone) {
		t.Errorf("range after rewrite: err = %v, want ErrGone", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := h.File(ctx); !errors.Is(err, fsref.ErrGone) {
		t.Errorf("File after delete: err = %v, want ErrGone", err)
	}
}

func TestResolveKindChanged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "thing")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	h, err := New(Options{}).Parse(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	d := h.Descriptor()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{}).Resolve(ctx, d); !errors.Is(err, fsref.ErrGone) {
		t.Errorf("err = %v, want ErrGone", err)
	}
}
