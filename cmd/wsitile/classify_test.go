package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/wsitile/internal/locator"
)

// TestNewClassifyCmd tests the classify command creation.
func TestNewClassifyCmd(t *testing.T) {
	t.Parallel()

	cmd := NewClassifyCmd()
	if !strings.HasPrefix(cmd.Use, "classify") {
		t.Errorf("expected use to start with 'classify', got %q", cmd.Use)
	}
	for _, name := range []string{"input", "output", "format", "workers", "json", "markdown", "report", "no-catalog", "db-dir"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected %s flag", name)
		}
	}
}

// TestListTiles tests resolving the classify input.
func TestListTiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTile(t, dir, "a.png", 8)
	writeTile(t, dir, "b.png", 8)
	writeFile(t, dir, "notes.txt", "not an image")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0750); err != nil {
		t.Fatal(err)
	}
	writeTile(t, filepath.Join(dir, "sub"), "c.png", 8)

	t.Run("directory is listed without recursion", func(t *testing.T) {
		t.Parallel()

		got, err := listTiles(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 tiles, got %v", got)
		}
	})

	t.Run("single file", func(t *testing.T) {
		t.Parallel()

		got, err := listTiles(a)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0] != a {
			t.Errorf("got %v, want [%s]", got, a)
		}
	})

	t.Run("missing input", func(t *testing.T) {
		t.Parallel()

		_, err := listTiles(filepath.Join(dir, "missing"))
		var de *locator.DiscoveryError
		if !errors.As(err, &de) {
			t.Errorf("expected DiscoveryError, got %v", err)
		}
	})
}

// TestRunClassifyCmd tests bucketing tile files through the command line.
func TestRunClassifyCmd(t *testing.T) {
	t.Parallel()

	t.Run("blank tiles land in the zero bucket", func(t *testing.T) {
		t.Parallel()

		in := t.TempDir()
		out := filepath.Join(t.TempDir(), "buckets")
		writeTile(t, in, "a.png", 128)
		writeTile(t, in, "b.png", 128)

		output, err := executeCmd(t, "classify", "-i", in, "-o", out, "--no-catalog")
		if err != nil {
			t.Fatalf("unexpected error: %v\n%s", err, output)
		}

		for _, name := range []string{"a_nuc0.png", "b_nuc0.png"} {
			if _, err := os.Stat(filepath.Join(out, "0", name)); err != nil {
				t.Errorf("expected %s in bucket 0: %v", name, err)
			}
		}
		if !strings.Contains(output, "WSITILE CLASSIFY REPORT") {
			t.Errorf("expected report, got:\n%s", output)
		}
	})

	t.Run("corrupt tile fails alone", func(t *testing.T) {
		t.Parallel()

		in := t.TempDir()
		out := t.TempDir()
		writeTile(t, in, "a.png", 128)
		writeFile(t, in, "broken.png", "not a png")

		output, err := executeCmd(t, "classify", in, "-o", out, "--no-catalog")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "broken.png | failed") {
			t.Errorf("expected failed tile line, got:\n%s", output)
		}
		if _, err := os.Stat(filepath.Join(out, "0", "a_nuc0.png")); err != nil {
			t.Errorf("expected readable tile to be classified: %v", err)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		t.Parallel()

		output, err := executeCmd(t, "classify", "-i", t.TempDir(), "-o", t.TempDir(), "--no-catalog")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "No tile images found") {
			t.Errorf("expected empty message, got:\n%s", output)
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		t.Parallel()

		_, err := executeCmd(t, "classify", "-i", t.TempDir(), "-o", t.TempDir(), "-f", "gif", "--no-catalog")
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}
