package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/wsitile/internal/catalog"
	"github.com/nao1215/wsitile/internal/tiler"
)

// TestRunHistoryCmd tests reading runs back from the catalog.
func TestRunHistoryCmd(t *testing.T) {
	t.Parallel()

	dbDir := t.TempDir()
	in := t.TempDir()
	out := t.TempDir()
	buckets := t.TempDir()
	writeSlide(t, in, "145_12.tif", 1100, 1100)

	if _, err := executeCmd(t, "tile", "-i", in, "-o", out, "-s", "1", "--classify-to", buckets, "--db-dir", dbDir); err != nil {
		t.Fatalf("tile run failed: %v", err)
	}

	t.Run("lists runs", func(t *testing.T) {
		t.Parallel()

		output, err := executeCmd(t, "history", "--db-dir", dbDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "Run history (1 runs)") {
			t.Errorf("expected one run, got:\n%s", output)
		}
		if !strings.Contains(output, "0:1") {
			t.Errorf("expected bucket tally, got:\n%s", output)
		}
	})

	t.Run("lists runs as JSON", func(t *testing.T) {
		t.Parallel()

		output, err := executeCmd(t, "history", "--db-dir", dbDir, "--json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var runs []catalog.RunMetadata
		if err := json.Unmarshal([]byte(output), &runs); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(runs) != 1 || runs[0].Input != in {
			t.Errorf("unexpected runs: %+v", runs)
		}
	})

	t.Run("shows one run", func(t *testing.T) {
		t.Parallel()

		output, err := executeCmd(t, "history", "--db-dir", dbDir, "--run", "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "Catalog: 1 tiles recorded, classified as 0:1") {
			t.Errorf("expected catalog line, got:\n%s", output)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		t.Parallel()

		_, err := executeCmd(t, "history", "--db-dir", dbDir, "--run", "99")
		if err == nil || !strings.Contains(err.Error(), "not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("finds tiles by digest", func(t *testing.T) {
		t.Parallel()

		digest, err := tiler.Digest(filepath.Join(out, "145_12_x1.0_0_0.png"))
		if err != nil {
			t.Fatalf("Digest() error = %v", err)
		}

		output, err := executeCmd(t, "history", "--db-dir", dbDir, "--digest", strings.ToUpper(digest))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(output, "(slide 145_12, origin (0,0), x1)") {
			t.Errorf("expected tile line, got:\n%s", output)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		t.Parallel()

		if _, err := executeCmd(t, "history", "--db-dir", dbDir, "--limit", "-1"); err == nil {
			t.Error("expected error for negative limit")
		}
	})
}

// TestRunHistoryCmdEmpty tests an empty catalog.
func TestRunHistoryCmdEmpty(t *testing.T) {
	t.Parallel()

	output, err := executeCmd(t, "history", "--db-dir", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "No runs found in the catalog.") {
		t.Errorf("expected empty message, got:\n%s", output)
	}
}

// TestFormatBuckets tests the bucket tally rendering.
func TestFormatBuckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		counts map[string]int
		want   string
	}{
		{name: "empty", counts: nil, want: "-"},
		{name: "threshold order", counts: map[string]int{"100+": 1, "0": 5, "1-10": 2}, want: "0:5 1-10:2 100+:1"},
		{name: "unknown names last", counts: map[string]int{"zz": 1, "aa": 2, "0": 3}, want: "0:3 aa:2 zz:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := formatBuckets(tt.counts); got != tt.want {
				t.Errorf("formatBuckets() = %q, want %q", got, tt.want)
			}
		})
	}
}
