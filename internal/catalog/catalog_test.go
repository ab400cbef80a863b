package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/wsitile/internal/model"
)

// setupTestCatalog creates a temporary catalog for testing.
func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func tileReport(input string) *model.BatchReport {
	r := model.NewBatchReport(model.RunTile, input, "/out")
	r.Scale = 0.5
	ok := model.Succeeded("/slides/145_12.tif")
	ok.Tiles = 4
	r.Add(ok)
	r.Add(model.Failed("/slides/146_01.tif", errors.New("unreadable")))
	r.AddBucketTally(map[string]int{"0": 3, "1-10": 1})
	r.Finish()
	return r
}

func storedJob(name string, x int, count int, bucket string) *model.TileJob {
	job := model.NewTileJob(name)
	job.Tile = &model.Tile{Slide: "145_12", Scale: 0.5, Origin: model.Origin{X: x, Y: 0}}
	job.TilePath = filepath.Join("/out", name+".png")
	job.Digest = "d" + name
	job.Count = count
	job.Bucket = bucket
	job.OutputPath = filepath.Join("/buckets", bucket, name+".png")
	job.CountElapsed = 12 * time.Millisecond
	job.Advance(model.TileStateStored)
	return job
}

// TestOpen tests catalog opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates catalog in new directory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "data", "wsitile")
		c, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open catalog: %v", err)
		}
		defer c.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("catalog file was not created: %v", err)
		}
		if c.Path() != filepath.Join(dir, FileName) {
			t.Errorf("Path() = %q", c.Path())
		}
	})

	t.Run("CreateIfNotExists=false returns error when catalog does not exist", func(t *testing.T) {
		t.Parallel()

		_, err := Open(filepath.Join(t.TempDir(), "missing"), Options{CreateIfNotExists: false})
		if err == nil {
			t.Fatal("expected error for missing catalog")
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist, got %v", err)
		}
	})

	t.Run("reopens existing catalog", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		c, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open catalog: %v", err)
		}
		if _, err := c.SaveRun(context.Background(), tileReport("/slides")); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
		_ = c.Close()

		c, err = Open(dir, Options{CreateIfNotExists: false, EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen catalog: %v", err)
		}
		defer c.Close()

		runs, err := c.ListRuns(context.Background(), 0)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 1 {
			t.Errorf("expected 1 run, got %d", len(runs))
		}
	})
}

// TestSaveAndGetRun tests storing and loading full reports.
func TestSaveAndGetRun(t *testing.T) {
	t.Parallel()

	c := setupTestCatalog(t)
	ctx := context.Background()

	report := tileReport("/slides")
	id, err := c.SaveRun(ctx, report)
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := c.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected report, got nil")
	}
	if got.Kind != model.RunTile || got.Input != "/slides" || got.Scale != 0.5 {
		t.Errorf("unexpected report header: %+v", got)
	}
	if len(got.Outcomes) != 2 || got.Outcomes[1].Status != model.OutcomeFailed {
		t.Errorf("unexpected outcomes: %+v", got.Outcomes)
	}
	if got.Buckets["0"] != 3 {
		t.Errorf("Buckets = %v", got.Buckets)
	}

	missing, err := c.GetRun(ctx, id+100)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown run, got %+v", missing)
	}
}

// TestListRuns tests the history listing.
func TestListRuns(t *testing.T) {
	t.Parallel()

	c := setupTestCatalog(t)
	ctx := context.Background()

	for _, input := range []string{"/a", "/b", "/c"} {
		if _, err := c.SaveRun(ctx, tileReport(input)); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}
	classifyRun := model.NewBatchReport(model.RunClassify, "/tiles", "/buckets")
	classifyRun.Cancelled = true
	classifyRun.Finish()
	if _, err := c.SaveRun(ctx, classifyRun); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	t.Run("most recent first", func(t *testing.T) {
		t.Parallel()

		runs, err := c.ListRuns(ctx, 0)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 4 {
			t.Fatalf("expected 4 runs, got %d", len(runs))
		}
		if runs[0].Kind != model.RunClassify || !runs[0].Cancelled {
			t.Errorf("unexpected newest run: %+v", runs[0])
		}
		if runs[3].Input != "/a" {
			t.Errorf("oldest input = %q, want /a", runs[3].Input)
		}
		if runs[3].Summary.Total != 2 || runs[3].Summary.Failed != 1 || runs[3].Summary.Tiles != 4 {
			t.Errorf("unexpected summary: %+v", runs[3].Summary)
		}
		if runs[3].Timestamp.IsZero() {
			t.Error("expected timestamp to be parsed")
		}
	})

	t.Run("limit", func(t *testing.T) {
		t.Parallel()

		runs, err := c.ListRuns(ctx, 2)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) != 2 {
			t.Errorf("expected 2 runs, got %d", len(runs))
		}
	})
}

// TestRecordTiles tests tile records and digest lookup.
func TestRecordTiles(t *testing.T) {
	t.Parallel()

	c := setupTestCatalog(t)
	ctx := context.Background()

	first, err := c.SaveRun(ctx, tileReport("/slides"))
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	jobs := []*model.TileJob{
		storedJob("145_12_x0.5_0_0", 0, 0, "0"),
		storedJob("145_12_x0.5_1024_0", 1024, 5, "1-10"),
		model.NewTileJob("never-written"),
	}
	if err := c.RecordTiles(ctx, first, jobs); err != nil {
		t.Fatalf("RecordTiles() error = %v", err)
	}

	tiles, err := c.TilesForRun(ctx, first)
	if err != nil {
		t.Fatalf("TilesForRun() error = %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("expected 2 tiles, got %d", len(tiles))
	}
	if tiles[1].Origin.X != 1024 || tiles[1].Slide != "145_12" || tiles[1].Scale != 0.5 {
		t.Errorf("unexpected tile: %+v", tiles[1])
	}

	// Re-running over the same output moves the tile to the new run.
	second, err := c.SaveRun(ctx, tileReport("/slides"))
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := c.RecordTiles(ctx, second, jobs[:1]); err != nil {
		t.Fatalf("RecordTiles() error = %v", err)
	}

	byDigest, err := c.TilesByDigest(ctx, "d145_12_x0.5_0_0")
	if err != nil {
		t.Fatalf("TilesByDigest() error = %v", err)
	}
	if len(byDigest) != 1 || byDigest[0].RunID != second {
		t.Errorf("unexpected digest lookup: %+v", byDigest)
	}
}

// TestRecordClassifications tests bucket counts per run.
func TestRecordClassifications(t *testing.T) {
	t.Parallel()

	c := setupTestCatalog(t)
	ctx := context.Background()

	id, err := c.SaveRun(ctx, model.NewBatchReport(model.RunClassify, "/tiles", "/buckets"))
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	unfinished := model.NewTileJob("half-done")
	unfinished.Advance(model.TileStateCounted)

	jobs := []*model.TileJob{
		storedJob("a", 0, 0, "0"),
		storedJob("b", 1, 0, "0"),
		storedJob("c", 2, 150, "100+"),
		unfinished,
	}
	if err := c.RecordClassifications(ctx, id, jobs); err != nil {
		t.Fatalf("RecordClassifications() error = %v", err)
	}

	counts, err := c.BucketCounts(ctx, id)
	if err != nil {
		t.Fatalf("BucketCounts() error = %v", err)
	}
	if counts["0"] != 2 || counts["100+"] != 1 || len(counts) != 2 {
		t.Errorf("BucketCounts() = %v", counts)
	}
}

// TestParseTimestamp tests timestamp parsing across SQLite formats.
func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		zero  bool
	}{
		{name: "sqlite default", input: "2026-10-19 08:30:00"},
		{name: "rfc3339", input: "2026-10-19T08:30:00Z"},
		{name: "rfc3339 nano", input: "2026-10-19T08:30:00.123456789+02:00"},
		{name: "garbage", input: "yesterday", zero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseTimestamp(tt.input)
			if got.IsZero() != tt.zero {
				t.Errorf("parseTimestamp(%q) = %v", tt.input, got)
			}
		})
	}
}
