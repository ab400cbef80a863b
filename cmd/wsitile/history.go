package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/nao1215/wsitile/internal/catalog"
	"github.com/nao1215/wsitile/internal/classify"
	"github.com/nao1215/wsitile/internal/config"
	"github.com/nao1215/wsitile/internal/report"
	"github.com/spf13/cobra"
)

// defaultHistoryLimit is the number of runs listed when --limit is not given.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
// This command reads runs recorded in the catalog by tile, classify and augment.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous runs from the run catalog",
		Long: `History shows the runs recorded in the catalog, newest first, with
their outcome counts, tiles written and bucket distribution.

Examples:
  # List the last 20 runs
  wsitile history

  # Show one run in full
  wsitile history --run 12

  # Find every recorded tile with the same content
  wsitile history --digest 5f1c...

  # Runs as JSON
  wsitile history --limit 0 --json`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", defaultHistoryLimit,
		"Number of runs to list (0 for all)")
	cmd.Flags().Int64("run", 0,
		"Show the full report of the run with this ID")
	cmd.Flags().String("digest", "",
		"List recorded tiles whose content has this BLAKE2b-256 digest")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON instead of text")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory holding the run catalog")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	runID, err := cmd.Flags().GetInt64("run")
	if err != nil {
		return err
	}
	digest, err := cmd.Flags().GetString("digest")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}

	// Validate arguments before opening the catalog.
	if limit < 0 {
		return errors.New("invalid limit: must be non-negative")
	}
	if runID < 0 {
		return errors.New("invalid run ID: must be positive")
	}

	db, err := catalog.Open(dbDir, catalog.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	switch {
	case digest != "":
		return showDigest(ctx, db, digest, out)
	case runID > 0:
		return showRun(ctx, db, runID, jsonOutput, out)
	default:
		return listRuns(ctx, db, limit, jsonOutput, out)
	}
}

// listRuns prints the most recent runs.
func listRuns(ctx context.Context, db *catalog.Catalog, limit int, jsonOutput bool, out io.Writer) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found in the catalog.")
		fmt.Fprintln(out, "\nUse 'wsitile tile' or 'wsitile classify' to record a run.")
		return nil
	}

	fmt.Fprintf(out, "Run history (%d runs):\n\n", len(runs))
	fmt.Fprintf(out, "  %-6s  %-19s  %-8s  %-14s  %-7s  %-28s  %s\n",
		"ID", "Date", "Kind", "OK/Skip/Fail", "Tiles", "Buckets", "Input")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 100))

	for _, run := range runs {
		kind := string(run.Kind)
		if run.Cancelled {
			kind += "*"
		}
		fmt.Fprintf(out, "  %-6d  %-19s  %-8s  %-14s  %-7d  %-28s  %s\n",
			run.ID,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			kind,
			fmt.Sprintf("%d/%d/%d", run.Summary.Succeeded, run.Summary.Skipped, run.Summary.Failed),
			run.Summary.Tiles,
			formatBuckets(run.Summary.Buckets),
			run.Input,
		)
	}

	fmt.Fprintln(out, "\n* cancelled before the end")
	fmt.Fprintln(out, "Use 'wsitile history --run <id>' to see a run in full.")
	return nil
}

// showRun prints the stored report of one run plus what the catalog
// recorded about its tiles.
func showRun(ctx context.Context, db *catalog.Catalog, id int64, jsonOutput bool, out io.Writer) error {
	rep, err := db.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run %d: %w", id, err)
	}
	if rep == nil {
		return fmt.Errorf("run %d not found", id)
	}

	if jsonOutput {
		_, err := report.NewJSONWriter(out, report.WithPrettyPrint()).Write(rep)
		return err
	}

	if _, err := report.NewSimpleWriter(out, report.WithVerbose(true)).Write(rep); err != nil {
		return err
	}

	tiles, err := db.TilesForRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get tiles of run %d: %w", id, err)
	}
	counts, err := db.BucketCounts(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get classifications of run %d: %w", id, err)
	}

	fmt.Fprintf(out, "\nCatalog: %d tiles recorded", len(tiles))
	if len(counts) > 0 {
		fmt.Fprintf(out, ", classified as %s", formatBuckets(counts))
	}
	fmt.Fprintln(out)
	return nil
}

// showDigest lists recorded tiles with the given content digest.
func showDigest(ctx context.Context, db *catalog.Catalog, digest string, out io.Writer) error {
	tiles, err := db.TilesByDigest(ctx, strings.ToLower(digest))
	if err != nil {
		return fmt.Errorf("failed to look up digest: %w", err)
	}
	if len(tiles) == 0 {
		fmt.Fprintf(out, "No tiles with digest %s\n", digest)
		return nil
	}

	fmt.Fprintf(out, "Tiles with digest %s (%d):\n\n", digest, len(tiles))
	for _, t := range tiles {
		fmt.Fprintf(out, "  run %-6d  %s  (slide %s, origin %s, x%g)\n", t.RunID, t.Path, t.Slide, t.Origin, t.Scale)
	}
	return nil
}

// formatBuckets renders bucket counts in threshold order, e.g. "0:12 1-10:3".
// Names not among the default buckets follow in lexical order.
func formatBuckets(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}

	names := classify.DefaultBuckets().Names()
	var extra []string
	for name := range counts {
		if !slices.Contains(names, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	parts := make([]string, 0, len(counts))
	for _, name := range names {
		if n, ok := counts[name]; ok {
			parts = append(parts, fmt.Sprintf("%s:%d", name, n))
		}
	}
	return strings.Join(parts, " ")
}
