package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nao1215/wsitile/internal/classify"
	"github.com/nao1215/wsitile/internal/config"
	"github.com/nao1215/wsitile/internal/imageio"
	"github.com/nao1215/wsitile/internal/locator"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/pipeline"
	"github.com/nao1215/wsitile/internal/report"
	"github.com/spf13/cobra"
)

// NewClassifyCmd creates the classify command.
func NewClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [input]",
		Short: "Bucket tile images by nucleus count",
		Long: `Classify counts the cell nuclei in tile images and copies each tile into
a bucket directory under the output directory:

  <output>/0/       no nuclei
  <output>/1-10/    1 to 10 nuclei
  <output>/11-100/  11 to 100 nuclei
  <output>/100+/    more than 100 nuclei

Files are named <tile>_nuc<count>.<format>. The input is a tile image or a
directory of tile images (png, tiff, jpeg or bmp). A tile that cannot be
read, counted or written is reported and the batch continues.

Examples:
  # Classify every tile written by 'wsitile tile'
  wsitile classify -i /data/tiles -o /data/buckets

  # Classify with four workers and a JSON report
  wsitile classify -i /data/tiles -o /data/buckets -w 4 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runClassifyCmd,
	}

	addInputOutputFlags(cmd,
		"Tile image or directory of tile images",
		"Directory the bucket directories are created in")
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Output image format (png or tiff)")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of tiles processed concurrently")
	addReportFlags(cmd)

	return cmd
}

// runClassifyCmd executes the classify command.
func runClassifyCmd(cmd *cobra.Command, args []string) error {
	cfg := config.NewConfig()
	if err := readCommonFlags(cmd, args, cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	return runClassify(ctx, cfg, logger, cmd.OutOrStdout())
}

// listTiles resolves the classify input into tile image paths.
// A single file is used as is; a directory is listed without recursion.
func listTiles(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, &locator.DiscoveryError{Root: input, Err: err}
	}
	if info.Mode().IsRegular() {
		return []string{input}, nil
	}
	paths, err := imageio.ListImages(input)
	if err != nil {
		return nil, &locator.DiscoveryError{Root: input, Err: err}
	}
	return paths, nil
}

// runClassify buckets every tile image under cfg.Input.
func runClassify(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	tiles, err := listTiles(cfg.Input)
	if err != nil {
		return err
	}
	if len(tiles) == 0 {
		fmt.Fprintf(out, "No tile images found in %s\n", cfg.Input)
		return nil
	}

	format, err := imageio.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	counter, err := newCounter()
	if err != nil {
		return err
	}
	router, err := classify.NewRouter(cfg.Output, classify.DefaultBuckets(), format)
	if err != nil {
		return err
	}

	db, err := openCatalog(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	rep := model.NewBatchReport(model.RunClassify, cfg.Input, cfg.Output)
	rep.BucketOrder = router.Buckets().Names()

	classifier := pipeline.NewFileClassifier(func() *pipeline.Pipeline {
		return pipeline.NewFileClassifyPipeline(counter, router, pipeline.WithLogger(logger))
	})

	fmt.Fprintf(out, "Classifying %d tiles from %s (workers %d)...\n\n", len(tiles), cfg.Input, cfg.Workers)

	bp := pipeline.NewBatchProcessor(
		func(ctx context.Context, _ int, path string) pipeline.TileResult {
			return classifier.Classify(ctx, path)
		},
		pipeline.WithConcurrency(cfg.Workers),
		pipeline.WithBatchLogger(logger),
	)

	var jobs []*model.TileJob
	runErr := bp.ProcessBatchWithCallback(ctx, tiles, func(res pipeline.TileResult, index int) {
		o := res.Outcome
		o.Index = index + 1
		rep.Add(o)
		jobs = append(jobs, res.Job)

		fmt.Fprintln(out, report.FormatOutcome(o))
		if o.Status == model.OutcomeFailed {
			logger.Warn("tile not classified", "tile", o.Unit, "reason", o.Reason)
		}
	})

	rep.Cancelled = runErr != nil
	rep.Finish()
	fmt.Fprintln(out)

	if err := recordRun(ctx, db, rep, jobs, logger); err != nil {
		logger.Error("failed to save run to catalog", "error", err)
	}
	if err := outputReport(cfg, rep, out); err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("classification cancelled: %w", runErr)
	}
	return nil
}
