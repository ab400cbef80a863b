package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nao1215/wsitile/internal/augment"
	"github.com/nao1215/wsitile/internal/config"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/pipeline"
	"github.com/nao1215/wsitile/internal/report"
	"github.com/spf13/cobra"
)

// augmentOptions are the augment command settings not covered by config.Config.
type augmentOptions struct {
	size int
	flip bool
}

// NewAugmentCmd creates the augment command.
func NewAugmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "augment [input]",
		Short: "Write rotated and mirrored variants of tiles",
		Long: `Augment writes eight variants of every square tile image: the original
rotated clockwise by 0, 90, 180 and 270 degrees, followed by the same four
rotations of its horizontal mirror.

Variants are named <stem>_<deg>.<ext> and <stem>_flip_<deg>.<ext>.
Images whose size is not --size x --size are skipped.

Examples:
  # Augment every tile in a bucket
  wsitile augment -i /data/buckets/11-100 -o /data/augmented

  # Rotations only
  wsitile augment -i /data/tiles -o /data/rotated --no-flip`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAugmentCmd,
	}

	addInputOutputFlags(cmd,
		"Tile image or directory of tile images",
		"Directory variants are written to (created if missing)")
	cmd.Flags().Int("size", augment.DefaultSize,
		"Expected width and height of input images")
	cmd.Flags().Bool("no-flip", false,
		"Write only the four rotations, without mirrored variants")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of images processed concurrently")
	addReportFlags(cmd)

	return cmd
}

// runAugmentCmd executes the augment command.
func runAugmentCmd(cmd *cobra.Command, args []string) error {
	cfg, opts, err := buildAugmentConfig(cmd, args)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	return runAugment(ctx, cfg, opts, logger, cmd.OutOrStdout())
}

// buildAugmentConfig reads and validates the augment command flags.
func buildAugmentConfig(cmd *cobra.Command, args []string) (*config.Config, augmentOptions, error) {
	var opts augmentOptions
	cfg := config.NewConfig()
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	if cfg.Input, err = readInput(cmd, args); err != nil {
		return nil, opts, err
	}
	if cfg.Output, err = cmd.Flags().GetString("output"); err != nil {
		return nil, opts, err
	}
	if cfg.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
		return nil, opts, err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return nil, opts, err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return nil, opts, err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("report"); err != nil {
		return nil, opts, err
	}
	if err := readCatalogFlags(cmd, cfg); err != nil {
		return nil, opts, err
	}
	if opts.size, err = cmd.Flags().GetInt("size"); err != nil {
		return nil, opts, err
	}
	noFlip, err := cmd.Flags().GetBool("no-flip")
	if err != nil {
		return nil, opts, err
	}
	opts.flip = !noFlip

	// The remaining fields keep their valid defaults, so Validate checks
	// only what augment reads.
	if err := cfg.Validate(); err != nil {
		return nil, opts, fmt.Errorf("configuration error: %w", err)
	}
	if opts.size <= 0 {
		return nil, opts, fmt.Errorf("configuration error: invalid size %d: must be positive", opts.size)
	}
	return cfg, opts, nil
}

// runAugment writes the variants of every image under cfg.Input.
func runAugment(ctx context.Context, cfg *config.Config, opts augmentOptions, logger *slog.Logger, out io.Writer) error {
	images, err := listTiles(cfg.Input)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Fprintf(out, "No images found in %s\n", cfg.Input)
		return nil
	}

	if err := os.MkdirAll(cfg.Output, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	augmenter, err := augment.New(cfg.Output, opts.size, opts.flip)
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

	rep := model.NewBatchReport(model.RunAugment, cfg.Input, cfg.Output)
	fmt.Fprintf(out, "Augmenting %d images from %s...\n\n", len(images), cfg.Input)

	bp := pipeline.NewBatchProcessor(
		func(ctx context.Context, _ int, path string) model.Outcome {
			if ctx.Err() != nil {
				return model.Skipped(path, "cancelled")
			}
			return augmentOne(augmenter, path)
		},
		pipeline.WithConcurrency(cfg.Workers),
		pipeline.WithBatchLogger(logger),
	)

	runErr := bp.ProcessBatchWithCallback(ctx, images, func(o model.Outcome, index int) {
		o.Index = index + 1
		rep.Add(o)
		fmt.Fprintln(out, report.FormatOutcome(o))
		if o.Status != model.OutcomeSuccess {
			logger.Warn("image not augmented", "image", o.Unit, "reason", o.Reason)
		}
	})

	rep.Cancelled = runErr != nil
	rep.Finish()
	fmt.Fprintln(out)

	if err := recordRun(ctx, db, rep, nil, logger); err != nil {
		logger.Error("failed to save run to catalog", "error", err)
	}
	if err := outputReport(cfg, rep, out); err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("augmentation cancelled: %w", runErr)
	}
	return nil
}

// augmentOne writes the variants of one image. A wrongly sized image is a
// skip, not a failure.
func augmentOne(a *augment.Augmenter, path string) model.Outcome {
	start := time.Now()
	written, err := a.Augment(path)

	var o model.Outcome
	var shape *augment.ShapeMismatchError
	switch {
	case err == nil:
		o = model.Succeeded(path)
	case errors.As(err, &shape):
		o = model.Skipped(path, fmt.Sprintf("size %dx%d, want %dx%d", shape.Got.X, shape.Got.Y, shape.Want.X, shape.Want.Y))
	default:
		o = model.Failed(path, err)
	}
	o.Outputs = written
	o.Elapsed = time.Since(start)
	return o
}
