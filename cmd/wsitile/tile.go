package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nao1215/wsitile/internal/classify"
	"github.com/nao1215/wsitile/internal/config"
	"github.com/nao1215/wsitile/internal/imageio"
	"github.com/nao1215/wsitile/internal/locator"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/nucleus"
	"github.com/nao1215/wsitile/internal/pipeline"
	"github.com/nao1215/wsitile/internal/report"
	"github.com/nao1215/wsitile/internal/tiler"
	"github.com/spf13/cobra"
)

// NewTileCmd creates the tile command.
func NewTileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tile [input]",
		Short: "Cut whole-slide images into 1024x1024 tiles",
		Long: `Tile cuts whole-slide images into non-overlapping 1024x1024 tiles.

The input is a single slide file or a directory searched recursively for
slides named <digits>_<digits>.<ext> (files starting with "._" are ignored).
Each slide is resized by --scale and tiled row by row from the top-left
corner; edge strips narrower than a tile are dropped. Tiles are written as
<slide>_x<scale>_<x>_<y>.<format> into the output directory.

A slide that cannot be read is reported and skipped; the batch continues.
Press Ctrl+C to stop after the current tile; finished tiles are kept.

Examples:
  # Tile every slide under /data/slides at half resolution
  wsitile tile -i /data/slides -o /data/tiles

  # Tile one slide at full resolution, at most 200 tiles
  wsitile tile -i /data/slides/145_12.tif -o /data/tiles --scale 1 --count 200

  # Tile and bucket every tile by nucleus count in one pass
  wsitile tile -i /data/slides -o /data/tiles --classify-to /data/buckets

  # Four slides at a time, Markdown report to a file
  wsitile tile -i /data/slides -o /data/tiles -w 4 -m -r report.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTileCmd,
	}

	addInputOutputFlags(cmd,
		"Slide file or directory of slides",
		"Directory tiles are written to (created if missing)")
	cmd.Flags().StringP("ext", "e", config.DefaultExt,
		"Slide file extension when the input is a directory")
	cmd.Flags().Float64P("scale", "s", config.DefaultScale,
		"Resize factor applied before tiling")
	cmd.Flags().IntP("count", "n", config.DefaultLimit,
		"Maximum number of tiles per slide (0 for all)")
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Tile image format (png or tiff)")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of slides processed concurrently")
	cmd.Flags().String("classify-to", "",
		"Also bucket every tile by nucleus count under this directory")
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .wsitile in current or home directory)")
	addReportFlags(cmd)

	return cmd
}

// runTileCmd executes the tile command.
func runTileCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildTileConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	return runTile(ctx, cfg, logger, cmd.OutOrStdout())
}

// buildTileConfig creates a Config from the tile command flags and the
// optional configuration file.
func buildTileConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	if err := readCommonFlags(cmd, args, cfg); err != nil {
		return nil, err
	}

	var err error
	if cfg.Ext, err = cmd.Flags().GetString("ext"); err != nil {
		return nil, err
	}
	if cfg.Scale, err = cmd.Flags().GetFloat64("scale"); err != nil {
		return nil, err
	}
	if cfg.Limit, err = cmd.Flags().GetInt("count"); err != nil {
		return nil, err
	}
	if cfg.ClassifyTo, err = cmd.Flags().GetString("classify-to"); err != nil {
		return nil, err
	}
	if cfg.ConfigFilePath, err = cmd.Flags().GetString("config"); err != nil {
		return nil, err
	}

	// If the user explicitly named a config file, it must exist.
	// Otherwise a missing file just means built-in defaults.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg, cmd.Flags().Changed)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	default:
		cfg.SlideConfigs = &config.File{Slides: make(map[string]config.SlideConfig)}
	}
	cfg.Ext = strings.TrimPrefix(cfg.Ext, ".")

	return cfg, nil
}

// newCounter returns the default nucleus counter, guarded for concurrent use.
func newCounter() (nucleus.Counter, error) {
	c, err := nucleus.Default(nucleus.DefaultParams())
	if err != nil {
		return nil, fmt.Errorf("failed to create nucleus counter: %w", err)
	}
	return nucleus.Guard(c), nil
}

// slideName returns the name a slide is keyed by in the config file.
func slideName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// runTile tiles every slide found under cfg.Input.
func runTile(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	slides, single, err := locator.Resolve(cfg.Input, cfg.Ext)
	if err != nil {
		return err
	}
	if len(slides) == 0 {
		fmt.Fprintf(out, "No slides matching <digits>_<digits>.%s found under %s\n", cfg.Ext, cfg.Input)
		return nil
	}

	format, err := imageio.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Output, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	writer, err := tiler.NewWriter(cfg.Output, format)
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

	// Tile lines and slide lines come from different goroutines.
	out = &lockedWriter{w: out}

	rep := model.NewBatchReport(model.RunTile, cfg.Input, cfg.Output)
	rep.Scale = cfg.Scale

	runnerOpts := []pipeline.SlideRunnerOption{
		pipeline.WithSlideLogger(logger),
		pipeline.WithDigest(db != nil),
	}

	if cfg.ClassifyTo != "" {
		counter, err := newCounter()
		if err != nil {
			return err
		}
		router, err := classify.NewRouter(cfg.ClassifyTo, classify.DefaultBuckets(), format)
		if err != nil {
			return err
		}
		rep.BucketOrder = router.Buckets().Names()
		runnerOpts = append(runnerOpts, pipeline.WithClassifier(func() *pipeline.Pipeline {
			return pipeline.NewClassifyPipeline(counter, router, pipeline.WithLogger(logger))
		}))
	}

	if cfg.Verbose {
		runnerOpts = append(runnerOpts, pipeline.WithTileCallback(tileProgress(out)))
	}

	runner := pipeline.NewSlideRunner(writer, runnerOpts...)

	if single {
		fmt.Fprintf(out, "Tiling %s (scale %s)...\n\n", cfg.Input, model.FormatScale(cfg.Scale))
	} else {
		fmt.Fprintf(out, "Tiling %d slides from %s (scale %s, workers %d)...\n\n",
			len(slides), cfg.Input, model.FormatScale(cfg.Scale), cfg.Workers)
	}

	bp := pipeline.NewBatchProcessor(
		func(ctx context.Context, _ int, path string) *pipeline.SlideResult {
			scale, limit := cfg.SlideSettings(slideName(path))
			return runner.Run(ctx, path, pipeline.SlideSettings{Scale: scale, Limit: limit})
		},
		pipeline.WithConcurrency(cfg.Workers),
		pipeline.WithBatchLogger(logger),
	)

	var jobs []*model.TileJob
	runErr := bp.ProcessBatchWithCallback(ctx, slides, func(res *pipeline.SlideResult, index int) {
		o := res.Outcome
		o.Index = index + 1
		rep.Add(o)
		rep.AddBucketTally(res.Buckets)
		jobs = append(jobs, res.Jobs...)

		fmt.Fprintln(out, report.FormatOutcome(o))
		if o.Status != model.OutcomeSuccess {
			logger.Warn("slide not tiled", "slide", o.Unit, "status", o.Status.String(), "reason", o.Reason)
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
		return fmt.Errorf("tiling cancelled: %w", runErr)
	}
	return nil
}

// tileProgress returns a callback printing one line per tile.
func tileProgress(out io.Writer) pipeline.TileCallback {
	return func(job *model.TileJob, index int, elapsed time.Duration) {
		line := fmt.Sprintf("      tile %d %s | %s", index+1, job.Name, report.FormatDuration(elapsed))
		if job.State >= model.TileStateBucketed {
			line += fmt.Sprintf(" | %d nuclei -> %s", job.Count, job.Bucket)
		}
		fmt.Fprintln(out, line)
	}
}
