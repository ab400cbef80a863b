package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nao1215/wsitile/internal/catalog"
	"github.com/nao1215/wsitile/internal/config"
	"github.com/nao1215/wsitile/internal/log"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/report"
	"github.com/spf13/cobra"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates the redacting structured logger for a run.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewLogger(os.Stderr, verbose)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// Runs check it between slides and tiles and stop with partial results.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, finishing current tile...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// addInputOutputFlags registers the --input and --output flags.
func addInputOutputFlags(cmd *cobra.Command, inputHelp, outputHelp string) {
	cmd.Flags().StringP("input", "i", "", inputHelp)
	cmd.Flags().StringP("output", "o", "", outputHelp)
}

// addReportFlags registers the report format and catalog flags shared by
// the batch commands.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("report", "r", "",
		"Write report to specified file path (creates directories if needed)")
	addCatalogFlags(cmd)
}

// addCatalogFlags registers the flags locating the run catalog.
func addCatalogFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-catalog", false,
		"Do not record this run in the catalog")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory holding the run catalog")
}

// readInput returns --input, falling back to the first positional argument.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	input, err := cmd.Flags().GetString("input")
	if err != nil {
		return "", err
	}
	if input == "" && len(args) > 0 {
		input = args[0]
	}
	return input, nil
}

// readCommonFlags fills the fields shared by the tile and classify commands.
func readCommonFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	var err error

	cfg.Verbose = getVerboseFlag(cmd)

	if cfg.Input, err = readInput(cmd, args); err != nil {
		return err
	}
	if cfg.Output, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if cfg.Format, err = cmd.Flags().GetString("format"); err != nil {
		return err
	}
	if cfg.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
		return err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("report"); err != nil {
		return err
	}
	return readCatalogFlags(cmd, cfg)
}

// readCatalogFlags fills DBDir and SaveToDB.
func readCatalogFlags(cmd *cobra.Command, cfg *config.Config) error {
	noCatalog, err := cmd.Flags().GetBool("no-catalog")
	if err != nil {
		return err
	}
	cfg.SaveToDB = !noCatalog

	cfg.DBDir, err = cmd.Flags().GetString("db-dir")
	return err
}

// openCatalog opens the run catalog if the run should be recorded.
// It returns nil when saving is disabled.
func openCatalog(cfg *config.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	if !cfg.SaveToDB {
		return nil, nil
	}
	db, err := catalog.Open(cfg.DBDir, catalog.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	logger.Info("catalog opened", "path", db.Path())
	return db, nil
}

// recordRun saves the report and its tile jobs in the catalog.
// If db is nil, this function is a no-op. A run is recorded even when it
// was cancelled, so history shows what was written before the interrupt.
func recordRun(ctx context.Context, db *catalog.Catalog, rep *model.BatchReport, jobs []*model.TileJob, logger *slog.Logger) error {
	if db == nil {
		return nil
	}

	// The run context may already be cancelled; recording must still happen.
	ctx = context.WithoutCancel(ctx)

	id, err := db.SaveRun(ctx, rep)
	if err != nil {
		return err
	}
	if rep.Kind == model.RunTile {
		if err := db.RecordTiles(ctx, id, jobs); err != nil {
			return err
		}
	}
	if err := db.RecordClassifications(ctx, id, jobs); err != nil {
		return err
	}

	logger.Info("run saved to catalog", "run", id, "kind", rep.Kind, "tiles", len(jobs))
	return nil
}

// outputReport writes the run report in the requested format, to
// cfg.ReportFile when set and to stdout otherwise.
func outputReport(cfg *config.Config, rep *model.BatchReport, stdout io.Writer) error {
	output := stdout
	if cfg.ReportFile != "" {
		dir := filepath.Dir(cfg.ReportFile)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create report directory: %w", err)
			}
		}

		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewFullJSONWriter(output, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	if _, err := w.Write(rep); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if cfg.ReportFile != "" {
		fmt.Fprintf(stdout, "Report written to %s\n", cfg.ReportFile)
	}
	return nil
}

// lockedWriter serializes writes from concurrent progress callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
