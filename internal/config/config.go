package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/nao1215/wsitile/internal/imageio"
	"github.com/nao1215/wsitile/internal/model"
)

// Default configuration values.
// Tile size and bucket thresholds are not configurable; they live in
// model.DefaultTileSpec and classify.DefaultBuckets.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "wsitile"

	// DefaultExt is the slide file extension searched for when the input
	// is a directory. Aperio scanners write .svs, which is also a TIFF, but
	// the acquisition archive this tool was built for stores .tif.
	DefaultExt = "tif"

	// DefaultScale halves the slide resolution before tiling. At 0.5 a
	// 1024x1024 tile covers the same tissue as a 2048x2048 region of the
	// full resolution image.
	DefaultScale = 0.5

	// DefaultLimit of 0 means every planned tile is emitted.
	DefaultLimit = 0

	// DefaultFormat is the encoding used for tile files.
	DefaultFormat = string(imageio.PNG)

	// DefaultWorkers processes one slide (or one tile file) at a time.
	// The default counter is guarded, so extra workers mostly overlap
	// decoding and encoding.
	DefaultWorkers = 1
)

// Config holds all configuration options for a tile or classify run.
// It is populated from CLI flags, optionally overlaid with the defaults of a
// .wsitile file, and passed down explicitly rather than through globals.
//
// The tile, classify and augment commands share it. Fields a command does
// not use keep their defaults.
type Config struct {
	// Input is a slide file or a directory searched recursively for slides
	// (tile) or a tile image or directory of tile images (classify).
	Input string

	// Output is the directory tiles (tile) or buckets (classify) are written to.
	// It is created if missing.
	Output string

	// Ext is the slide file extension matched when Input is a directory.
	// It is given without the leading dot.
	Ext string

	// Scale is the resize factor applied to level 0 before tiling.
	// It must be a positive finite number.
	Scale float64

	// Limit caps the number of tiles emitted per slide. Zero means no cap.
	Limit int

	// Format is the image encoding for written tiles ("png" or "tiff").
	Format string

	// Workers is the number of slides or tile files processed concurrently.
	Workers int

	// ClassifyTo, when set, routes every written tile into nucleus count
	// buckets under this directory as part of the tile run.
	ClassifyTo string

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .wsitile in the current directory,
	// the XDG config directory and the user's home directory.
	ConfigFilePath string

	// SlideConfigs holds per-slide overrides loaded from the config file.
	SlideConfigs *File

	// JSONReport enables JSON report output instead of the text report.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown report output with a bucket pie chart.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When set, the report is written to this file instead of stdout.
	ReportFile string

	// DBDir is the directory holding the run catalog.
	// Defaults to the XDG data directory (~/.local/share/wsitile on Linux).
	DBDir string

	// SaveToDB records the run, its tiles and classifications in the catalog.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Ext:      DefaultExt,
		Scale:    DefaultScale,
		Limit:    DefaultLimit,
		Format:   DefaultFormat,
		Workers:  DefaultWorkers,
		DBDir:    XDGDataDir(),
		SaveToDB: true,
	}
}

// XDGDataDir returns the XDG data directory for wsitile.
// On Linux: ~/.local/share/wsitile
// On macOS: ~/Library/Application Support/wsitile
// On Windows: %LOCALAPPDATA%\wsitile
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for wsitile.
// On Linux: ~/.config/wsitile
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found as one of the sentinel errors in
// errors.go so callers can test for it with errors.Is.
func (c *Config) Validate() error {
	if c.Input == "" {
		return ErrNoInput
	}
	if c.Output == "" {
		return ErrNoOutput
	}
	if !model.ValidScale(c.Scale) {
		return ErrInvalidScale
	}
	if c.Limit < 0 {
		return ErrInvalidLimit
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if _, err := imageio.ParseFormat(c.Format); err != nil {
		return ErrUnsupportedFormat
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.SlideConfigs != nil {
		if err := c.SlideConfigs.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SlideSettings returns the scale and tile limit for the named slide.
// Values from the slide's entry in the config file win over the run-wide
// values in c.
func (c *Config) SlideSettings(name string) (scale float64, limit int) {
	scale, limit = c.Scale, c.Limit
	if c.SlideConfigs == nil {
		return scale, limit
	}
	sc, ok := c.SlideConfigs.Slides[name]
	if !ok {
		return scale, limit
	}
	if sc.Scale != 0 {
		scale = sc.Scale
	}
	if sc.Count != 0 {
		limit = sc.Count
	}
	return scale, limit
}
