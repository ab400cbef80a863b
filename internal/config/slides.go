package config

import (
	"fmt"

	"github.com/nao1215/wsitile/internal/imageio"
	"github.com/nao1215/wsitile/internal/model"
)

// SlideConfig holds overrides for a single slide.
// Slides are keyed by file name without extension, e.g. "145_12".
type SlideConfig struct {
	// Scale overrides the run-wide resize factor for this slide.
	// If zero, the run-wide scale is used.
	Scale float64 `yaml:"scale,omitempty"`

	// Count overrides the run-wide tile limit for this slide.
	// If zero, the run-wide limit is used.
	Count int `yaml:"count,omitempty"`
}

// Defaults holds run-wide values read from the config file.
// They replace the built-in defaults but not explicitly set CLI flags.
type Defaults struct {
	Ext     string  `yaml:"ext,omitempty"`
	Scale   float64 `yaml:"scale,omitempty"`
	Count   int     `yaml:"count,omitempty"`
	Format  string  `yaml:"format,omitempty"`
	Workers int     `yaml:"workers,omitempty"`
}

// File represents the structure of the .wsitile configuration file.
type File struct {
	// Defaults apply to every slide of a run.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Slides maps slide names to their overrides.
	Slides map[string]SlideConfig `yaml:"slides,omitempty"`
}

// GetSlideConfig returns the configuration for a specific slide.
// It merges the slide's overrides with the file defaults.
func (cf *File) GetSlideConfig(name string) SlideConfig {
	result := SlideConfig{Scale: cf.Defaults.Scale, Count: cf.Defaults.Count}

	if sc, ok := cf.Slides[name]; ok {
		if sc.Scale != 0 {
			result.Scale = sc.Scale
		}
		if sc.Count != 0 {
			result.Count = sc.Count
		}
	}

	return result
}

// Validate checks the defaults and every slide override.
// Zero values mean "not set" and are always accepted.
func (cf *File) Validate() error {
	if cf.Defaults.Scale != 0 && !model.ValidScale(cf.Defaults.Scale) {
		return fmt.Errorf("defaults: %w", ErrInvalidScale)
	}
	if cf.Defaults.Count < 0 {
		return fmt.Errorf("defaults: %w", ErrInvalidLimit)
	}
	if cf.Defaults.Workers < 0 {
		return fmt.Errorf("defaults: %w", ErrInvalidWorkers)
	}
	if cf.Defaults.Format != "" {
		if _, err := imageio.ParseFormat(cf.Defaults.Format); err != nil {
			return fmt.Errorf("defaults: %w", ErrUnsupportedFormat)
		}
	}
	for name, sc := range cf.Slides {
		if sc.Scale != 0 && !model.ValidScale(sc.Scale) {
			return fmt.Errorf("slide %q: %w", name, ErrInvalidScale)
		}
		if sc.Count < 0 {
			return fmt.Errorf("slide %q: %w", name, ErrInvalidLimit)
		}
	}
	return nil
}

// Apply copies the file defaults into cfg for every setting the user did
// not pass explicitly. explicit reports whether a flag was set on the
// command line; it is usually cmd.Flags().Changed.
func (cf *File) Apply(cfg *Config, explicit func(flag string) bool) {
	if cf.Defaults.Ext != "" && !explicit("ext") {
		cfg.Ext = cf.Defaults.Ext
	}
	if cf.Defaults.Scale != 0 && !explicit("scale") {
		cfg.Scale = cf.Defaults.Scale
	}
	if cf.Defaults.Count != 0 && !explicit("count") {
		cfg.Limit = cf.Defaults.Count
	}
	if cf.Defaults.Format != "" && !explicit("format") {
		cfg.Format = cf.Defaults.Format
	}
	if cf.Defaults.Workers != 0 && !explicit("workers") {
		cfg.Workers = cf.Defaults.Workers
	}
	cfg.SlideConfigs = cf
}
