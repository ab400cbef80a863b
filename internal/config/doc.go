// Package config provides run configuration for wsitile.
//
// A Config is built from CLI flags. An optional YAML file (.wsitile in the
// current directory or home directory, config.yaml in the XDG config
// directory, or the path given with --config) supplies run defaults and
// per-slide overrides:
//
//	defaults:
//	  scale: 0.5
//	  format: png
//	slides:
//	  "145_12":
//	    scale: 1.0
//	    count: 200
//
// Explicit flags win over file defaults; a slide's own entry wins over both.
// Tile size and nucleus count buckets are fixed and cannot be configured.
package config
