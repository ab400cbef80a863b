// Package model defines the data types shared by the tiling and classification stages.
//
// This package contains the following main types:
//   - TileSpec, Origin, Tile: the geometry and pixels of a slide tile
//   - TileJob, TileState: a tile moving through the classification pipeline
//   - Outcome, BatchReport: per-unit results accumulated over a batch run
//
// The types live in their own package so that the slide, pipeline, catalog and
// report packages can share them without import cycles.
package model
