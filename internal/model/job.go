package model

import (
	"image"
	"time"
)

// TileState tracks how far a tile has progressed through classification.
// States only move forward: Loaded, Counted, Bucketed, Stored.
type TileState int

const (
	// TileStatePending means nothing has been done with the tile yet.
	TileStatePending TileState = iota

	// TileStateLoaded means the tile pixels are in memory.
	TileStateLoaded

	// TileStateCounted means the nucleus count is known.
	TileStateCounted

	// TileStateBucketed means the destination bucket has been selected.
	TileStateBucketed

	// TileStateStored means the tile has been written to its destination.
	TileStateStored
)

// String returns the lower-case state name.
func (s TileState) String() string {
	switch s {
	case TileStatePending:
		return "pending"
	case TileStateLoaded:
		return "loaded"
	case TileStateCounted:
		return "counted"
	case TileStateBucketed:
		return "bucketed"
	case TileStateStored:
		return "stored"
	default:
		return "unknown"
	}
}

// TileJob carries one tile through the pipeline steps.
// Each step reads what earlier steps produced and records its own result.
type TileJob struct {
	// Name is the tile base name used for output files.
	Name string `json:"name"`

	// Source is the file the tile was loaded from, empty when it was cut from a slide.
	Source string `json:"source,omitempty"`

	// Tile is set when the job originates from slide extraction.
	Tile *Tile `json:"tile,omitempty"`

	// Image holds the pixels being processed.
	Image image.Image `json:"-"`

	// TilePath is where the extracted tile was written.
	TilePath string `json:"tile_path,omitempty"`

	// Digest is the BLAKE2b-256 hex digest of the written tile file.
	Digest string `json:"digest,omitempty"`

	// Count is the nucleus count; valid once State >= TileStateCounted.
	Count int `json:"count"`

	// Bucket is the selected bucket name; valid once State >= TileStateBucketed.
	Bucket string `json:"bucket,omitempty"`

	// OutputPath is where the classified tile was written.
	OutputPath string `json:"output_path,omitempty"`

	// State is the furthest state reached.
	State TileState `json:"state"`

	// CountElapsed is how long the nucleus counter took.
	CountElapsed time.Duration `json:"count_elapsed"`

	// PerformedSteps lists the names of the steps that ran.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// Err is the error that stopped the job, if any.
	Err error `json:"-"`
}

// NewTileJob creates a job for the named tile.
func NewTileJob(name string) *TileJob {
	return &TileJob{Name: name}
}

// Advance moves the job to state s if s is further along than the current state.
func (j *TileJob) Advance(s TileState) {
	if s > j.State {
		j.State = s
	}
}
