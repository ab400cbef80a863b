package model

import (
	"fmt"
	"time"
)

// OutcomeStatus is the result category of one unit of batch work (a slide, a tile, an image).
type OutcomeStatus int

const (
	// OutcomeSuccess means the unit was fully processed.
	OutcomeSuccess OutcomeStatus = iota

	// OutcomeSkipped means the unit was deliberately not processed (wrong shape, cancelled, no tiles).
	OutcomeSkipped

	// OutcomeFailed means processing the unit hit an error.
	OutcomeFailed
)

// String returns a human-readable status.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so reports carry the status name.
func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OutcomeStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*s = OutcomeSuccess
	case "skipped":
		*s = OutcomeSkipped
	case "failed":
		*s = OutcomeFailed
	default:
		return fmt.Errorf("unknown outcome status %q", text)
	}
	return nil
}

// Outcome records what happened to a single unit of work.
// Exactly one of Success, Skipped or Failed applies, as given by Status.
type Outcome struct {
	// Index is the 1-based position of the unit in its batch.
	Index int `json:"index"`

	// Unit identifies the slide, tile or image (usually a path).
	Unit string `json:"unit"`

	// Status is the result category.
	Status OutcomeStatus `json:"status"`

	// Reason explains a skip or failure.
	Reason string `json:"reason,omitempty"`

	// Err is the underlying error for failures.
	Err error `json:"-"`

	// Elapsed is the wall-clock time spent on the unit.
	Elapsed time.Duration `json:"elapsed"`

	// Tiles is the number of tiles written for a slide unit.
	Tiles int `json:"tiles,omitempty"`

	// Count is the nucleus count for a classified tile.
	Count int `json:"count,omitempty"`

	// Bucket is the bucket a classified tile landed in.
	Bucket string `json:"bucket,omitempty"`

	// Outputs lists files written for this unit.
	Outputs []string `json:"outputs,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(unit string) Outcome {
	return Outcome{Unit: unit, Status: OutcomeSuccess}
}

// Skipped builds a skip outcome with a reason.
func Skipped(unit, reason string) Outcome {
	return Outcome{Unit: unit, Status: OutcomeSkipped, Reason: reason}
}

// Failed builds a failure outcome from an error.
func Failed(unit string, err error) Outcome {
	o := Outcome{Unit: unit, Status: OutcomeFailed, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}
