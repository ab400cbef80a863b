package model

import (
	"sort"
	"time"
)

// RunKind names the command that produced a batch report.
type RunKind string

const (
	// RunTile is a slide tiling run.
	RunTile RunKind = "tile"

	// RunClassify is a tile classification run.
	RunClassify RunKind = "classify"

	// RunAugment is an augmentation run.
	RunAugment RunKind = "augment"
)

// BatchReport accumulates the outcomes of a batch run.
//
// Units are independent: a failed slide or tile lowers the completeness of the
// report but never stops the batch. Files written before a failure stay on disk.
type BatchReport struct {
	// Kind is the run type.
	Kind RunKind `json:"kind"`

	// Input is the input path given on the command line.
	Input string `json:"input"`

	// Output is the output directory.
	Output string `json:"output"`

	// Scale is the resize factor for tiling runs.
	Scale float64 `json:"scale,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run ended.
	FinishedAt time.Time `json:"finished_at"`

	// Cancelled is true if the run stopped early because of cancellation.
	Cancelled bool `json:"cancelled"`

	// Outcomes holds one entry per unit in input order.
	Outcomes []Outcome `json:"outcomes"`

	// Buckets counts classified tiles per bucket name.
	Buckets map[string]int `json:"buckets,omitempty"`

	// BucketOrder lists bucket names in threshold order for display.
	BucketOrder []string `json:"bucket_order,omitempty"`
}

// NewBatchReport creates an empty report for a run.
func NewBatchReport(kind RunKind, input, output string) *BatchReport {
	return &BatchReport{
		Kind:      kind,
		Input:     input,
		Output:    output,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, 0),
		Buckets:   make(map[string]int),
	}
}

// Add appends an outcome and updates the bucket histogram.
func (r *BatchReport) Add(o Outcome) {
	if o.Index == 0 {
		o.Index = len(r.Outcomes) + 1
	}
	r.Outcomes = append(r.Outcomes, o)
	if o.Status == OutcomeSuccess && o.Bucket != "" {
		r.Buckets[o.Bucket]++
	}
}

// AddBucketTally merges per-bucket counts produced inside a unit (e.g. tiles of one slide).
func (r *BatchReport) AddBucketTally(tally map[string]int) {
	for name, n := range tally {
		r.Buckets[name] += n
	}
}

// Finish stamps the end time and sorts outcomes by index.
func (r *BatchReport) Finish() {
	r.FinishedAt = time.Now()
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Index < r.Outcomes[j].Index
	})
}

// Elapsed returns the run duration.
func (r *BatchReport) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns the number of outcomes with the given status.
func (r *BatchReport) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Total returns the number of units processed.
func (r *BatchReport) Total() int {
	return len(r.Outcomes)
}

// TilesWritten returns the sum of tiles written across slide outcomes.
func (r *BatchReport) TilesWritten() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Tiles
	}
	return n
}

// Failures returns the failed outcomes.
func (r *BatchReport) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// BucketNames returns the bucket names to display, in threshold order when known.
func (r *BatchReport) BucketNames() []string {
	if len(r.BucketOrder) > 0 {
		return r.BucketOrder
	}
	names := make([]string, 0, len(r.Buckets))
	for name := range r.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
