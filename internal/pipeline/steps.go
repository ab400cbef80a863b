package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/wsitile/internal/classify"
	"github.com/nao1215/wsitile/internal/imageio"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/nucleus"
	"github.com/nao1215/wsitile/internal/tiler"
)

var (
	// ErrNoTile is returned by steps that need a slide tile the job does not carry.
	ErrNoTile = errors.New("job has no slide tile")

	// ErrNoImage is returned when a step runs before the tile pixels are loaded.
	ErrNoImage = errors.New("job has no image loaded")

	// ErrOutOfOrder is returned when a step runs before the state it depends on.
	ErrOutOfOrder = errors.New("step run out of order")
)

// ExtractStep cuts the tile at job.Tile.Origin out of a scaled slide view.
// The job must carry a Tile with Slide, Scale and Origin set; the step
// replaces it with the extracted tile and moves the job to Loaded.
type ExtractStep struct {
	src  tiler.RegionReader
	spec model.TileSpec
}

// NewExtractStep creates a step reading tiles of the given size from src.
func NewExtractStep(src tiler.RegionReader, spec model.TileSpec) *ExtractStep {
	return &ExtractStep{src: src, spec: spec}
}

// Name returns the step name.
func (s *ExtractStep) Name() string {
	return "extract"
}

// Do executes the extraction.
func (s *ExtractStep) Do(_ context.Context, job *model.TileJob) error {
	if job.Tile == nil {
		return ErrNoTile
	}
	tile, err := tiler.Extract(s.src, job.Tile.Origin, s.spec, job.Tile.Slide, job.Tile.Scale)
	if err != nil {
		return err
	}
	job.Tile = tile
	job.Image = tile.Image
	job.Name = tile.BaseName()
	job.Advance(model.TileStateLoaded)
	return nil
}

// SaveStep writes an extracted tile to the tile output directory.
type SaveStep struct {
	writer *tiler.Writer
	digest bool
}

// NewSaveStep creates a step saving tiles through w. When digest is true the
// BLAKE2b-256 digest of the written file is recorded on the job.
func NewSaveStep(w *tiler.Writer, digest bool) *SaveStep {
	return &SaveStep{writer: w, digest: digest}
}

// Name returns the step name.
func (s *SaveStep) Name() string {
	return "save"
}

// Do executes the save.
func (s *SaveStep) Do(_ context.Context, job *model.TileJob) error {
	if job.Tile == nil || job.Tile.Image == nil {
		return ErrNoTile
	}
	path, err := s.writer.Save(job.Tile)
	if err != nil {
		return err
	}
	job.TilePath = path

	if s.digest {
		sum, err := tiler.Digest(path)
		if err != nil {
			return fmt.Errorf("failed to digest %s: %w", path, err)
		}
		job.Digest = sum
	}
	return nil
}

// LoadStep decodes a tile image file named by job.Source.
type LoadStep struct{}

// NewLoadStep creates a load step.
func NewLoadStep() *LoadStep {
	return &LoadStep{}
}

// Name returns the step name.
func (s *LoadStep) Name() string {
	return "load"
}

// Do executes the load.
func (s *LoadStep) Do(_ context.Context, job *model.TileJob) error {
	img, err := imageio.Load(job.Source)
	if err != nil {
		return err
	}
	job.Image = img
	if job.Name == "" {
		job.Name = classify.TileName(job.Source)
	}
	job.Advance(model.TileStateLoaded)
	return nil
}

// CountStep runs the nucleus counter over the loaded tile.
type CountStep struct {
	counter nucleus.Counter
}

// NewCountStep creates a counting step. Callers sharing one counter between
// goroutines pass it through nucleus.Guard first.
func NewCountStep(c nucleus.Counter) *CountStep {
	return &CountStep{counter: c}
}

// Name returns the step name.
func (s *CountStep) Name() string {
	return "count"
}

// Do executes the count.
func (s *CountStep) Do(ctx context.Context, job *model.TileJob) error {
	if job.Image == nil {
		return ErrNoImage
	}
	start := time.Now()
	n, err := s.counter.Count(ctx, job.Image)
	job.CountElapsed = time.Since(start)
	if err != nil {
		return fmt.Errorf("failed to count nuclei: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("counter returned negative count %d", n)
	}
	job.Count = n
	job.Advance(model.TileStateCounted)
	return nil
}

// BucketStep selects the bucket for the counted tile.
type BucketStep struct {
	buckets classify.Buckets
}

// NewBucketStep creates a bucket selection step.
func NewBucketStep(buckets classify.Buckets) *BucketStep {
	return &BucketStep{buckets: buckets}
}

// Name returns the step name.
func (s *BucketStep) Name() string {
	return "bucket"
}

// Do executes the selection.
func (s *BucketStep) Do(_ context.Context, job *model.TileJob) error {
	if job.State < model.TileStateCounted {
		return fmt.Errorf("%w: bucket before count (state %s)", ErrOutOfOrder, job.State)
	}
	job.Bucket = s.buckets.Select(job.Count).Name
	job.Advance(model.TileStateBucketed)
	return nil
}

// StoreStep writes the tile into its bucket directory.
type StoreStep struct {
	router *classify.Router
}

// NewStoreStep creates a store step writing through r.
func NewStoreStep(r *classify.Router) *StoreStep {
	return &StoreStep{router: r}
}

// Name returns the step name.
func (s *StoreStep) Name() string {
	return "store"
}

// Do executes the store.
func (s *StoreStep) Do(_ context.Context, job *model.TileJob) error {
	if job.State < model.TileStateBucketed {
		return fmt.Errorf("%w: store before bucket (state %s)", ErrOutOfOrder, job.State)
	}
	path, bucket, err := s.router.Store(job.Image, job.Name, job.Count)
	if err != nil {
		return err
	}
	if bucket.Name != job.Bucket {
		return fmt.Errorf("%w: router chose bucket %q, job has %q", ErrOutOfOrder, bucket.Name, job.Bucket)
	}
	job.OutputPath = path
	job.Advance(model.TileStateStored)
	return nil
}

// NewTilePipeline returns the extract and save steps for tiles cut from src.
func NewTilePipeline(src tiler.RegionReader, spec model.TileSpec, w *tiler.Writer, digest bool, opts ...Option) *Pipeline {
	p := New(opts...)
	p.AddSteps(
		NewExtractStep(src, spec),
		NewSaveStep(w, digest),
	)
	return p
}

// NewClassifyPipeline returns the count, bucket and store steps for a tile
// that is already in memory.
func NewClassifyPipeline(c nucleus.Counter, r *classify.Router, opts ...Option) *Pipeline {
	p := New(opts...)
	p.AddSteps(
		NewCountStep(c),
		NewBucketStep(r.Buckets()),
		NewStoreStep(r),
	)
	return p
}

// NewFileClassifyPipeline is NewClassifyPipeline preceded by a load step, for
// tiles read from disk.
func NewFileClassifyPipeline(c nucleus.Counter, r *classify.Router, opts ...Option) *Pipeline {
	p := New(opts...)
	p.AddStep(NewLoadStep())
	p.AddSteps(
		NewCountStep(c),
		NewBucketStep(r.Buckets()),
		NewStoreStep(r),
	)
	return p
}
