package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/wsitile/internal/classify"
	"github.com/nao1215/wsitile/internal/grid"
	"github.com/nao1215/wsitile/internal/model"
	"github.com/nao1215/wsitile/internal/slide"
	"github.com/nao1215/wsitile/internal/tiler"
)

// SlideSettings are the per-slide tiling parameters.
type SlideSettings struct {
	// Scale is the resize factor applied before tiling.
	Scale float64

	// Limit caps the number of tiles; 0 means all.
	Limit int
}

// SlideResult is what tiling one slide produced.
type SlideResult struct {
	// Outcome is the slide-level result.
	Outcome model.Outcome

	// Slide is the slide name, empty if the slide could not be opened.
	Slide string

	// Width and Height are the native level-0 dimensions.
	Width, Height int

	// ScaledWidth and ScaledHeight are the dimensions after resizing.
	ScaledWidth, ScaledHeight int

	// Planned is the number of tiles the grid planned after the limit.
	Planned int

	// Jobs holds one finished job per written tile, with pixels released.
	Jobs []*model.TileJob

	// Buckets counts classified tiles per bucket.
	Buckets map[string]int

	// ClassifyFailures is the number of written tiles that could not be classified.
	ClassifyFailures int
}

// TileCallback is called after each tile of a slide has been processed.
// index is the tile's 0-based position in the plan.
type TileCallback func(job *model.TileJob, index int, elapsed time.Duration)

// SlideRunner tiles whole slides: open, resize, plan, then extract and save
// every planned tile, optionally classifying each one as it is written.
type SlideRunner struct {
	writer   *tiler.Writer
	spec     model.TileSpec
	digest   bool
	classify func() *Pipeline
	onTile   TileCallback
	openOpts []slide.Option
	logger   *slog.Logger
}

// SlideRunnerOption configures a SlideRunner.
type SlideRunnerOption func(*SlideRunner)

// WithSlideLogger sets the logger used by the runner and its pipelines.
func WithSlideLogger(logger *slog.Logger) SlideRunnerOption {
	return func(r *SlideRunner) {
		r.logger = logger
	}
}

// WithTileSpec overrides the tile size. Only tests need this; runs always
// use model.DefaultTileSpec.
func WithTileSpec(spec model.TileSpec) SlideRunnerOption {
	return func(r *SlideRunner) {
		r.spec = spec
	}
}

// WithDigest records the BLAKE2b-256 digest of every written tile.
func WithDigest(digest bool) SlideRunnerOption {
	return func(r *SlideRunner) {
		r.digest = digest
	}
}

// WithClassifier routes every written tile through a classification
// pipeline created by factory (see NewClassifyPipeline).
func WithClassifier(factory func() *Pipeline) SlideRunnerOption {
	return func(r *SlideRunner) {
		r.classify = factory
	}
}

// WithTileCallback sets a function called after each tile.
func WithTileCallback(fn TileCallback) SlideRunnerOption {
	return func(r *SlideRunner) {
		r.onTile = fn
	}
}

// WithSlideOptions passes options to slide.Open.
func WithSlideOptions(opts ...slide.Option) SlideRunnerOption {
	return func(r *SlideRunner) {
		r.openOpts = append(r.openOpts, opts...)
	}
}

// NewSlideRunner creates a runner writing tiles through w.
func NewSlideRunner(w *tiler.Writer, opts ...SlideRunnerOption) *SlideRunner {
	r := &SlideRunner{
		writer: w,
		spec:   model.DefaultTileSpec(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Run tiles the slide at path.
//
// Any error opening, resizing or planning the slide, or extracting or
// saving one of its tiles, fails the whole slide; tiles already written
// stay on disk. A tile that is written but cannot be classified is
// counted in ClassifyFailures and the slide continues. Cancellation is
// checked between tiles and reported as a skip.
func (r *SlideRunner) Run(ctx context.Context, path string, settings SlideSettings) *SlideResult {
	start := time.Now()
	res := &SlideResult{Buckets: make(map[string]int)}

	finish := func(o model.Outcome) *SlideResult {
		o.Elapsed = time.Since(start)
		o.Tiles = len(res.Jobs)
		res.Outcome = o
		return res
	}

	if ctx.Err() != nil {
		return finish(model.Skipped(path, "cancelled"))
	}

	s, err := slide.Open(path, r.openOpts...)
	if err != nil {
		r.logger.Error("failed to open slide", "path", path, "error", err)
		return finish(model.Failed(path, err))
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			r.logger.Warn("failed to close slide", "path", path, "error", cerr)
		}
	}()

	res.Slide = s.Name()
	res.Width, res.Height = s.Dimensions()

	view, err := s.Resize(settings.Scale)
	if err != nil {
		return finish(model.Failed(path, err))
	}
	res.ScaledWidth, res.ScaledHeight = view.Dimensions()

	plan, err := grid.New(res.ScaledWidth, res.ScaledHeight, r.spec, settings.Limit)
	if err != nil {
		return finish(model.Failed(path, err))
	}
	res.Planned = plan.Planned()
	spec := plan.Spec()

	if res.Planned == 0 {
		return finish(model.Skipped(path, fmt.Sprintf("scaled slide %dx%d is smaller than one %dx%d tile",
			res.ScaledWidth, res.ScaledHeight, spec.Width, spec.Height)))
	}

	r.logger.Info("tiling slide",
		"slide", res.Slide,
		"width", res.Width,
		"height", res.Height,
		"scale", settings.Scale,
		"source_level", view.SourceLevel(),
		"tiles", res.Planned,
	)

	tiles := NewTilePipeline(view, spec, r.writer, r.digest, WithLogger(r.logger))
	cancelled := func() *SlideResult {
		return finish(model.Skipped(path, fmt.Sprintf("cancelled after %d of %d tiles", len(res.Jobs), res.Planned)))
	}

	index := 0
	for origin := range plan.All() {
		if ctx.Err() != nil {
			return cancelled()
		}

		tileStart := time.Now()
		job := model.NewTileJob("")
		job.Tile = &model.Tile{Slide: res.Slide, Scale: settings.Scale, Origin: origin}

		if err := tiles.Execute(ctx, job); err != nil {
			if isCancellation(err) {
				return cancelled()
			}
			return finish(model.Failed(path, fmt.Errorf("tile %s: %w", origin, err)))
		}

		if r.classify != nil {
			if err := r.classify().Execute(ctx, job); err != nil {
				if isCancellation(err) {
					res.Jobs = append(res.Jobs, release(job))
					return cancelled()
				}
				res.ClassifyFailures++
				r.logger.Warn("tile classification failed",
					"tile", job.Name,
					"state", job.State.String(),
					"error", err,
				)
			} else {
				res.Buckets[job.Bucket]++
			}
		}

		res.Jobs = append(res.Jobs, release(job))
		if r.onTile != nil {
			r.onTile(job, index, time.Since(tileStart))
		}
		index++
	}

	o := model.Succeeded(path)
	if res.ClassifyFailures > 0 {
		o.Reason = fmt.Sprintf("%d of %d tiles could not be classified", res.ClassifyFailures, len(res.Jobs))
	}
	return finish(o)
}

// TileResult is what classifying one tile file produced.
type TileResult struct {
	// Outcome is the tile-level result.
	Outcome model.Outcome

	// Job is the finished job with pixels released.
	Job *model.TileJob
}

// FileClassifier classifies tile files with a fresh pipeline per file.
type FileClassifier struct {
	factory func() *Pipeline
}

// NewFileClassifier creates a classifier. factory is usually a closure over
// NewFileClassifyPipeline with a guarded counter.
func NewFileClassifier(factory func() *Pipeline) *FileClassifier {
	return &FileClassifier{factory: factory}
}

// Classify loads, counts, buckets and stores the tile at path.
// A tile that fails at any state is reported as failed and the caller
// moves on to the next one.
func (c *FileClassifier) Classify(ctx context.Context, path string) TileResult {
	start := time.Now()
	job := model.NewTileJob(classify.TileName(path))
	job.Source = path

	if ctx.Err() != nil {
		o := model.Skipped(path, "cancelled")
		o.Elapsed = time.Since(start)
		return TileResult{Outcome: o, Job: job}
	}

	err := c.factory().Execute(ctx, job)
	release(job)

	var o model.Outcome
	switch {
	case err == nil:
		o = model.Succeeded(path)
		o.Outputs = []string{job.OutputPath}
	case isCancellation(err):
		o = model.Skipped(path, "cancelled")
	default:
		o = model.Failed(path, fmt.Errorf("%s: %w", job.State, err))
	}
	if job.State >= model.TileStateCounted {
		o.Count = job.Count
	}
	if job.State >= model.TileStateBucketed {
		o.Bucket = job.Bucket
	}
	o.Elapsed = time.Since(start)
	return TileResult{Outcome: o, Job: job}
}

// release drops the pixel buffers held by a finished job.
func release(job *model.TileJob) *model.TileJob {
	job.Image = nil
	if job.Tile != nil {
		job.Tile.Image = nil
	}
	return job
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
