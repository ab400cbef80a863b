package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/wsitile/internal/model"
)

// Step is one stage of a tile's journey: extract, save, load, count,
// bucket or store. A step reads what earlier steps left on the job and
// advances job.State when it succeeds.
type Step interface {
	// Do runs the stage on job. A returned error ends the job unless the
	// pipeline continues on error.
	Do(ctx context.Context, job *model.TileJob) error

	// Name identifies the stage in logs and in job.PerformedSteps.
	Name() string
}

// Pipeline runs its steps over one tile job at a time, in order.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger

	// continueOnError keeps running later steps after a failure.
	continueOnError bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for step tracing. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to continue execution
// even when a step fails. Failed steps are logged and their errors
// are recorded in the job, but subsequent steps still execute.
//
// The tile steps depend on each other, so the pipelines built by this
// package never set it; it exists for callers composing independent steps.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates an empty pipeline; add stages with AddStep or AddSteps.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a stage.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends stages in order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs every stage on job.
//
// The context is checked between stages, so a started stage (a tile write,
// a nucleus count) always finishes. On cancellation ctx.Err() is stored
// in job.Err and returned. The last failure is always kept in job.Err;
// without continue-on-error it is also returned at once.
func (p *Pipeline) Execute(ctx context.Context, job *model.TileJob) error {
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"tile", job.Name,
				"reason", ctx.Err(),
			)
			job.Err = ctx.Err()
			return ctx.Err()
		default:
		}

		p.logger.Debug("executing step",
			"step", step.Name(),
			"tile", job.Name,
		)

		if err := step.Do(ctx, job); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"tile", job.Name,
				"state", job.State.String(),
				"error", err,
			)

			job.Err = err

			if !p.continueOnError {
				return err
			}
		} else {
			p.logger.Debug("step completed",
				"step", step.Name(),
				"tile", job.Name,
				"state", job.State.String(),
			)
		}

		job.PerformedSteps = append(job.PerformedSteps, step.Name())
	}

	return nil
}

// StepCount returns the number of stages.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames lists the stage names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
