package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of units processed at once when no
// concurrency is configured. Batches run sequentially by default.
const DefaultConcurrency = 1

// WorkFunc processes one unit of a batch. index is the unit's 0-based
// position in the batch.
//
// A WorkFunc always returns a result, even when ctx is already done: it
// is expected to report such units as skipped rather than drop them.
type WorkFunc[T any] func(ctx context.Context, index int, unit string) T

// BatchProcessor runs a WorkFunc over many units (slides or tile files).
// It uses errgroup to manage goroutines and respect concurrency limits.
type BatchProcessor[T any] struct {
	// work processes a single unit.
	work WorkFunc[T]

	// concurrency is the maximum number of units processed at once.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	// mu serializes result storage and callbacks.
	mu sync.Mutex
}

// batchSettings is what a BatchOption configures. It is separate from
// BatchProcessor so options need no type parameter.
type batchSettings struct {
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*batchSettings)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *batchSettings) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of units processed at once.
// Non-positive values keep DefaultConcurrency.
func WithConcurrency(n int) BatchOption {
	return func(b *batchSettings) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor calling work for each unit.
func NewBatchProcessor[T any](work WorkFunc[T], opts ...BatchOption) *BatchProcessor[T] {
	s := batchSettings{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return &BatchProcessor[T]{
		work:        work,
		concurrency: s.concurrency,
		logger:      s.logger,
	}
}

// Concurrency returns the configured concurrency limit.
func (bp *BatchProcessor[T]) Concurrency() int {
	return bp.concurrency
}

// ProcessBatch processes all units and returns their results in input order.
//
// A failing unit never stops the batch; its failure is part of its result.
// The error is non-nil only when ctx was cancelled, in which case units that
// had not started are still present, as reported by the WorkFunc.
func (bp *BatchProcessor[T]) ProcessBatch(ctx context.Context, units []string) ([]T, error) {
	results := make([]T, len(units))
	err := bp.ProcessBatchWithCallback(ctx, units, func(result T, index int) {
		results[index] = result
	})
	return results, err
}

// ProcessBatchWithCallback processes all units and calls callback as each
// one completes. Callbacks are serialized, so callback may touch shared
// state without locking; with concurrency above one they arrive in
// completion order rather than input order.
func (bp *BatchProcessor[T]) ProcessBatchWithCallback(
	ctx context.Context,
	units []string,
	callback func(result T, index int),
) error {
	bp.logger.Info("starting batch processing",
		"total_units", len(units),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, unit := range units {
		g.Go(func() error {
			bp.logger.Debug("processing unit",
				"unit", unit,
				"index", i+1,
				"total", len(units),
			)

			result := bp.work(gctx, i, unit)

			bp.mu.Lock()
			callback(result, i)
			bp.mu.Unlock()

			// Unit failures are part of the result; the group keeps going.
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch processing complete",
		"total_units", len(units),
		"elapsed", time.Since(startTime),
	)

	if err != nil {
		return err
	}
	return ctx.Err()
}
