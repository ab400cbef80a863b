// Package pipeline runs tiles through extraction and classification steps.
//
// A tile is carried by a model.TileJob. Each stage (extract, save, load,
// count, bucket, store) is a Step that reads what earlier steps left on the
// job and records its own result. Pipelines are assembled per use:
//
//   - NewTilePipeline cuts a tile out of a scaled slide and writes it.
//   - NewClassifyPipeline counts, buckets and stores an in-memory tile.
//   - NewFileClassifyPipeline does the same for a tile file on disk.
//
// SlideRunner drives a whole slide through the tile pipeline, one planned
// origin at a time, checking for cancellation between tiles. FileClassifier
// does the same for a single tile file.
//
// Batches are sequential by default. BatchProcessor uses
// errgroup with a concurrency limit to spread slides or tile files over
// workers when asked to; units never share a plan, bucket creation is
// idempotent, and the nucleus counter is shared only through nucleus.Guard.
package pipeline
