// Package grid plans the tile origins that cover a scaled slide.
//
// Origins are generated row-major on a regular grid with a step equal to the
// tile size. Only origins whose tile fits completely inside the slide are
// produced: the strip left over at the right and bottom edges is dropped and
// never padded. The plan is a lazy cursor, so a slide with tens of thousands
// of grid cells is never materialized as one slice.
package grid
