// Package tiler cuts planned tiles out of a scaled slide and writes them to
// disk.
//
// Each tile is written as <slide>_x<scale>_<x>_<y>.<ext> in the output
// directory. Because origins are unique within a slide's plan, two tiles of
// the same slide never share a file name. Tiles are written exactly as they
// were extracted; the writer never resizes.
package tiler
