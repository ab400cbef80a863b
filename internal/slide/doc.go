// Package slide gives lazy, read-only access to whole-slide images stored as
// tiled or stripped TIFF / BigTIFF files.
//
// Opening a slide only parses the file header and its image file directories.
// Pixels are decoded block by block (a TIFF tile or strip) when a region that
// touches the block is requested, and recently decoded blocks are kept in a
// bounded cache. A gigapixel slide can therefore be cut into tiles with memory
// proportional to the tile size, not the slide size.
//
// Note that files written with a single strip for the whole image (common for
// small test images) decode that strip in one piece the first time it is touched.
//
// Usage:
//
//	s, err := slide.Open("145_12.tif")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	scaled, err := s.Resize(0.5)
//	if err != nil {
//	    return err
//	}
//	img, err := scaled.Region(image.Rect(0, 0, 1024, 1024))
package slide
