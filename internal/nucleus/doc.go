// Package nucleus counts cell nuclei in H&E stained tiles.
//
// The count is used only as a scalar feature for routing tiles into buckets.
// Every Counter is deterministic: the same tile and the same Params always
// give the same count.
//
// Two implementations exist. The default one is pure Go: colour
// deconvolution isolates the hematoxylin stain, a threshold on that channel
// gives a foreground mask, and connected foreground regions are counted after
// small regions are removed and large clumps are split by the expected
// nucleus area. Building with the "gocv" tag selects an OpenCV
// difference-of-Gaussians blob counter instead.
//
// Counters that are not safe for concurrent use must be wrapped with Guard
// before they are shared between workers.
package nucleus
