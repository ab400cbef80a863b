//go:build gocv

package nucleus

// Default returns the counter used by the command line tools: the OpenCV
// difference-of-Gaussians counter.
func Default(p Params) (Counter, error) {
	return NewDoGCounter(p)
}
