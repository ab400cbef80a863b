//go:build !gocv

package nucleus

// Default returns the counter used by the command line tools: the pure Go
// deconvolution counter.
func Default(p Params) (Counter, error) {
	return NewDeconvolutionCounter(p)
}
