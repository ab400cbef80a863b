// Package main provides the entry point for the wsitile CLI.
//
// wsitile cuts gigapixel whole-slide images into fixed-size tiles and sorts
// tiles into buckets by the number of cell nuclei they contain.
//
// Usage:
//
//	wsitile tile -i <slide-or-dir> -o <tile-dir>
//	wsitile classify -i <tile-dir> -o <bucket-dir>
//
// See --help for all available options.
package main

// main is the entry point for wsitile.
func main() {
	Execute()
}
