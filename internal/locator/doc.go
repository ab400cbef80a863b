// Package locator discovers whole-slide image files under a root directory.
//
// Slides are recognised by name: "<digits>_<digits>.<ext>", for example
// "145_12.tif". Files whose name starts with "._" are metadata side files
// left behind by some file systems and are always ignored.
package locator
