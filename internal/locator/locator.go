package locator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// HiddenPrefix marks file-system metadata side files that must never be treated as slides.
const HiddenPrefix = "._"

// DiscoveryError is returned when the search root cannot be read.
// It is fatal for a run.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("cannot discover slides under %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// slidePattern returns the name pattern for the given extension.
// The extension is matched literally; a match anywhere in the name is enough.
func slidePattern(ext string) *regexp.Regexp {
	return regexp.MustCompile(`\d+_\d+\.` + regexp.QuoteMeta(strings.TrimPrefix(ext, ".")))
}

// IsSlide reports whether name looks like a slide file with the given extension.
func IsSlide(name, ext string) bool {
	return isSlide(filepath.Base(name), slidePattern(ext))
}

func isSlide(base string, pattern *regexp.Regexp) bool {
	if strings.HasPrefix(base, HiddenPrefix) {
		return false
	}
	return pattern.MatchString(base)
}

// Find walks root recursively and returns the paths of all slide files.
// The result is in lexical walk order. Finding nothing is not an error.
func Find(root, ext string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Root: root, Err: errors.New("not a directory")}
	}

	pattern := slidePattern(ext)
	paths := make([]string, 0)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable root aborts; unreadable subdirectories are skipped.
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isSlide(d.Name(), pattern) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}

	return paths, nil
}

// Resolve turns a command-line input into the list of slides to process.
// If input names a regular file it is the only slide (single-file mode, reported
// by the second return value) and the name filter is not applied.
// Otherwise input is searched with Find.
func Resolve(input, ext string) ([]string, bool, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, false, &DiscoveryError{Root: input, Err: err}
	}
	if info.Mode().IsRegular() {
		return []string{input}, true, nil
	}

	paths, err := Find(input, ext)
	return paths, false, err
}
