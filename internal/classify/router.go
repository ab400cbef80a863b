package classify

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/nao1215/wsitile/internal/imageio"
)

// WriteError is returned when a classified tile or its bucket directory
// cannot be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to store tile %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Router writes tiles into bucket directories below a root directory.
// A Router is safe for concurrent use.
type Router struct {
	root    string
	buckets Buckets
	format  imageio.Format

	mu      sync.Mutex
	ready   map[string]bool
	created []string
}

// NewRouter returns a Router for root. The buckets are validated.
func NewRouter(root string, buckets Buckets, format imageio.Format) (*Router, error) {
	if err := buckets.Validate(); err != nil {
		return nil, err
	}
	if _, err := imageio.ParseFormat(string(format)); err != nil {
		return nil, err
	}
	return &Router{
		root:    root,
		buckets: buckets,
		format:  format,
		ready:   make(map[string]bool, len(buckets)),
	}, nil
}

// Buckets returns the router's buckets.
func (r *Router) Buckets() Buckets {
	return r.buckets
}

// Root returns the output root.
func (r *Router) Root() string {
	return r.root
}

// Store writes img as <root>/<bucket>/<name>_nuc<count>.<ext> and returns
// the written path and the chosen bucket.
func (r *Router) Store(img image.Image, name string, count int) (string, Bucket, error) {
	b := r.buckets.Select(count)
	dir := filepath.Join(r.root, b.Name)
	if err := r.ensureDir(dir, b.Name); err != nil {
		return "", b, &WriteError{Path: dir, Err: err}
	}

	path := filepath.Join(dir, FileName(name, count, r.format))
	if err := imageio.Save(path, img, r.format); err != nil {
		return "", b, &WriteError{Path: path, Err: err}
	}
	return path, b, nil
}

// ensureDir creates a bucket directory once. An existing directory is fine.
func (r *Router) ensureDir(dir, bucket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready[bucket] {
		return nil
	}

	_, statErr := os.Stat(dir)
	existed := statErr == nil
	if err := os.MkdirAll(dir, 0750); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	r.ready[bucket] = true
	if !existed {
		r.created = append(r.created, dir)
	}
	return nil
}

// Created returns the bucket directories this router created, each once,
// in creation order.
func (r *Router) Created() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.created)
}

// FileName returns "<name>_nuc<count>.<ext>".
func FileName(name string, count int, format imageio.Format) string {
	return fmt.Sprintf("%s_nuc%d.%s", name, count, format.Ext())
}

// TileName returns the name of a tile file without its directory and
// extension.
func TileName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
