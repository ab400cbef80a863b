package classify

import (
	"errors"
	"fmt"
)

// ErrInvalidBuckets is returned when buckets do not partition the
// non-negative integers.
var ErrInvalidBuckets = errors.New("buckets must cover every count from 0 upwards exactly once")

// Unbounded marks a bucket without an upper limit.
const Unbounded = -1

// Bucket is a closed range of nucleus counts. Max is Unbounded for the last bucket.
type Bucket struct {
	Name string `json:"name"`
	Min  int    `json:"min"`
	Max  int    `json:"max"`
}

// Contains reports whether count falls in the bucket.
func (b Bucket) Contains(count int) bool {
	return count >= b.Min && (b.Max == Unbounded || count <= b.Max)
}

// Buckets is an ordered list of buckets. Treat it as immutable.
type Buckets []Bucket

// DefaultBuckets returns the four fixed buckets: 0, 1-10, 11-100 (11 to 99)
// and 100+.
func DefaultBuckets() Buckets {
	return Buckets{
		{Name: "0", Min: 0, Max: 0},
		{Name: "1-10", Min: 1, Max: 10},
		{Name: "11-100", Min: 11, Max: 99},
		{Name: "100+", Min: 100, Max: Unbounded},
	}
}

// Validate checks that the buckets are contiguous from zero, do not overlap,
// have unique non-empty names and end with an unbounded bucket.
func (bs Buckets) Validate() error {
	if len(bs) == 0 {
		return fmt.Errorf("%w: no buckets", ErrInvalidBuckets)
	}
	names := make(map[string]bool, len(bs))
	next := 0
	for i, b := range bs {
		if b.Name == "" || names[b.Name] {
			return fmt.Errorf("%w: bucket %d has an empty or duplicate name %q", ErrInvalidBuckets, i, b.Name)
		}
		names[b.Name] = true
		if b.Min != next {
			return fmt.Errorf("%w: bucket %q starts at %d, want %d", ErrInvalidBuckets, b.Name, b.Min, next)
		}
		last := i == len(bs)-1
		if b.Max == Unbounded {
			if !last {
				return fmt.Errorf("%w: only the last bucket may be unbounded", ErrInvalidBuckets)
			}
			return nil
		}
		if b.Max < b.Min {
			return fmt.Errorf("%w: bucket %q is empty", ErrInvalidBuckets, b.Name)
		}
		next = b.Max + 1
	}
	return fmt.Errorf("%w: the last bucket must be unbounded", ErrInvalidBuckets)
}

// Select returns the bucket containing count. Negative counts are placed in
// the first bucket.
func (bs Buckets) Select(count int) Bucket {
	for _, b := range bs {
		if b.Contains(count) {
			return b
		}
	}
	return bs[0]
}

// Names returns the bucket names in order.
func (bs Buckets) Names() []string {
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.Name
	}
	return names
}
