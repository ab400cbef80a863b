package nucleus

import (
	"context"
	"image"
	"sync"
)

// Counter counts nuclei in a tile. Implementations return a non-negative,
// deterministic count.
type Counter interface {
	Count(ctx context.Context, img image.Image) (int, error)
}

// ConcurrencySafe is implemented by counters that may be called from several
// goroutines at once.
type ConcurrencySafe interface {
	ConcurrentSafe() bool
}

// Guard returns c unchanged when it declares itself safe for concurrent use,
// and otherwise wraps it so that all calls are serialized through one mutex.
func Guard(c Counter) Counter {
	if cs, ok := c.(ConcurrencySafe); ok && cs.ConcurrentSafe() {
		return c
	}
	return &guarded{c: c}
}

type guarded struct {
	mu sync.Mutex
	c  Counter
}

func (g *guarded) Count(ctx context.Context, img image.Image) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.c.Count(ctx, img)
}

// ConcurrentSafe reports true: the mutex serializes the wrapped counter.
func (g *guarded) ConcurrentSafe() bool {
	return true
}

// CounterFunc adapts a function to the Counter interface. It is treated as
// not safe for concurrent use.
type CounterFunc func(ctx context.Context, img image.Image) (int, error)

// Count calls f.
func (f CounterFunc) Count(ctx context.Context, img image.Image) (int, error) {
	return f(ctx, img)
}
