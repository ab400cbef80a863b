package grid

import (
	"errors"
	"fmt"
	"iter"

	"github.com/nao1215/wsitile/internal/model"
)

// ErrNegativeLimit is returned when a plan is created with a negative limit.
var ErrNegativeLimit = errors.New("tile limit must not be negative")

// Count returns the number of full tiles of size tw x th that fit in a
// w x h slide on a grid anchored at (0,0).
func Count(w, h, tw, th int) int {
	if tw <= 0 || th <= 0 || w < tw || h < th {
		return 0
	}
	return ((w-tw)/tw + 1) * ((h-th)/th + 1)
}

// Plan is a lazy, single-use sequence of tile origins.
//
// A Plan is not restartable. Once Next has returned false it
// keeps returning false; create a new Plan with New to regenerate the origins.
type Plan struct {
	width  int
	height int
	spec   model.TileSpec

	// planned is the number of origins the plan yields in total, after the
	// limit has been applied.
	planned int

	// emitted counts origins returned so far.
	emitted int

	// next is the origin Next returns on its following call.
	next model.Origin
}

// New plans the tiles of a width x height scaled slide. A limit greater than
// zero caps the number of origins; zero means unlimited.
func New(width, height int, spec model.TileSpec, limit int) (*Plan, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeLimit, limit)
	}

	planned := Count(width, height, spec.Width, spec.Height)
	if limit > 0 && limit < planned {
		planned = limit
	}
	return &Plan{
		width:   width,
		height:  height,
		spec:    spec,
		planned: planned,
	}, nil
}

// Next returns the next origin in row-major order, or false when the plan is
// exhausted.
func (p *Plan) Next() (model.Origin, bool) {
	if p.emitted >= p.planned {
		return model.Origin{}, false
	}

	o := p.next
	p.emitted++

	p.next.X += p.spec.Width
	if p.next.X+p.spec.Width > p.width {
		p.next.X = 0
		p.next.Y += p.spec.Height
	}
	return o, true
}

// All returns an iterator that drains the plan. Breaking out of the loop
// leaves the remaining origins for a later Next or All call.
func (p *Plan) All() iter.Seq[model.Origin] {
	return func(yield func(model.Origin) bool) {
		for {
			o, ok := p.Next()
			if !ok || !yield(o) {
				return
			}
		}
	}
}

// Planned returns the total number of origins the plan yields.
func (p *Plan) Planned() int {
	return p.planned
}

// Emitted returns how many origins have been returned so far.
func (p *Plan) Emitted() int {
	return p.emitted
}

// Remaining returns how many origins are still to come.
func (p *Plan) Remaining() int {
	return p.planned - p.emitted
}

// Spec returns the tile size the plan was created with.
func (p *Plan) Spec() model.TileSpec {
	return p.spec
}
