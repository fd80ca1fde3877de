package chunk

import (
	"context"
	"errors"
	"fmt"
)

// ErrRangeDegenerate means a computed boundary did not advance past the
// previous one. The pass has nothing left to do.
var ErrRangeDegenerate = errors.New("chunk boundary did not advance")

// Boundary is one chunk of the key space.
type Boundary struct {
	Index int
	Start Tuple
	End   Tuple
	First bool
}

type boundaryFinder interface {
	NextBoundary(ctx context.Context, rng Range, start Tuple, first bool) (Tuple, bool, error)
}

// Iterator yields boundaries lazily, in ascending key order.
type Iterator struct {
	finder boundaryFinder
	rng    Range
	start  Tuple
	first  bool
	index  int
	done   bool
}

func newIterator(f boundaryFinder, rng Range) *Iterator {
	return &Iterator{
		finder: f,
		rng:    rng,
		start:  rng.Min,
		first:  true,
		done:   !rng.Exists,
	}
}

// Next returns the next boundary. ok is false once the range is exhausted.
// A boundary that fails to advance ends the iteration with
// ErrRangeDegenerate.
func (it *Iterator) Next(ctx context.Context) (Boundary, bool, error) {
	if it.done {
		return Boundary{}, false, nil
	}

	end, found, err := it.finder.NextBoundary(ctx, it.rng, it.start, it.first)
	if err != nil {
		return Boundary{}, false, err
	}
	if !found {
		it.done = true
		return Boundary{}, false, nil
	}
	if !it.first && Degenerate(it.start, end) {
		it.done = true
		return Boundary{}, false, fmt.Errorf("chunk %d from %s to %s: %w", it.index, it.start, end, ErrRangeDegenerate)
	}

	b := Boundary{Index: it.index, Start: it.start, End: end, First: it.first}
	if end.Equal(it.rng.Max) {
		it.done = true
	}
	it.start = end
	it.first = false
	it.index++
	return b, true, nil
}

// Done reports whether the iterator is exhausted.
func (it *Iterator) Done() bool { return it.done }
