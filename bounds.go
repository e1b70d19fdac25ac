package hgdl

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// Bounds is a closed box domain: the i-th coordinate lives in
// [Lo[i], Hi[i]].
type Bounds struct {
	Lo, Hi []float64
}

// NewBounds validates lo[i] < hi[i] for every coordinate and returns the
// box they describe.
func NewBounds(lo, hi []float64) (Bounds, error) {
	if len(lo) == 0 || len(lo) != len(hi) {
		return Bounds{}, errors.Wrap(ErrInvalidArgument, "bounds must be two equal-length non-empty rows")
	}
	for i := range lo {
		if !(lo[i] < hi[i]) || math.IsNaN(lo[i]) || math.IsNaN(hi[i]) {
			return Bounds{}, errors.Wrapf(ErrInvalidArgument, "bounds[%d]=[%g,%g] is not an interval", i, lo[i], hi[i])
		}
	}
	return Bounds{Lo: lo, Hi: hi}, nil
}

// Dim returns the dimension of the box.
func (b Bounds) Dim() int { return len(b.Lo) }

// Contains reports whether x lies in the closed box.
func (b Bounds) Contains(x []float64) bool {
	if len(x) != len(b.Lo) {
		return false
	}
	for i, v := range x {
		if v < b.Lo[i] || v > b.Hi[i] || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Clamp projects x onto the box in place and returns it.
func (b Bounds) Clamp(x []float64) []float64 {
	for i, v := range x {
		if v < b.Lo[i] {
			x[i] = b.Lo[i]
		} else if v > b.Hi[i] {
			x[i] = b.Hi[i]
		}
	}
	return x
}

// Widths returns hi-lo per coordinate.
func (b Bounds) Widths() []float64 {
	w := make([]float64, len(b.Lo))
	for i := range w {
		w[i] = b.Hi[i] - b.Lo[i]
	}
	return w
}

// MinWidth returns the smallest coordinate extent of the box.
func (b Bounds) MinWidth() float64 {
	w := math.Inf(1)
	for i := range b.Lo {
		if d := b.Hi[i] - b.Lo[i]; d < w {
			w = d
		}
	}
	return w
}

// SampleInto fills dst with one point drawn coordinate-wise uniformly in
// the box.
func (b Bounds) SampleInto(rnd *rand.Rand, dst []float64) []float64 {
	for i := range b.Lo {
		dst[i] = b.Lo[i] + rnd.Float64()*(b.Hi[i]-b.Lo[i])
	}
	return dst
}

// Sample draws n independent uniform points in the box.
func (b Bounds) Sample(rnd *rand.Rand, n int) [][]float64 {
	xs := make([][]float64, n)
	for i := range xs {
		xs[i] = b.SampleInto(rnd, make([]float64, b.Dim()))
	}
	return xs
}

// Stack appends further coordinate intervals to the box, returning the
// enlarged box. Used when constraints lift auxiliary variables into x.
func (b Bounds) Stack(lo, hi []float64) Bounds {
	nlo := append(append([]float64(nil), b.Lo...), lo...)
	nhi := append(append([]float64(nil), b.Hi...), hi...)
	return Bounds{Lo: nlo, Hi: nhi}
}
