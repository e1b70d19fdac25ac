package hgdl

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Global method names accepted by Settings.GlobalOptimizer.
const (
	GlobalGenetic = "genetic"
	GlobalGauss   = "gauss"
	GlobalRandom  = "random"
)

// Reseeder produces the next epoch's walker starting points from the best
// optima found so far. top is sorted ascending by function value and may
// be empty on early epochs.
type Reseeder interface {
	Reseed(rnd *rand.Rand, top []OptimumRecord, bounds Bounds, w int) [][]float64
}

func reseederByName(name string) (Reseeder, error) {
	switch name {
	case "", GlobalGenetic:
		return GeneticReseeder{}, nil
	case GlobalGauss:
		return GaussReseeder{}, nil
	case GlobalRandom:
		return RandomReseeder{}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown global optimizer %q", name)
	}
}

// RandomReseeder draws every walker uniformly in the box.
type RandomReseeder struct{}

// Reseed implements Reseeder.
func (RandomReseeder) Reseed(rnd *rand.Rand, _ []OptimumRecord, bounds Bounds, w int) [][]float64 {
	return bounds.Sample(rnd, w)
}

// GaussReseeder draws walkers from a Gaussian mixture centered on the best
// optima, sigma_i = (hi-lo)/20 per coordinate, mixture weights decaying
// with rank. Draws are clipped to the box.
type GaussReseeder struct{}

// Reseed implements Reseeder.
func (GaussReseeder) Reseed(rnd *rand.Rand, top []OptimumRecord, bounds Bounds, w int) [][]float64 {
	if len(top) == 0 {
		return bounds.Sample(rnd, w)
	}
	dim := bounds.Dim()
	widths := bounds.Widths()
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		s := widths[i] / 20
		cov.SetSym(i, i, s*s)
	}
	normals := make([]*distmv.Normal, len(top))
	for i := range top {
		n, ok := distmv.NewNormal(top[i].X, cov, rnd)
		if !ok {
			return bounds.Sample(rnd, w)
		}
		normals[i] = n
	}
	xs := make([][]float64, w)
	for i := range xs {
		c := rankRoulette(rnd, len(top))
		xs[i] = bounds.Clamp(normals[c].Rand(make([]float64, dim)))
	}
	return xs
}

// GeneticReseeder breeds walkers from the best optima: parents chosen by
// fitness-rank roulette, uniform crossover, then per-coordinate Gaussian
// mutation (sigma = 0.05*(hi-lo)) with probability 1/D, clipped to the
// box.
type GeneticReseeder struct{}

// Reseed implements Reseeder.
func (GeneticReseeder) Reseed(rnd *rand.Rand, top []OptimumRecord, bounds Bounds, w int) [][]float64 {
	if len(top) == 0 {
		return bounds.Sample(rnd, w)
	}
	dim := bounds.Dim()
	widths := bounds.Widths()
	mutProb := 1 / float64(dim)
	xs := make([][]float64, w)
	for i := range xs {
		a := top[rankRoulette(rnd, len(top))].X
		b := top[rankRoulette(rnd, len(top))].X
		child := make([]float64, dim)
		for j := 0; j < dim; j++ {
			if rnd.Float64() < 0.5 {
				child[j] = a[j]
			} else {
				child[j] = b[j]
			}
			if rnd.Float64() < mutProb {
				child[j] += rnd.NormFloat64() * 0.05 * widths[j]
			}
		}
		xs[i] = bounds.Clamp(child)
	}
	return xs
}

// rankRoulette picks an index in [0,n) with weight n-i for rank i, so the
// best optimum is drawn most often.
func rankRoulette(rnd *rand.Rand, n int) int {
	total := n * (n + 1) / 2
	t := rnd.Intn(total)
	acc := 0
	for i := 0; i < n; i++ {
		acc += n - i
		if t < acc {
			return i
		}
	}
	return n - 1
}
