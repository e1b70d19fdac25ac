package hgdl

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Deflation is the multiplicative penalty built from the stationary points
// found so far. Its value is 0 exactly on every deflation point, 1 outside
// the union of the radius-Radius balls around them, and C^1 everywhere.
//
// The per-point factor is the compactly supported bump
//
//	b(rho) = 1 - exp(1/(rho^2-1) + 1), rho = |x-y|/Radius < 1
//	b(rho) = 1,                        rho >= 1
//
// which is 0 at rho=0 and rises smoothly to 1 at the ball surface.
type Deflation struct {
	Radius float64
	Points [][]float64
}

// bump returns the factor for one deflation point together with the scalar
// c such that the factor's gradient is c*(x-y). The 1/rho singularity of
// the chain rule cancels, so c is finite everywhere.
func (d *Deflation) bump(x, y []float64) (b, c float64) {
	rho := floats.Distance(x, y, 2) / d.Radius
	if rho >= 1 {
		return 1, 0
	}
	u := rho*rho - 1 // in [-1, 0)
	m := math.Exp(1/u + 1)
	// db/drho = 2*rho*m/u^2 and grad rho = (x-y)/(Radius^2*rho).
	return 1 - m, 2 * m / (u * u * d.Radius * d.Radius)
}

// Value evaluates the deflation penalty at x.
func (d *Deflation) Value(x []float64) float64 {
	v := 1.0
	for _, y := range d.Points {
		b, _ := d.bump(x, y)
		if b == 0 {
			return 0
		}
		v *= b
	}
	return v
}

// Gradient evaluates the gradient of the penalty at x into dst (allocated
// when nil). When a factor vanishes the product rule is used directly so
// no 0/0 arises.
func (d *Deflation) Gradient(dst, x []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	for i := range dst {
		dst[i] = 0
	}
	nzero := 0
	zeroIdx := -1
	prod := 1.0
	bs := make([]float64, len(d.Points))
	cs := make([]float64, len(d.Points))
	for k, y := range d.Points {
		b, c := d.bump(x, y)
		bs[k], cs[k] = b, c
		if b == 0 {
			nzero++
			zeroIdx = k
			continue
		}
		prod *= b
	}
	switch {
	case nzero == 0:
		// grad d = d * sum_k grad b_k / b_k.
		for k, y := range d.Points {
			if cs[k] == 0 {
				continue
			}
			s := prod * cs[k] / bs[k]
			for i := range dst {
				dst[i] += s * (x[i] - y[i])
			}
		}
	case nzero == 1:
		// Every other product-rule term carries the zero factor.
		y := d.Points[zeroIdx]
		s := prod * cs[zeroIdx]
		for i := range dst {
			dst[i] = s * (x[i] - y[i])
		}
	default:
		// Two or more vanishing factors: every term is zero.
	}
	return dst
}
