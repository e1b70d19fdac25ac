package hgdl

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Local method names accepted by Settings.LocalOptimizer.
const (
	LocalDNewton  = "dNewton"
	LocalLBFGSB   = "L-BFGS-B"
	LocalBFGS     = "BFGS"
	LocalCG       = "CG"
	LocalNewtonCG = "Newton-CG"
)

// localMinimizerByName resolves a method name to its adapter. The
// quasi-Newton and CG variants run gonum/optimize on the deflated
// gradient; dNewton is the native deflated Newton.
func localMinimizerByName(name string) (LocalMinimizer, error) {
	switch name {
	case LocalDNewton:
		return DNewton{}, nil
	case "", LocalLBFGSB:
		return gonumMinimizer{factory: func() optimize.Method { return &optimize.LBFGS{} }}, nil
	case LocalBFGS:
		return gonumMinimizer{factory: func() optimize.Method { return &optimize.BFGS{} }}, nil
	case LocalCG:
		return gonumMinimizer{factory: func() optimize.Method { return &optimize.CG{} }}, nil
	case LocalNewtonCG:
		return gonumMinimizer{factory: func() optimize.Method { return &optimize.Newton{} }, needsHess: true}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown local optimizer %q", name)
	}
}

// gonumMinimizer adapts a gonum/optimize method to the walker contract:
// the method minimizes f but sees the deflated gradient, so line searches
// stall inside deflation balls and the walker is pushed elsewhere. A fresh
// method instance is built per walker; gonum methods carry state.
type gonumMinimizer struct {
	factory   func() optimize.Method
	needsHess bool
}

var _ LocalMinimizer = gonumMinimizer{}

// Minimize implements LocalMinimizer.
func (m gonumMinimizer) Minimize(p *LocalProblem, x0 []float64) LocalResult {
	prob := optimize.Problem{
		Func: p.Func,
		Grad: func(dst, x []float64) {
			p.DeflatedGrad(dst, x)
		},
	}
	if m.needsHess {
		prob.Hess = func(dst *mat.SymDense, x []float64) {
			h := p.hessianAt(x)
			n := len(x)
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					dst.SetSym(i, j, h.At(i, j))
				}
			}
		}
	}
	// gonum checks the infinity norm; the walker contract is a 2-norm
	// target, hence the sqrt(dim) margin.
	settings := &optimize.Settings{
		MajorIterations:   p.MaxIter,
		GradientThreshold: p.Tol / math.Sqrt(float64(len(x0))),
	}
	res, err := optimize.Minimize(prob, x0, settings, m.factory())
	if err != nil || res == nil {
		return p.failAt(x0)
	}
	x := res.X
	// The method's own convergence claim is not trusted: success is the
	// deflated gradient norm at the final point, inside the box.
	gd := p.DeflatedGrad(nil, x)
	if floats.Norm(gd, 2) > p.Tol || !p.Bounds.Contains(x) || p.Defl.Value(x) == 0 {
		return p.failAt(x)
	}
	return p.successAt(x)
}
