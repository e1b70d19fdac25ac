package hgdl

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LocalProblem is the view of the objective that one walker sees: the user
// callables plus the deflation state sampled at dispatch time. The
// callables must be pure and safe for concurrent use.
type LocalProblem struct {
	Func   func(x []float64) float64
	Grad   func(x []float64) []float64
	Hess   func(x []float64) *mat.SymDense // nil when the caller supplied none
	Bounds Bounds
	Defl   *Deflation
	// MaxIter and Tol are the per-walker iteration budget and the
	// deflated-gradient norm target.
	MaxIter int
	Tol     float64
}

// DeflatedGrad evaluates d(x)*grad f(x) into dst (allocated when nil).
func (p *LocalProblem) DeflatedGrad(dst, x []float64) []float64 {
	g := p.Grad(x)
	if dst == nil {
		dst = make([]float64, len(g))
	}
	d := p.Defl.Value(x)
	for i := range g {
		dst[i] = d * g[i]
	}
	return dst
}

// hessianAt returns the (symmetrized) Hessian at x, approximating it by
// forward differences of the gradient when the caller supplied none.
func (p *LocalProblem) hessianAt(x []float64) *mat.Dense {
	dim := len(x)
	h := mat.NewDense(dim, dim, nil)
	if p.Hess != nil {
		sym := p.Hess(x)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				h.Set(i, j, sym.At(i, j))
			}
		}
		return h
	}
	const eps = 1e-6
	g0 := append([]float64(nil), p.Grad(x)...)
	xt := append([]float64(nil), x...)
	for j := 0; j < dim; j++ {
		xt[j] = x[j] + eps
		gj := p.Grad(xt)
		for i := 0; i < dim; i++ {
			h.Set(i, j, (gj[i]-g0[i])/eps)
		}
		xt[j] = x[j]
	}
	// Symmetrize: H <- (H + H^T)/2.
	for i := 0; i < dim; i++ {
		for j := i + 1; j < dim; j++ {
			v := 0.5 * (h.At(i, j) + h.At(j, i))
			h.Set(i, j, v)
			h.Set(j, i, v)
		}
	}
	return h
}

// eigvalsAt returns the Hessian eigenvalues at x, or nil when the caller
// supplied no Hessian.
func (p *LocalProblem) eigvalsAt(x []float64) []float64 {
	if p.Hess == nil {
		return nil
	}
	var es mat.EigenSym
	if !es.Factorize(p.Hess(x), false) {
		return nil
	}
	return es.Values(nil)
}

// LocalResult is the outcome of one walker. Success means the deflated
// gradient norm reached Tol inside the box; the engine discards anything
// else.
type LocalResult struct {
	X        []float64
	F        float64
	GradNorm float64
	Eigvals  []float64
	Success  bool
}

// LocalMinimizer is the uniform adapter every local method exposes.
// Implementations must be safe for concurrent use: one instance serves all
// walkers of a run.
type LocalMinimizer interface {
	Minimize(p *LocalProblem, x0 []float64) LocalResult
}

// DNewton is the deflated Newton local minimizer. Each iteration solves
//
//	(H + outer(g, grad d)/d) gamma = -g
//
// so the step is redirected away from every known optimum without
// modifying f elsewhere. When the iteration budget is exhausted or the
// iterate leaves the box, the last step is rewound and a projected
// backtracking gradient descent takes over.
//
// The zero value uses the run's MaxIter and Tol from the LocalProblem.
type DNewton struct{}

var _ LocalMinimizer = DNewton{}

// Minimize implements LocalMinimizer.
func (DNewton) Minimize(p *LocalProblem, x0 []float64) LocalResult {
	dim := len(x0)
	x := append([]float64(nil), x0...)
	gd := make([]float64, dim)
	dg := make([]float64, dim)
	var gamma []float64
	for iter := 0; ; iter++ {
		g := p.Grad(x)
		d := p.Defl.Value(x)
		for i := range gd {
			gd[i] = d * g[i]
		}
		if floats.Norm(gd, 2) <= p.Tol {
			if d == 0 || !p.Bounds.Contains(x) {
				// Sitting exactly on a deflation point (or outside the
				// box) the deflated system is ill-defined.
				return p.failAt(x)
			}
			return p.successAt(x)
		}
		if iter >= p.MaxIter {
			if gamma != nil {
				floats.Sub(x, gamma)
			}
			return projectedDescent(p, x)
		}
		if d == 0 {
			return p.failAt(x)
		}
		h := p.hessianAt(x)
		p.Defl.Gradient(dg, x)
		// Rank-1 deflation update; the matrix is not symmetric.
		a := mat.NewDense(dim, dim, nil)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				a.Set(i, j, h.At(i, j)+g[i]*dg[j]/d)
			}
		}
		var err error
		gamma, err = solveNewtonStep(a, g)
		if err != nil {
			return p.failAt(x)
		}
		floats.Add(x, gamma)
		if !p.Bounds.Contains(x) {
			floats.Sub(x, gamma)
			return projectedDescent(p, x)
		}
	}
}

// solveNewtonStep solves a*gamma = -g, falling back to the minimum-norm
// least-squares solution when the system is singular.
func solveNewtonStep(a *mat.Dense, g []float64) ([]float64, error) {
	dim := len(g)
	b := mat.NewVecDense(dim, nil)
	for i, v := range g {
		b.SetVec(i, -v)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err == nil {
		return vecToSlice(&sol), nil
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("hgdl: svd factorization failed")
	}
	sv := svd.Values(nil)
	rank := 0
	tol := float64(dim) * sv[0] * 1e-15
	for _, v := range sv {
		if v > tol {
			rank++
		}
	}
	if rank == 0 {
		return nil, errors.New("hgdl: newton system has rank zero")
	}
	var lsq mat.VecDense
	svd.SolveVecTo(&lsq, b, rank)
	return vecToSlice(&lsq), nil
}

func vecToSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// projectedDescent is the escape fallback: backtracking gradient descent
// along the deflated gradient, with an Armijo test and the box constraint,
// halving the step up to 10 times per move and giving up after 20 moves.
func projectedDescent(p *LocalProblem, x0 []float64) LocalResult {
	x := append([]float64(nil), x0...)
	dim := len(x)
	gd := make([]float64, dim)
	cand := make([]float64, dim)
	for it := 0; it < 20; it++ {
		p.DeflatedGrad(gd, x)
		if floats.Norm(gd, 2) <= p.Tol {
			if !p.Bounds.Contains(x) || p.Defl.Value(x) == 0 {
				return p.failAt(x)
			}
			return p.successAt(x)
		}
		fx := p.Func(x)
		norm2 := floats.Dot(gd, gd)
		s := 1.0
		moved := false
		for bt := 0; bt < 10; bt++ {
			for i := range cand {
				cand[i] = x[i] - s*gd[i]
			}
			if p.Bounds.Contains(cand) && p.Func(cand) <= fx-0.5*s*norm2 {
				copy(x, cand)
				moved = true
				break
			}
			s *= 0.5
		}
		if !moved {
			return p.failAt(x)
		}
	}
	p.DeflatedGrad(gd, x)
	if floats.Norm(gd, 2) <= p.Tol && p.Bounds.Contains(x) && p.Defl.Value(x) > 0 {
		return p.successAt(x)
	}
	return p.failAt(x)
}

func (p *LocalProblem) successAt(x []float64) LocalResult {
	gd := p.DeflatedGrad(nil, x)
	return LocalResult{
		X:        append([]float64(nil), x...),
		F:        p.Func(x),
		GradNorm: floats.Norm(gd, 2),
		Eigvals:  p.eigvalsAt(x),
		Success:  true,
	}
}

func (p *LocalProblem) failAt(x []float64) LocalResult {
	f := math.NaN()
	if p.Bounds.Contains(x) {
		f = p.Func(x)
	}
	return LocalResult{X: append([]float64(nil), x...), F: f, Success: false}
}
