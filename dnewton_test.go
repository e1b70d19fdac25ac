package hgdl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// quadratic problem f(x) = x'Ax/2 with A = diag(a).
func quadraticProblem(t *testing.T, a []float64, lo, hi []float64, defl *Deflation) *LocalProblem {
	t.Helper()
	b, err := NewBounds(lo, hi)
	require.NoError(t, err)
	dim := len(a)
	return &LocalProblem{
		Func: func(x []float64) float64 {
			v := 0.0
			for i := range x {
				v += 0.5 * a[i] * x[i] * x[i]
			}
			return v
		},
		Grad: func(x []float64) []float64 {
			g := make([]float64, dim)
			for i := range x {
				g[i] = a[i] * x[i]
			}
			return g
		},
		Hess: func(x []float64) *mat.SymDense {
			h := mat.NewSymDense(dim, nil)
			for i := range a {
				h.SetSym(i, i, a[i])
			}
			return h
		},
		Bounds:  b,
		Defl:    defl,
		MaxIter: 100,
		Tol:     1e-6,
	}
}

// With no deflation points the iteration is plain Newton: a strictly
// convex quadratic converges to the origin from any start.
func TestDNewtonPlainNewtonOnQuadratic(t *testing.T) {
	p := quadraticProblem(t, []float64{2, 5}, []float64{-10, -10}, []float64{10, 10}, &Deflation{Radius: 0.1})
	res := DNewton{}.Minimize(p, []float64{3, -4})
	require.True(t, res.Success)
	assert.InDelta(t, 0, floats.Norm(res.X, 2), 1e-9)
	assert.InDelta(t, 0, res.F, 1e-12)
	assert.LessOrEqual(t, res.GradNorm, 1e-6)
	require.Len(t, res.Eigvals, 2)
	assert.InDelta(t, 2, res.Eigvals[0], 1e-9)
	assert.InDelta(t, 5, res.Eigvals[1], 1e-9)
}

// A walker sitting exactly on a deflation point must fail instead of
// dividing by d=0.
func TestDNewtonStartOnDeflationPoint(t *testing.T) {
	start := []float64{0.25, 0.25}
	defl := &Deflation{Radius: 0.5, Points: [][]float64{append([]float64(nil), start...)}}
	p := quadraticProblem(t, []float64{2, 2}, []float64{-1, -1}, []float64{1, 1}, defl)
	res := DNewton{}.Minimize(p, start)
	assert.False(t, res.Success)
}

// Deflating the only minimum keeps walkers from reconverging to it.
func TestDNewtonDeflectedFromKnownOptimum(t *testing.T) {
	defl := &Deflation{Radius: 0.5, Points: [][]float64{{0, 0}}}
	p := quadraticProblem(t, []float64{2, 2}, []float64{-10, -10}, []float64{10, 10}, defl)
	res := DNewton{}.Minimize(p, []float64{0.3, 0.1})
	if res.Success {
		// Whatever the walker settled on, it is not the deflated origin.
		assert.Greater(t, floats.Norm(res.X, 2), 1e-3)
	}
}

// A minimum outside the box cannot be reached: the fallback descent keeps
// candidates in the box and the walker reports failure.
func TestDNewtonMinimumOutsideBox(t *testing.T) {
	b, err := NewBounds([]float64{-5}, []float64{5})
	require.NoError(t, err)
	p := &LocalProblem{
		Func:    func(x []float64) float64 { v := x[0] - 10; return v * v },
		Grad:    func(x []float64) []float64 { return []float64{2 * (x[0] - 10)} },
		Bounds:  b,
		Defl:    &Deflation{Radius: 0.1},
		MaxIter: 100,
		Tol:     1e-6,
	}
	res := DNewton{}.Minimize(p, []float64{4})
	assert.False(t, res.Success)
}

// Without a user Hessian the forward-difference approximation still gives
// quadratic convergence, but no eigenvalues are reported.
func TestDNewtonApproximateHessian(t *testing.T) {
	b, err := NewBounds([]float64{-10, -10}, []float64{10, 10})
	require.NoError(t, err)
	p := &LocalProblem{
		Func: func(x []float64) float64 { return x[0]*x[0] + 3*x[1]*x[1] + x[0]*x[1] },
		Grad: func(x []float64) []float64 {
			return []float64{2*x[0] + x[1], 6*x[1] + x[0]}
		},
		Bounds:  b,
		Defl:    &Deflation{Radius: 0.1},
		MaxIter: 100,
		Tol:     1e-6,
	}
	res := DNewton{}.Minimize(p, []float64{2, 2})
	require.True(t, res.Success)
	assert.InDelta(t, 0, floats.Norm(res.X, 2), 1e-4)
	assert.Nil(t, res.Eigvals)
}

func TestApproximateHessianValues(t *testing.T) {
	p := &LocalProblem{
		Grad: func(x []float64) []float64 {
			return []float64{2*x[0] + x[1], 6*x[1] + x[0]}
		},
	}
	h := p.hessianAt([]float64{0.7, -0.2})
	assert.InDelta(t, 2, h.At(0, 0), 1e-4)
	assert.InDelta(t, 6, h.At(1, 1), 1e-4)
	assert.InDelta(t, 1, h.At(0, 1), 1e-4)
	assert.InDelta(t, h.At(0, 1), h.At(1, 0), 1e-12)
}

// Singular Hessians fall back to the minimum-norm least-squares step.
func TestSolveNewtonStepSingular(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 0, 0, 0})
	gamma, err := solveNewtonStep(a, []float64{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, -2, gamma[0], 1e-10)
	assert.InDelta(t, 0, gamma[1], 1e-10)
}

func TestSolveNewtonStepRegular(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{2, 0, 0, 4})
	gamma, err := solveNewtonStep(a, []float64{2, -8})
	require.NoError(t, err)
	assert.InDelta(t, -1, gamma[0], 1e-12)
	assert.InDelta(t, 2, gamma[1], 1e-12)
}

func TestProjectedDescentReachesBoxMinimum(t *testing.T) {
	b, err := NewBounds([]float64{-5}, []float64{5})
	require.NoError(t, err)
	p := &LocalProblem{
		Func:    func(x []float64) float64 { return x[0] * x[0] },
		Grad:    func(x []float64) []float64 { return []float64{2 * x[0]} },
		Bounds:  b,
		Defl:    &Deflation{Radius: 0.1},
		MaxIter: 100,
		Tol:     1e-6,
	}
	res := projectedDescent(p, []float64{1})
	require.True(t, res.Success)
	assert.Less(t, math.Abs(res.X[0]), 1e-6)
}
