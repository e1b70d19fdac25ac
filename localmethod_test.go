package hgdl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestLocalMinimizerByName(t *testing.T) {
	for _, name := range []string{"", LocalDNewton, LocalLBFGSB, LocalBFGS, LocalCG, LocalNewtonCG} {
		m, err := localMinimizerByName(name)
		require.NoError(t, err, name)
		require.NotNil(t, m)
	}
	_, err := localMinimizerByName("nelder-mead")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGonumMinimizersOnQuadratic(t *testing.T) {
	for _, name := range []string{LocalLBFGSB, LocalBFGS, LocalCG, LocalNewtonCG} {
		name := name
		t.Run(name, func(t *testing.T) {
			m, err := localMinimizerByName(name)
			require.NoError(t, err)
			p := quadraticProblem(t, []float64{2, 6}, []float64{-10, -10}, []float64{10, 10}, &Deflation{Radius: 0.01})
			res := m.Minimize(p, []float64{3, -2})
			require.True(t, res.Success, "method %s did not converge", name)
			assert.InDelta(t, 0, floats.Norm(res.X, 2), 1e-5)
			assert.LessOrEqual(t, res.GradNorm, p.Tol)
			require.Len(t, res.Eigvals, 2)
			assert.Equal(t, ClassMinimum, Classify(res.Eigvals))
		})
	}
}

// Gonum methods see the deflated gradient, so they stall around known
// optima instead of reconverging to them.
func TestGonumMinimizerRespectsDeflation(t *testing.T) {
	m, err := localMinimizerByName(LocalLBFGSB)
	require.NoError(t, err)
	defl := &Deflation{Radius: 0.5, Points: [][]float64{{0, 0}}}
	p := quadraticProblem(t, []float64{2, 2}, []float64{-10, -10}, []float64{10, 10}, defl)
	res := m.Minimize(p, []float64{3, 3})
	if res.Success {
		assert.Greater(t, floats.Norm(res.X, 2), 1e-3)
	}
}

type countingMinimizer struct{ calls chan struct{} }

func (c countingMinimizer) Minimize(p *LocalProblem, x0 []float64) LocalResult {
	c.calls <- struct{}{}
	return p.failAt(x0)
}

func TestCustomLocalMinimizerIsUsed(t *testing.T) {
	calls := make(chan struct{}, 64)
	b, err := NewBounds([]float64{-1}, []float64{1})
	require.NoError(t, err)
	h, err := New(Problem{
		Bounds: b,
		Func:   func(x []float64, _ ...any) float64 { return x[0] * x[0] },
		Grad:   func(x []float64, _ ...any) []float64 { return []float64{2 * x[0]} },
	}, Settings{
		NumEpochs:       1,
		NumberOfWalkers: 3,
		LocalMinimizer:  countingMinimizer{calls: calls},
	})
	require.NoError(t, err)
	require.NoError(t, h.Optimize(nil))
	_, err = h.GetFinal(-1)
	require.NoError(t, err)
	assert.Len(t, calls, 3)
	_, err = h.Shutdown(-1)
	require.NoError(t, err)
}
