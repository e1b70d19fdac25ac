package hgdl

import (
	"sync/atomic"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// State reports where the engine is in its lifecycle.
type State int32

const (
	// StateInit means Optimize has not been called.
	StateInit State = iota
	// StateRunning means epochs are in progress.
	StateRunning
	// StateFinished means the maximum epoch count completed.
	StateFinished
	// StateCancelled means the cancellation flag was observed at an epoch
	// boundary.
	StateCancelled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "init"
	}
}

// engine is the epoch coordinator. It owns the optima store exclusively;
// walker tasks only ever see epoch-scoped copies of the deflation points,
// and their results come back over a completion channel.
type engine struct {
	f      func(x []float64) float64
	grad   func(x []float64) []float64
	hess   func(x []float64) *mat.SymDense
	bounds Bounds

	store  *optimaStore
	exec   Executor
	local  LocalMinimizer
	reseed Reseeder
	rnd    *rand.Rand

	walkers int
	epochs  int
	radius  float64
	maxIter int
	tol     float64

	logger golog.Logger
	cancel *atomic.Bool
	cell   *atomic.Pointer[Snapshot]
	state  atomic.Int32
	done   chan struct{}
}

// run executes epochs until the budget is exhausted or cancellation is
// observed. Epoch 0 starts from the caller-supplied positions; later
// epochs reseed from the best optima.
func (e *engine) run(x0 [][]float64) {
	defer close(e.done)
	e.state.Store(int32(StateRunning))
	e.logger.Infow("hgdl engine started", "walkers", e.walkers, "epochs", e.epochs, "radius", e.radius)

	starts := e.padStarts(x0)
	for epoch := 0; epoch < e.epochs; epoch++ {
		xdefl := e.store.DeflationPoints()
		if epoch > 0 {
			starts = e.reseed.Reseed(e.rnd, e.store.TopK(e.walkers), e.bounds, e.walkers)
		}
		cands := e.dispatch(starts, xdefl)
		accepted := e.merge(cands)
		e.publish()
		if epoch == 0 {
			e.logger.Infow("first epoch complete", "found", accepted)
		} else {
			e.logger.Debugw("epoch complete", "epoch", epoch, "accepted", accepted, "optima", e.store.Len())
		}
		if e.cancel.Load() {
			e.publish()
			e.state.Store(int32(StateCancelled))
			e.logger.Infow("hgdl engine cancelled", "epoch", epoch, "optima", e.store.Len())
			return
		}
	}
	e.state.Store(int32(StateFinished))
	e.logger.Infow("hgdl engine finished", "optima", e.store.Len())
}

// padStarts fits the caller-supplied starting positions to the walker
// count: short lists are padded with uniform draws, long ones truncated.
func (e *engine) padStarts(x0 [][]float64) [][]float64 {
	starts := make([][]float64, 0, e.walkers)
	for _, x := range x0 {
		if len(starts) == e.walkers {
			break
		}
		starts = append(starts, append([]float64(nil), x...))
	}
	for len(starts) < e.walkers {
		starts = append(starts, e.bounds.SampleInto(e.rnd, make([]float64, e.bounds.Dim())))
	}
	return starts
}

// dispatch fans one epoch's walkers out to the executor and collects their
// results in arrival order. A walker that panics contributes a failed
// result; one that cannot be submitted is logged and contributes nothing.
func (e *engine) dispatch(starts, xdefl [][]float64) []LocalResult {
	lp := &LocalProblem{
		Func:    e.f,
		Grad:    e.grad,
		Hess:    e.hess,
		Bounds:  e.bounds,
		Defl:    &Deflation{Radius: e.radius, Points: xdefl},
		MaxIter: e.maxIter,
		Tol:     e.tol,
	}
	results := make(chan LocalResult, len(starts))
	submitted := 0
	for _, start := range starts {
		start := start
		err := e.exec.Submit(func() {
			results <- e.runWalker(lp, start)
		})
		if err != nil {
			e.logger.Debugw("walker not submitted", "error", err)
			continue
		}
		submitted++
	}
	out := make([]LocalResult, 0, submitted)
	for i := 0; i < submitted; i++ {
		out = append(out, <-results)
	}
	return out
}

// runWalker runs one local search, converting a panic in a user callable
// into a failed result so a bad walker never aborts the run.
func (e *engine) runWalker(lp *LocalProblem, start []float64) (res LocalResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debugw("walker failed", "error", errors.Errorf("callable panicked: %v", r))
			res = LocalResult{X: start, Success: false}
		}
	}()
	return e.local.Minimize(lp, start)
}

// merge folds successful, in-box candidates into the store.
func (e *engine) merge(cands []LocalResult) int {
	recs := make([]OptimumRecord, 0, len(cands))
	for _, c := range cands {
		if !c.Success || !e.bounds.Contains(c.X) {
			continue
		}
		recs = append(recs, OptimumRecord{
			X:        c.X,
			F:        c.F,
			GradNorm: c.GradNorm,
			Eigvals:  c.Eigvals,
			Success:  true,
		})
	}
	return e.store.Merge(recs)
}

// publish swaps a fresh snapshot into the caller-visible cell.
func (e *engine) publish() {
	e.cell.Store(e.store.Snapshot())
}
