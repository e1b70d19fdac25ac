package hgdl

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Problem is the immutable optimization problem: a box domain and the
// user callables. Func and Grad are required; Hess is optional and, when
// present, enables classification of the stored stationary points. Args
// are forwarded to every callable. All callables must be pure and safe
// for concurrent use.
type Problem struct {
	Bounds Bounds
	Func   func(x []float64, args ...any) float64
	Grad   func(x []float64, args ...any) []float64
	Hess   func(x []float64, args ...any) *mat.SymDense
	Args   []any
}

// Settings tunes a run. The zero value of every field selects its
// default.
type Settings struct {
	// NumEpochs is the maximum epoch count. Default 100000.
	NumEpochs int
	// NumberOfWalkers fixes W, the number of parallel local searches per
	// epoch. Default 20.
	NumberOfWalkers int
	// GlobalOptimizer names the reseed strategy: "genetic" (default),
	// "gauss" or "random". GlobalReseeder overrides it.
	GlobalOptimizer string
	GlobalReseeder  Reseeder
	// LocalOptimizer names the local method: "L-BFGS-B" (default),
	// "dNewton", "BFGS", "CG" or "Newton-CG". LocalMinimizer overrides
	// it.
	LocalOptimizer string
	LocalMinimizer LocalMinimizer
	// NumberOfOptima bounds the optima list. Default 1e6.
	NumberOfOptima int
	// Radius is the deflation (and merge) radius. Default is the smallest
	// box extent divided by 1000.
	Radius float64
	// LocalMaxIter is the per-walker iteration budget. Default 100.
	LocalMaxIter int
	// Tolerance is the deflated-gradient norm target. Default 1e-6.
	Tolerance float64
	// Constraints are lifted into a Lagrangian before the run; see NLC.
	Constraints []NLC
	// Executor runs walker tasks. Default is an owned goroutine pool of
	// NumberOfWalkers workers, disposed by Shutdown.
	Executor Executor
	// Src seeds all sampling. Default is time-seeded.
	Src rand.Source
	// Logger receives engine progress. Default discards everything.
	Logger golog.Logger
}

func (s Settings) withDefaults(b Bounds) Settings {
	if s.NumEpochs == 0 {
		s.NumEpochs = 100000
	}
	if s.NumberOfWalkers == 0 {
		s.NumberOfWalkers = 20
	}
	if s.NumberOfOptima == 0 {
		s.NumberOfOptima = 1000000
	}
	if s.Radius == 0 {
		s.Radius = b.MinWidth() / 1000
	}
	if s.LocalMaxIter == 0 {
		s.LocalMaxIter = 100
	}
	if s.Tolerance == 0 {
		s.Tolerance = 1e-6
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop().Sugar()
	}
	return s
}

// HGDL is the caller's handle on an asynchronous run. Optimize returns
// immediately; GetLatest polls the last published snapshot, GetFinal
// blocks for the run to end, Cancel and Shutdown stop it.
type HGDL struct {
	prob    Problem // lifted when constraints are present
	origDim int
	cons    []NLC
	set     Settings

	exec    Executor
	ownExec bool
	rnd     *rand.Rand

	cancel atomic.Bool
	cell   atomic.Pointer[Snapshot]

	mu       sync.Mutex
	eng      *engine
	shutdown bool
}

// New validates the problem and prepares a handle. Constraints, when
// present, are lifted into the Lagrangian here, so the run operates on
// the augmented variables.
func New(prob Problem, set Settings) (*HGDL, error) {
	if prob.Func == nil || prob.Grad == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "problem needs func and grad")
	}
	if prob.Bounds.Dim() == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "problem needs bounds")
	}
	if _, err := NewBounds(prob.Bounds.Lo, prob.Bounds.Hi); err != nil {
		return nil, err
	}
	if err := validateConstraints(set.Constraints); err != nil {
		return nil, err
	}
	// Range-check the numeric settings before any of them reach slice
	// capacity arithmetic; zero means "use the default".
	if set.NumberOfWalkers < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "number of walkers %d", set.NumberOfWalkers)
	}
	if set.NumberOfOptima < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "number of optima %d", set.NumberOfOptima)
	}
	if set.NumEpochs < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "num epochs %d", set.NumEpochs)
	}
	if set.LocalMaxIter < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "local max iter %d", set.LocalMaxIter)
	}
	if set.Radius < 0 || set.Tolerance < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "radius %g and tolerance %g must be non-negative", set.Radius, set.Tolerance)
	}
	origDim := prob.Bounds.Dim()
	if len(set.Constraints) > 0 {
		prob = liftConstraints(prob, set.Constraints)
		// Classification needs the Hessian of the Lagrangian, which the
		// lifting does not build.
		prob.Hess = nil
	}
	set = set.withDefaults(prob.Bounds)
	if set.GlobalReseeder == nil {
		r, err := reseederByName(set.GlobalOptimizer)
		if err != nil {
			return nil, err
		}
		set.GlobalReseeder = r
	}
	if set.LocalMinimizer == nil {
		m, err := localMinimizerByName(set.LocalOptimizer)
		if err != nil {
			return nil, err
		}
		set.LocalMinimizer = m
	}
	src := set.Src
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	h := &HGDL{
		prob:    prob,
		origDim: origDim,
		cons:    set.Constraints,
		set:     set,
		rnd:     rand.New(src),
	}
	if set.Executor != nil {
		h.exec = set.Executor
	} else {
		h.exec = NewPoolExecutor(set.NumberOfWalkers)
		h.ownExec = true
	}
	return h, nil
}

// Optimize starts the engine and returns without blocking. x0 supplies
// walker starting positions: fewer than W rows are padded with uniform
// draws, extra rows are dropped. x0 may be nil. When constraints are
// present, rows may be given in the original coordinates; the initial
// multipliers and slacks are appended.
func (h *HGDL) Optimize(x0 [][]float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return ErrExecutorGone
	}
	if h.eng != nil {
		return errors.Wrap(ErrInvalidArgument, "optimize already called")
	}
	dim := h.prob.Bounds.Dim()
	starts := make([][]float64, 0, len(x0))
	for i, x := range x0 {
		if len(h.cons) > 0 {
			x = liftStart(x, h.origDim, h.cons)
		}
		if len(x) != dim {
			return errors.Wrapf(ErrInvalidArgument, "x0[%d] has dimension %d, want %d", i, len(x), dim)
		}
		starts = append(starts, x)
	}
	prob := h.prob
	h.eng = &engine{
		f:       func(x []float64) float64 { return prob.Func(x, prob.Args...) },
		grad:    func(x []float64) []float64 { return prob.Grad(x, prob.Args...) },
		bounds:  prob.Bounds,
		store:   newOptimaStore(h.set.NumberOfOptima, h.set.Radius),
		exec:    h.exec,
		local:   h.set.LocalMinimizer,
		reseed:  h.set.GlobalReseeder,
		rnd:     h.rnd,
		walkers: h.set.NumberOfWalkers,
		epochs:  h.set.NumEpochs,
		radius:  h.set.Radius,
		maxIter: h.set.LocalMaxIter,
		tol:     h.set.Tolerance,
		logger:  h.set.Logger,
		cancel:  &h.cancel,
		cell:    &h.cell,
		done:    make(chan struct{}),
	}
	if prob.Hess != nil {
		h.eng.hess = func(x []float64) *mat.SymDense { return prob.Hess(x, prob.Args...) }
	}
	go h.eng.run(starts)
	return nil
}

// GetLatest returns the best n records from the last published snapshot
// without blocking on the engine. Before the first snapshot it returns an
// empty list. n < 0 means all.
func (h *HGDL) GetLatest(n int) []OptimumRecord {
	s := h.cell.Load()
	if s == nil {
		return []OptimumRecord{}
	}
	return s.Top(n)
}

// GetFinal blocks until the engine reaches StateFinished or
// StateCancelled, then returns the best n records.
func (h *HGDL) GetFinal(n int) ([]OptimumRecord, error) {
	h.mu.Lock()
	eng := h.eng
	h.mu.Unlock()
	if eng == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "optimize has not been called")
	}
	<-eng.done
	return h.GetLatest(n), nil
}

// Cancel sets the cancellation flag and returns the latest snapshot. The
// engine observes the flag at the next epoch boundary; the executor stays
// usable.
func (h *HGDL) Cancel(n int) []OptimumRecord {
	h.cancel.Store(true)
	return h.GetLatest(n)
}

// Shutdown cancels the run, waits for the engine to stop and disposes of
// an owned executor. Handle operations that need the executor return
// ErrExecutorGone afterwards.
func (h *HGDL) Shutdown(n int) ([]OptimumRecord, error) {
	res := h.Cancel(n)
	h.mu.Lock()
	eng := h.eng
	already := h.shutdown
	h.shutdown = true
	h.mu.Unlock()
	if already {
		return res, ErrExecutorGone
	}
	if eng != nil {
		<-eng.done
	}
	var err error
	if h.ownExec {
		err = multierr.Combine(err, h.exec.Close())
	}
	return res, err
}

// State reports the engine lifecycle state.
func (h *HGDL) State() State {
	h.mu.Lock()
	eng := h.eng
	h.mu.Unlock()
	if eng == nil {
		return StateInit
	}
	return State(eng.state.Load())
}

// Err reports how a finished run ended: nil after a full run, ErrCancelled
// after Cancel or Shutdown, and nil while the engine is still running.
func (h *HGDL) Err() error {
	if h.State() == StateCancelled {
		return ErrCancelled
	}
	return nil
}
