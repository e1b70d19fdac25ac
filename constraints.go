package hgdl

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Constraint types.
const (
	ConstraintEq = "="
	ConstraintLt = "<"
	ConstraintGt = ">"
)

// NLC is a nonlinear constraint g(x) = / <= / >= Value, lifted into the
// objective as a Lagrangian term. Every constraint appends a multiplier
// variable to x; inequality constraints also append a squared slack.
type NLC struct {
	Type string // "=", "<" or ">"
	// Fn and GradFn evaluate g and its gradient with respect to the
	// original variables. Args from the Problem are forwarded.
	Fn     func(x []float64, args ...any) float64
	GradFn func(x []float64, args ...any) []float64
	Value  float64
	// LambdaBounds and SlackBounds become rows of the lifted box.
	LambdaBounds [2]float64
	SlackBounds  [2]float64 // ignored for equality constraints
	// InitialLambda and InitialSlack pad caller-supplied starting points
	// that are given in the original coordinates.
	InitialLambda float64
	InitialSlack  float64
}

func (c NLC) sign() float64 {
	switch c.Type {
	case ConstraintLt:
		return 1
	case ConstraintGt:
		return -1
	default:
		return 0
	}
}

func (c NLC) hasSlack() bool { return c.Type != ConstraintEq }

func validateConstraints(cons []NLC) error {
	for i, c := range cons {
		if c.Type != ConstraintEq && c.Type != ConstraintLt && c.Type != ConstraintGt {
			return errors.Wrapf(ErrInvalidArgument, "constraint %d has type %q", i, c.Type)
		}
		if c.Fn == nil || c.GradFn == nil {
			return errors.Wrapf(ErrInvalidArgument, "constraint %d is missing fn or grad", i)
		}
		if !(c.LambdaBounds[0] < c.LambdaBounds[1]) {
			return errors.Wrapf(ErrInvalidArgument, "constraint %d has empty lambda bounds", i)
		}
		if c.hasSlack() && !(c.SlackBounds[0] < c.SlackBounds[1]) {
			return errors.Wrapf(ErrInvalidArgument, "constraint %d has empty slack bounds", i)
		}
	}
	return nil
}

// liftConstraints rewrites the problem over the augmented variable vector
// [x, lambda_0, (s_0,) lambda_1, ...] with objective
//
//	L(x, lambda, s) = f(x) + sum_j lambda_j * (g_j(x) - v_j +/- s_j^2)
//
// Stationary points of L are constrained stationary points of f. The
// lifted problem carries no Hessian.
func liftConstraints(p Problem, cons []NLC) Problem {
	d := p.Bounds.Dim()
	offs := make([]int, len(cons)) // multiplier index per constraint
	lo, hi := []float64{}, []float64{}
	at := d
	for j, c := range cons {
		offs[j] = at
		lo = append(lo, c.LambdaBounds[0])
		hi = append(hi, c.LambdaBounds[1])
		at++
		if c.hasSlack() {
			lo = append(lo, c.SlackBounds[0])
			hi = append(hi, c.SlackBounds[1])
			at++
		}
	}
	lifted := Problem{
		Bounds: p.Bounds.Stack(lo, hi),
		Args:   p.Args,
	}
	residual := func(z []float64, j int, args ...any) float64 {
		c := cons[j]
		r := c.Fn(z[:d], args...) - c.Value
		if c.hasSlack() {
			s := z[offs[j]+1]
			r += c.sign() * s * s
		}
		return r
	}
	lifted.Func = func(z []float64, args ...any) float64 {
		v := p.Func(z[:d], args...)
		for j := range cons {
			v += z[offs[j]] * residual(z, j, args...)
		}
		return v
	}
	lifted.Grad = func(z []float64, args ...any) []float64 {
		out := make([]float64, len(z))
		copy(out, p.Grad(z[:d], args...))
		for j, c := range cons {
			lambda := z[offs[j]]
			floats.AddScaled(out[:d], lambda, c.GradFn(z[:d], args...))
			out[offs[j]] = residual(z, j, args...)
			if c.hasSlack() {
				s := z[offs[j]+1]
				out[offs[j]+1] = 2 * c.sign() * lambda * s
			}
		}
		return out
	}
	return lifted
}

// liftStart pads a starting point given in the original coordinates with
// each constraint's initial multiplier and slack. Points already in the
// lifted dimension pass through unchanged.
func liftStart(x []float64, d int, cons []NLC) []float64 {
	lifted := d
	for _, c := range cons {
		lifted++
		if c.hasSlack() {
			lifted++
		}
	}
	if len(x) == lifted {
		return x
	}
	out := append([]float64(nil), x...)
	for _, c := range cons {
		out = append(out, c.InitialLambda)
		if c.hasSlack() {
			out = append(out, c.InitialSlack)
		}
	}
	return out
}
