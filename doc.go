// Package hgdl implements HGDL (Hybrid Global Deflated Local), an
// asynchronous optimizer that finds many local minima of a scalar function
// on a box domain.
//
// HGDL runs rounds ("epochs") of deflated local searches from a set of
// walkers. Converged walkers are merged into a sorted, deduplicated list of
// stationary points, and every known stationary point deflates the gradient
// seen by later walkers, repelling them from optima that have already been
// found. Between epochs a global strategy (genetic, gaussian or uniform)
// reseeds the walkers from the best optima so far.
//
// The deflation scheme follows
//
//	Farrell, P.E., Birkisson, A. and Funke, S.W. "Deflation techniques for
//	finding distinct solutions of nonlinear partial differential equations."
//	SIAM Journal on Scientific Computing 37.4 (2015).
//
// The caller submits a problem with Optimize and immediately gets control
// back; GetLatest polls a growing snapshot of the optima list, GetFinal
// blocks until the run finishes, and Cancel/Shutdown stop it.
package hgdl
