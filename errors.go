package hgdl

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned synchronously from New and Optimize
	// when the problem or starting positions are malformed.
	ErrInvalidArgument = errors.New("hgdl: invalid argument")

	// ErrExecutorGone is returned from handle operations after Shutdown.
	ErrExecutorGone = errors.New("hgdl: executor has been shut down")

	// ErrCancelled reports that the run was stopped by Cancel or Shutdown.
	// It is a normal termination: the snapshot taken at the moment of
	// cancellation remains available.
	ErrCancelled = errors.New("hgdl: run cancelled")
)
