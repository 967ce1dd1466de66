/*
Copyright © 2025 the SMRT authors.
This file is part of SMRT.

SMRT is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SMRT is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SMRT.  If not, see <http://www.gnu.org/licenses/>.
*/

package smrt

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// SolveStatus describes the progress of the radiative transfer
// solution for one channel.
type SolveStatus int

const (
	// Unsolved means no solution has been attempted.
	Unsolved SolveStatus = iota

	// Iterating means a solution is in progress.
	Iterating

	// Converged means the solution met the accuracy criterion within
	// the iteration budget.
	Converged

	// MaxIterExceeded means the iteration budget was exhausted before
	// the accuracy criterion was met. The most recent iterate is
	// retained and may be rendered like a converged solution.
	MaxIterExceeded

	// Diverged means the solution produced non-finite values and was
	// abandoned.
	Diverged
)

func (s SolveStatus) String() string {
	switch s {
	case Unsolved:
		return "unsolved"
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case MaxIterExceeded:
		return "maximum iterations exceeded"
	case Diverged:
		return "diverged"
	default:
		return fmt.Sprintf("SolveStatus(%d)", int(s))
	}
}

// A SolveResult is an engine's answer for one channel. Status is
// either Converged or MaxIterExceeded; engines report divergence by
// returning a DivergenceError instead of a result.
type SolveResult struct {
	Status SolveStatus

	// Iterations is the number of iterations that were performed.
	Iterations int

	// Radiance is the most recent radiance iterate on the problem
	// grid in W/m²/sr.
	Radiance *Field
}

// An Engine solves the radiative transfer equation for a single
// channel problem. Solve is called concurrently from multiple
// goroutines with distinct problems, so implementations must not
// share mutable state between calls. An engine reports divergence by
// returning a DivergenceError, which stops only the channel that
// produced it; any other error is treated as fatal to the whole run.
type Engine interface {
	Solve(ctx context.Context, p *ChannelProblem, maxIterations int) (SolveResult, error)
}

// A SolverArray manages the independent solution of a set of channel
// problems, one solver per spectral channel. The zero value is not
// usable; use NewSolverArray.
type SolverArray struct {
	// Workers sets the number of channels solved concurrently. Zero
	// selects the number of processors.
	Workers int

	// Log receives progress information.
	Log logrus.FieldLogger

	engine   Engine
	problems []*ChannelProblem
}

// NewSolverArray creates an empty solver array that will solve its
// channels with the given engine.
func NewSolverArray(engine Engine) *SolverArray {
	return &SolverArray{
		Log:    logrus.StandardLogger(),
		engine: engine,
	}
}

// AddSolver appends a solver for channel problem p. The problem's
// channel index must equal the position it is appended at, and its
// channel must not already be present, so that the array order, the
// channel indices, and the wavelengths can never disagree.
func (sa *SolverArray) AddSolver(p *ChannelProblem) error {
	if int(p.Channel.Index) != len(sa.problems) {
		return configErrorf("smrt: adding solver for channel %d (%g μm) at position %d; the channel index must match its position",
			p.Channel.Index, p.Channel.Wavelength, len(sa.problems))
	}
	for _, q := range sa.problems {
		if WavelengthKey(q.Channel.Wavelength) == WavelengthKey(p.Channel.Wavelength) {
			return configErrorf("smrt: adding solver for channel %d: %g μm is already held by channel %d",
				p.Channel.Index, p.Channel.Wavelength, q.Channel.Index)
		}
	}
	sa.problems = append(sa.problems, p)
	return nil
}

// Len returns the number of channels in the array.
func (sa *SolverArray) Len() int { return len(sa.problems) }

// Problems returns the channel problems ordered by channel index. The
// caller must not modify the returned slice.
func (sa *SolverArray) Problems() []*ChannelProblem { return sa.problems }

// Wavelengths returns the channel wavelengths in μm ordered by
// channel index.
func (sa *SolverArray) Wavelengths() []float64 {
	w := make([]float64, len(sa.problems))
	for i, p := range sa.problems {
		w[i] = p.Channel.Wavelength
	}
	return w
}

// Solve solves all channels concurrently, giving each channel the same
// iteration budget, and blocks until every channel has either
// converged, exhausted its budget, or diverged. Non-convergence and
// divergence are per-channel outcomes reported by Statuses, not
// errors; Solve returns an error only when the whole run cannot
// continue, for example when the context is canceled.
func (sa *SolverArray) Solve(ctx context.Context, maxIterations int) error {
	if sa.engine == nil {
		return configErrorf("smrt: solving: no engine")
	}
	if maxIterations < 0 {
		return configErrorf("smrt: solving: iteration budget %d is negative", maxIterations)
	}
	log := sa.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	nprocs := sa.Workers
	if nprocs < 1 {
		nprocs = runtime.GOMAXPROCS(-1)
	}

	jobChan := make(chan *ChannelProblem, len(sa.problems))
	errChan := make(chan error)
	for w := 0; w < nprocs; w++ {
		go func() {
			for p := range jobChan {
				if err := ctx.Err(); err != nil {
					errChan <- err
					return
				}
				if err := sa.solveOne(ctx, p, maxIterations, log); err != nil {
					errChan <- err
					return
				}
			}
			errChan <- nil
		}()
	}
	for _, p := range sa.problems {
		jobChan <- p
	}
	close(jobChan)
	var firstErr error
	for w := 0; w < nprocs; w++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// solveOne runs the engine for one channel and records the outcome on
// the problem. It returns an error only for failures that should stop
// the whole run.
func (sa *SolverArray) solveOne(ctx context.Context, p *ChannelProblem, maxIterations int, log logrus.FieldLogger) error {
	clog := log.WithFields(logrus.Fields{
		"channel":    int(p.Channel.Index),
		"wavelength": p.Channel.Wavelength,
	})
	clog.Info("solving channel")
	p.status = Iterating
	result, err := sa.engine.Solve(ctx, p, maxIterations)
	if err != nil {
		if dErr, ok := err.(DivergenceError); ok {
			p.status = Diverged
			p.iterations = dErr.Iteration
			p.solveErr = dErr
			clog.WithFields(logrus.Fields{"iteration": dErr.Iteration}).Warn("channel solution diverged")
			return nil
		}
		p.status = Unsolved
		return fmt.Errorf("smrt: solving channel %d (%g μm): %v", p.Channel.Index, p.Channel.Wavelength, err)
	}
	switch result.Status {
	case Converged:
		clog.WithFields(logrus.Fields{"iterations": result.Iterations}).Info("channel converged")
	case MaxIterExceeded:
		clog.WithFields(logrus.Fields{"iterations": result.Iterations}).
			Warn("channel did not converge within the iteration budget")
	default:
		return fmt.Errorf("smrt: solving channel %d (%g μm): engine returned status %v",
			p.Channel.Index, p.Channel.Wavelength, result.Status)
	}
	if result.Radiance == nil {
		return fmt.Errorf("smrt: solving channel %d (%g μm): engine returned no radiance",
			p.Channel.Index, p.Channel.Wavelength)
	}
	p.status = result.Status
	p.iterations = result.Iterations
	p.radiance = result.Radiance
	return nil
}

// A ChannelStatus reports the solution outcome for one channel.
type ChannelStatus struct {
	Channel    Channel
	Status     SolveStatus
	Iterations int

	// Err is the error that stopped the channel, if any.
	Err error
}

// Statuses reports the per-channel outcomes, ordered by channel index.
func (sa *SolverArray) Statuses() []ChannelStatus {
	out := make([]ChannelStatus, len(sa.problems))
	for i, p := range sa.problems {
		out[i] = ChannelStatus{
			Channel:    p.Channel,
			Status:     p.status,
			Iterations: p.iterations,
			Err:        p.solveErr,
		}
	}
	return out
}
