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

// Package sos solves the scalar radiative transfer equation by
// successive orders of scattering on the problem grid.
//
// The engine attenuates the collimated solar beam plane-parallel
// within each grid column and treats multiple scattering as isotropic
// exchange between neighboring grid points. It uses no discrete
// ordinate quadrature, so the NumMu and NumPhi settings of a channel
// problem have no effect here, and the solar azimuth does not enter
// the beam attenuation.
package sos

import (
	"context"
	"fmt"
	"math"

	"github.com/ctessum/sparse"

	"github.com/spectralmodel/smrt"
)

// defaultAccuracy is the relative change between successive iterates
// below which the solution is considered converged when the channel
// problem does not set one.
const defaultAccuracy = 1.e-4

// An Engine solves channel problems by successive orders of
// scattering. It holds no state, so one engine may solve any number of
// problems concurrently. It fulfils the
// github.com/spectralmodel/smrt.Engine interface.
type Engine struct{}

// New creates a successive order of scattering engine.
func New() *Engine { return new(Engine) }

// A bond is a pair of grid points adjacent along one axis and the
// beam transmission between them.
type bond struct {
	a, b int
	t    float64
}

// Solve implements the Engine interface. The returned radiance holds
// the source function iterate for the channel; with status
// MaxIterExceeded it is the most recent iterate rather than a
// converged solution.
func (e *Engine) Solve(ctx context.Context, p *smrt.ChannelProblem, maxIterations int) (smrt.SolveResult, error) {
	o := p.Optics
	if o == nil {
		return smrt.SolveResult{}, smrt.ConfigurationError{Problem: fmt.Sprintf(
			"sos: channel %d (%g μm) has no optical properties", p.Channel.Index, p.Channel.Wavelength)}
	}
	accuracy := p.Numerics.SolutionAccuracy
	if accuracy <= 0 {
		accuracy = defaultAccuracy
	}

	j := firstOrderSource(o, p.Solar)
	if hasNonFinite(j) {
		return smrt.SolveResult{}, smrt.DivergenceError{
			Channel: p.Channel.Index, Wavelength: p.Channel.Wavelength, Iteration: 0}
	}
	if maxIterations == 0 {
		return e.result(smrt.MaxIterExceeded, 0, o, j)
	}

	bonds, counts := gridBonds(o)
	j1 := make([]float64, len(j))
	copy(j1, j)
	jNew := make([]float64, len(j))
	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return smrt.SolveResult{}, err
		}
		for m := range jNew {
			jNew[m] = 0
		}
		for _, b := range bonds {
			jNew[b.a] += b.t * j[b.b]
			jNew[b.b] += b.t * j[b.a]
		}
		var maxDelta, maxJ float64
		for m, exchange := range jNew {
			if counts[m] > 0 {
				exchange /= float64(counts[m])
			}
			v := j1[m] + o.Albedo.Elements[m]*exchange
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return smrt.SolveResult{}, smrt.DivergenceError{
					Channel: p.Channel.Index, Wavelength: p.Channel.Wavelength, Iteration: iteration}
			}
			if delta := math.Abs(v - j[m]); delta > maxDelta {
				maxDelta = delta
			}
			if v > maxJ {
				maxJ = v
			}
			jNew[m] = v
		}
		j, jNew = jNew, j
		if maxJ == 0 || maxDelta/maxJ < accuracy {
			return e.result(smrt.Converged, iteration, o, j)
		}
	}
	return e.result(smrt.MaxIterExceeded, maxIterations, o, j)
}

func (e *Engine) result(status smrt.SolveStatus, iterations int, o *smrt.Optics, j []float64) (smrt.SolveResult, error) {
	data := sparse.ZerosDense(o.Grid.Shape()...)
	copy(data.Elements, j)
	radiance, err := smrt.NewField("source function", "W m-2 sr-1", o.Grid, data)
	if err != nil {
		return smrt.SolveResult{}, err
	}
	return smrt.SolveResult{Status: status, Iterations: iterations, Radiance: radiance}, nil
}

// firstOrderSource returns the source function from single scattering
// of the direct solar beam. The beam optical depth to each point is the
// vertical optical depth from the domain top, integrated by the
// trapezoid rule down each column, divided by the cosine of the beam
// zenith angle.
func firstOrderSource(o *smrt.Optics, solar smrt.Solar) []float64 {
	shape := o.Grid.Shape()
	nz, ny, nx := shape[0], shape[1], shape[2]
	z := o.Grid.Z()
	mu0 := math.Abs(math.Cos(solar.Zenith * math.Pi / 180))
	beta := o.Extinction.Elements

	j := make([]float64, len(beta))
	for jj := 0; jj < ny; jj++ {
		for i := 0; i < nx; i++ {
			tau := 0.
			for k := nz - 1; k >= 0; k-- {
				m := (k*ny+jj)*nx + i
				if k < nz-1 {
					above := ((k+1)*ny+jj)*nx + i
					tau += 0.5 * (beta[m] + beta[above]) * (z[k+1] - z[k])
				}
				j[m] = o.Albedo.Elements[m] * solar.Flux * math.Exp(-tau/mu0) / (4 * math.Pi)
			}
		}
	}
	return j
}

// gridBonds returns the neighbor pairs of the grid along all axes,
// with the transmission exp(-β̄d) across each pair, plus the number of
// neighbors of each point.
func gridBonds(o *smrt.Optics) ([]bond, []int) {
	shape := o.Grid.Shape()
	nz, ny, nx := shape[0], shape[1], shape[2]
	beta := o.Extinction.Elements
	counts := make([]int, len(beta))
	var bonds []bond
	pair := func(a, b int, d float64) {
		t := math.Exp(-0.5 * (beta[a] + beta[b]) * d)
		bonds = append(bonds, bond{a: a, b: b, t: t})
		counts[a]++
		counts[b]++
	}
	z, y, x := o.Grid.Z(), o.Grid.Y(), o.Grid.X()
	for k := 0; k < nz; k++ {
		for jj := 0; jj < ny; jj++ {
			for i := 0; i < nx; i++ {
				m := (k*ny+jj)*nx + i
				if k+1 < nz {
					pair(m, ((k+1)*ny+jj)*nx+i, z[k+1]-z[k])
				}
				if jj+1 < ny {
					pair(m, (k*ny+jj+1)*nx+i, y[jj+1]-y[jj])
				}
				if i+1 < nx {
					pair(m, m+1, x[i+1]-x[i])
				}
			}
		}
	}
	return bonds, counts
}

// hasNonFinite reports whether s contains a NaN or infinite value.
func hasNonFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
