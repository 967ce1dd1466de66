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
	"fmt"

	"github.com/ctessum/sparse"
)

// A Medium is a named collection of scatterers that together make up
// an optical atmosphere. Its grid is the union of the constituent
// grids, and its bulk optical properties for a channel are composed
// from the constituents on that union grid.
type Medium struct {
	names      []string // in insertion order
	scatterers map[string]Scatterer
	grid       *Grid
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{scatterers: make(map[string]Scatterer)}
}

// AddScatterer adds a named scatterer to the medium. Adding a name
// that is already present is an error; use SetScatterer to replace a
// constituent.
func (m *Medium) AddScatterer(name string, s Scatterer) error {
	if _, ok := m.scatterers[name]; ok {
		return configErrorf("smrt: medium already contains a scatterer named %s", name)
	}
	m.names = append(m.names, name)
	m.scatterers[name] = s
	m.recomputeGrid()
	return nil
}

// SetScatterer adds or replaces the named scatterer. A replaced
// scatterer keeps its position in the composition order.
func (m *Medium) SetScatterer(name string, s Scatterer) {
	if _, ok := m.scatterers[name]; !ok {
		m.names = append(m.names, name)
	}
	m.scatterers[name] = s
	m.recomputeGrid()
}

func (m *Medium) recomputeGrid() {
	m.grid = nil
	for _, name := range m.names {
		g := m.scatterers[name].Grid()
		if g == nil {
			continue
		}
		if m.grid == nil {
			m.grid = g
		} else {
			m.grid = m.grid.Union(g)
		}
	}
}

// Len returns the number of scatterers in the medium.
func (m *Medium) Len() int { return len(m.names) }

// Names returns the scatterer names in insertion order.
func (m *Medium) Names() []string {
	return append([]string(nil), m.names...)
}

// Grid returns the union of the constituent grids, or nil for an
// empty medium.
func (m *Medium) Grid() *Grid { return m.grid }

// ChannelOptics composes the bulk optical properties of the medium for
// the channel containing the given wavelength in μm, on the medium's
// grid. Extinctions add; the albedo is the extinction-weighted mean of
// the constituent albedos; and the phase function at each point is the
// scattering-coefficient-weighted mixture of the constituent phase
// functions. A constituent contributes nothing at grid points outside
// its native extent. The result may share storage with constituent
// properties.
func (m *Medium) ChannelOptics(wavelength float64) (*Optics, error) {
	if len(m.names) == 0 {
		return nil, configErrorf("smrt: medium contains no scatterers")
	}
	parts := make([]*Optics, 0, len(m.names))
	for _, name := range m.names {
		o, err := m.scatterers[name].OpticsAt(wavelength)
		if err != nil {
			return nil, fmt.Errorf("smrt: medium constituent %s at %g μm: %v", name, wavelength, err)
		}
		o, err = resampleOptics(o, m.grid)
		if err != nil {
			return nil, fmt.Errorf("smrt: resampling medium constituent %s onto the union grid: %v", name, err)
		}
		parts = append(parts, o)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return combineOptics(wavelength, m.grid, parts), nil
}

// resampleOptics interpolates optical properties onto grid dst.
// Extinction is interpolated linearly; the albedo and phase function
// are interpolated with extinction and scattering weighting so that
// the resampled points scatter like the mixture of the corner points
// they interpolate. Points of dst outside the source extent are
// vacuum: the constituent contributes no extinction there.
func resampleOptics(o *Optics, dst *Grid) (*Optics, error) {
	if o.Grid.Equal(dst) {
		return o, nil
	}
	wz, wy, wx, err := gridWeights(o.Grid, dst, true)
	if err != nil {
		return nil, err
	}
	shape := dst.Shape()
	srcShape := o.Grid.Shape()
	nterms := o.Phase.Terms()
	ext := sparse.ZerosDense(shape...)
	alb := sparse.ZerosDense(shape...)
	coeffs := sparse.ZerosDense(dst.Len(), nterms)
	row := make([]float64, nterms)

	var mixed opticsMixer
	m := 0
	for _, zw := range wz {
		for _, yw := range wy {
			for _, xw := range wx {
				mixed.reset(row)
				corners(srcShape, zw, yw, xw, func(flat int, w float64) {
					mixed.add(o, flat, w, row)
				})
				mixed.store(m, ext, alb, coeffs, row)
				m++
			}
		}
	}
	return &Optics{
		Wavelength: o.Wavelength,
		Grid:       dst,
		Extinction: ext,
		Albedo:     alb,
		Phase:      &PhaseTable{Coeffs: coeffs},
		PhaseIndex: identityIndex(dst.Len()),
	}, nil
}

// combineOptics merges the optical properties of constituents that all
// share grid g into the bulk properties of their mixture.
func combineOptics(wavelength float64, g *Grid, parts []*Optics) *Optics {
	nterms := 0
	for _, p := range parts {
		if t := p.Phase.Terms(); t > nterms {
			nterms = t
		}
	}
	shape := g.Shape()
	npoints := g.Len()
	ext := sparse.ZerosDense(shape...)
	alb := sparse.ZerosDense(shape...)
	coeffs := sparse.ZerosDense(npoints, nterms)
	row := make([]float64, nterms)

	var mixed opticsMixer
	for m := 0; m < npoints; m++ {
		mixed.reset(row)
		for _, p := range parts {
			mixed.add(p, m, 1, row)
		}
		mixed.store(m, ext, alb, coeffs, row)
	}
	return &Optics{
		Wavelength: wavelength,
		Grid:       g,
		Extinction: ext,
		Albedo:     alb,
		Phase:      &PhaseTable{Coeffs: coeffs},
		PhaseIndex: identityIndex(npoints),
	}
}

// An opticsMixer accumulates weighted contributions of optical
// properties at one point: extinction adds, scattering weights the
// albedo, and the scattering coefficient weights the phase function.
type opticsMixer struct {
	ext, scat float64
}

func (x *opticsMixer) reset(row []float64) {
	x.ext, x.scat = 0, 0
	for l := range row {
		row[l] = 0
	}
}

// add accumulates the properties of point flat of o, weighted by w.
func (x *opticsMixer) add(o *Optics, flat int, w float64, row []float64) {
	e := w * o.Extinction.Elements[flat]
	if e == 0 {
		return
	}
	s := e * o.Albedo.Elements[flat]
	x.ext += e
	x.scat += s
	if s == 0 {
		return
	}
	r := o.phaseRow(flat)
	terms := o.Phase.Terms()
	for l := 0; l < terms; l++ {
		row[l] += s * o.Phase.Coeffs.Get(r, l)
	}
}

// store normalizes the accumulated mixture and writes it to point m of
// the output arrays. A point with no scattering gets an isotropic
// phase function and a point with no extinction gets zero albedo.
func (x *opticsMixer) store(m int, ext, alb *sparse.DenseArray, coeffs *sparse.DenseArray, row []float64) {
	ext.Elements[m] = x.ext
	if x.ext > 0 {
		alb.Elements[m] = x.scat / x.ext
	}
	if x.scat > 0 {
		for l, v := range row {
			coeffs.Set(v/x.scat, m, l)
		}
	} else {
		coeffs.Set(1, m, 0)
	}
}

func identityIndex(n int) []int {
	index := make([]int, n)
	for m := range index {
		index[m] = m
	}
	return index
}
