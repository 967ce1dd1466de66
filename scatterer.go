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
	"math"

	"github.com/ctessum/sparse"
)

// A PhaseTable holds Legendre expansions of scattering phase
// functions. Each row holds the coefficients χ0..χL of one phase
// function, where χ0 is 1 by normalization. Multiple grid points may
// share a row.
type PhaseTable struct {
	// Coeffs has shape [rows, terms].
	Coeffs *sparse.DenseArray
}

// NewPhaseTable creates a phase table from an array of Legendre
// coefficients with shape [rows, terms]. The zeroth coefficient of
// every row must be 1.
func NewPhaseTable(coeffs *sparse.DenseArray) (*PhaseTable, error) {
	if len(coeffs.Shape) != 2 || coeffs.Shape[0] < 1 || coeffs.Shape[1] < 1 {
		return nil, configErrorf("smrt: creating phase table: need a 2-d coefficient array, got shape %v", coeffs.Shape)
	}
	for r := 0; r < coeffs.Shape[0]; r++ {
		if χ0 := coeffs.Get(r, 0); math.Abs(χ0-1) > 1.e-6 {
			return nil, configErrorf("smrt: creating phase table: row %d zeroth coefficient is %g, want 1", r, χ0)
		}
	}
	return &PhaseTable{Coeffs: coeffs}, nil
}

// IsotropicPhase returns a single-row phase table describing isotropic
// scattering.
func IsotropicPhase() *PhaseTable {
	coeffs := sparse.ZerosDense(1, 1)
	coeffs.Set(1, 0, 0)
	return &PhaseTable{Coeffs: coeffs}
}

// Rows returns the number of phase functions in the table.
func (p *PhaseTable) Rows() int { return p.Coeffs.Shape[0] }

// Terms returns the number of Legendre terms per phase function.
func (p *PhaseTable) Terms() int { return p.Coeffs.Shape[1] }

// Optics holds the optical properties of some material sampled on a
// grid for a single spectral channel: volume extinction coefficient,
// single scattering albedo, and scattering phase function.
type Optics struct {
	// Wavelength is the channel wavelength in μm.
	Wavelength float64

	Grid *Grid

	// Extinction is the volume extinction coefficient in 1/km, with
	// the grid's shape.
	Extinction *sparse.DenseArray

	// Albedo is the single scattering albedo (dimensionless, in
	// [0, 1]), with the grid's shape.
	Albedo *sparse.DenseArray

	// Phase holds the phase functions referenced by PhaseIndex.
	Phase *PhaseTable

	// PhaseIndex maps each grid point (in flattened [z, y, x] order)
	// to a row of Phase. A nil PhaseIndex means every point uses
	// row zero.
	PhaseIndex []int
}

// NewOptics creates and validates a set of optical properties.
// Extinction must be non-negative and finite, albedo must be within
// [0, 1], and every phase index must address a row of the phase table.
func NewOptics(wavelength float64, g *Grid, extinction, albedo *sparse.DenseArray, phase *PhaseTable, phaseIndex []int) (*Optics, error) {
	if wavelength <= 0 {
		return nil, configErrorf("smrt: creating optics: wavelength %g μm is not positive", wavelength)
	}
	if !shapeEqual(extinction.Shape, g.Shape()) {
		return nil, configErrorf("smrt: creating optics for %g μm: extinction shape %v does not match grid shape %v",
			wavelength, extinction.Shape, g.Shape())
	}
	if !shapeEqual(albedo.Shape, g.Shape()) {
		return nil, configErrorf("smrt: creating optics for %g μm: albedo shape %v does not match grid shape %v",
			wavelength, albedo.Shape, g.Shape())
	}
	for i, v := range extinction.Elements {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, configErrorf("smrt: creating optics for %g μm: extinction element %d is %g", wavelength, i, v)
		}
	}
	for i, v := range albedo.Elements {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, configErrorf("smrt: creating optics for %g μm: albedo element %d is %g, want within [0, 1]", wavelength, i, v)
		}
	}
	if phase == nil {
		return nil, configErrorf("smrt: creating optics for %g μm: no phase table", wavelength)
	}
	if phaseIndex != nil {
		if len(phaseIndex) != g.Len() {
			return nil, configErrorf("smrt: creating optics for %g μm: %d phase indices for %d grid points",
				wavelength, len(phaseIndex), g.Len())
		}
		for m, r := range phaseIndex {
			if r < 0 || r >= phase.Rows() {
				return nil, configErrorf("smrt: creating optics for %g μm: phase index %d at point %d is outside table with %d rows",
					wavelength, r, m, phase.Rows())
			}
		}
	}
	return &Optics{
		Wavelength: wavelength,
		Grid:       g,
		Extinction: extinction,
		Albedo:     albedo,
		Phase:      phase,
		PhaseIndex: phaseIndex,
	}, nil
}

// phaseRow returns the phase table row used by flattened grid point m.
func (o *Optics) phaseRow(m int) int {
	if o.PhaseIndex == nil {
		return 0
	}
	return o.PhaseIndex[m]
}

// A Scatterer contributes optical properties to a Medium. Scatterers
// are queried by wavelength; two wavelengths with the same WavelengthKey
// address the same spectral channel.
type Scatterer interface {
	// Grid returns the grid that the scatterer's optical properties
	// are sampled on.
	Grid() *Grid

	// OpticsAt returns the scatterer's optical properties for the
	// channel containing the given wavelength in μm.
	OpticsAt(wavelength float64) (*Optics, error)
}

// A MonoScatterer holds precomputed optical properties for exactly one
// spectral channel.
type MonoScatterer struct {
	Optics *Optics
}

// Grid implements the Scatterer interface.
func (s *MonoScatterer) Grid() *Grid { return s.Optics.Grid }

// OpticsAt implements the Scatterer interface. Requesting any
// wavelength outside the held channel is an error.
func (s *MonoScatterer) OpticsAt(wavelength float64) (*Optics, error) {
	if WavelengthKey(wavelength) != WavelengthKey(s.Optics.Wavelength) {
		return nil, configErrorf("smrt: scatterer holds properties for %g μm only; %g μm was requested",
			s.Optics.Wavelength, wavelength)
	}
	return s.Optics, nil
}

// A MultiScatterer holds precomputed optical properties for an ordered
// collection of spectral channels that share a grid.
type MultiScatterer struct {
	optics []*Optics
	keys   map[int]int // WavelengthKey to index into optics
	grid   *Grid
}

// NewMultiScatterer assembles a multispectral scatterer by querying
// scatterer s once for each of the given wavelengths, preserving their
// order. If allowPartial is true, wavelengths for which s reports
// TableNotFoundError are skipped and their errors are returned for
// reporting alongside the (partial) result; otherwise the first error
// aborts assembly.
func NewMultiScatterer(s Scatterer, wavelengths []float64, allowPartial bool) (*MultiScatterer, []error, error) {
	m := new(MultiScatterer)
	var skipped []error
	for _, wavelength := range wavelengths {
		o, err := s.OpticsAt(wavelength)
		if err != nil {
			if _, notFound := err.(TableNotFoundError); notFound && allowPartial {
				skipped = append(skipped, err)
				continue
			}
			return nil, skipped, err
		}
		if err := m.Append(o); err != nil {
			return nil, skipped, err
		}
	}
	return m, skipped, nil
}

// Append adds the optical properties for one more channel to the end
// of the collection. All channels must share a grid, and appending a
// channel that is already held is an error.
func (m *MultiScatterer) Append(o *Optics) error {
	if m.keys == nil {
		m.keys = make(map[int]int)
	}
	key := WavelengthKey(o.Wavelength)
	if i, ok := m.keys[key]; ok {
		return configErrorf("smrt: appending channel %g μm: channel %d already holds %g μm",
			o.Wavelength, i, m.optics[i].Wavelength)
	}
	if m.grid == nil {
		m.grid = o.Grid
	} else if !m.grid.Equal(o.Grid) {
		return configErrorf("smrt: appending channel %g μm: grid shape %v does not match existing grid shape %v",
			o.Wavelength, o.Grid.Shape(), m.grid.Shape())
	}
	m.keys[key] = len(m.optics)
	m.optics = append(m.optics, o)
	return nil
}

// Len returns the number of channels held.
func (m *MultiScatterer) Len() int { return len(m.optics) }

// Wavelengths returns the held channel wavelengths in μm, in the order
// they were added.
func (m *MultiScatterer) Wavelengths() []float64 {
	w := make([]float64, len(m.optics))
	for i, o := range m.optics {
		w[i] = o.Wavelength
	}
	return w
}

// Grid implements the Scatterer interface. It returns nil for an
// empty collection.
func (m *MultiScatterer) Grid() *Grid { return m.grid }

// OpticsAt implements the Scatterer interface.
func (m *MultiScatterer) OpticsAt(wavelength float64) (*Optics, error) {
	i, ok := m.keys[WavelengthKey(wavelength)]
	if !ok {
		return nil, configErrorf("smrt: scatterer holds %d channels but none for %g μm", len(m.optics), wavelength)
	}
	return m.optics[i], nil
}
