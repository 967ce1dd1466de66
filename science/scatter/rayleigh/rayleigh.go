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

// Package rayleigh computes molecular scattering optical properties
// from an atmospheric temperature profile.
package rayleigh

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"

	"github.com/spectralmodel/smrt"
)

const (
	// hydrostaticFactor is gM/R for dry air in K/km, where g is
	// gravitational acceleration, M is molar mass, and R is the gas
	// constant.
	hydrostaticFactor = 9.8 * 0.029 / 8.31 * 1000

	// surfaceLapse is the temperature lapse rate in K/km assumed
	// between the surface and the lowest grid level.
	surfaceLapse = 6.5

	// isothermalLapse is the lapse rate magnitude in K/km below which
	// a layer is integrated as isothermal.
	isothermalLapse = 0.01
)

// Coefficient returns the molecular extinction per unit air density at
// the given wavelength (μm), in K/(mb·km). Multiplying by pressure (mb)
// over temperature (K) gives volume extinction in 1/km.
func Coefficient(wavelength float64) float64 {
	return 2.97e-4 * math.Pow(wavelength, -4.15+0.2*wavelength)
}

// Phase returns the molecular scattering phase function expansion,
// which is the same at all wavelengths.
func Phase() *smrt.PhaseTable {
	coeffs := sparse.ZerosDense(1, 3)
	coeffs.Set(1, 0, 0)
	coeffs.Set(0.5, 0, 2)
	return &smrt.PhaseTable{Coeffs: coeffs}
}

// A Model computes molecular scattering optical properties at any
// wavelength from an atmospheric temperature profile. It fulfils the
// github.com/spectralmodel/smrt.Scatterer interface.
type Model struct {
	grid *smrt.Grid

	// ratio is pressure over temperature at each grid point, in mb/K.
	ratio *sparse.DenseArray
}

// New creates a molecular scattering model from a temperature field in
// K and a surface pressure in mb. The pressure at each grid level is
// found by integrating the hydrostatic relation for dry air up each
// column, assuming a linear temperature lapse within each layer.
func New(temperature *smrt.Field, surfacePressure float64) (*Model, error) {
	if math.IsNaN(surfacePressure) || math.IsInf(surfacePressure, 0) || surfacePressure <= 0 {
		return nil, smrt.ConfigurationError{Problem: fmt.Sprintf("rayleigh: surface pressure %g mb is not positive", surfacePressure)}
	}
	for i, v := range temperature.Data.Elements {
		if v <= 0 {
			return nil, smrt.ConfigurationError{Problem: fmt.Sprintf("rayleigh: temperature element %d is %g K", i, v)}
		}
	}
	g := temperature.Grid
	z := g.Z()
	shape := g.Shape()
	nz, ny, nx := shape[0], shape[1], shape[2]
	m := &Model{grid: g, ratio: sparse.ZerosDense(shape...)}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			t0 := temperature.Data.Elements[j*nx+i]
			p := surfacePressure * math.Pow(t0/(t0+surfaceLapse*z[0]), hydrostaticFactor/surfaceLapse)
			m.ratio.Elements[j*nx+i] = p / t0
			for k := 1; k < nz; k++ {
				tBelow := temperature.Data.Elements[((k-1)*ny+j)*nx+i]
				t := temperature.Data.Elements[(k*ny+j)*nx+i]
				dz := z[k] - z[k-1]
				if lapse := (tBelow - t) / dz; math.Abs(lapse) > isothermalLapse {
					p *= math.Pow(t/tBelow, hydrostaticFactor/lapse)
				} else {
					p *= math.Exp(-hydrostaticFactor * dz / tBelow)
				}
				if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
					return nil, smrt.ConfigurationError{Problem: fmt.Sprintf(
						"rayleigh: hydrostatic pressure is %g mb at level %d of column (%d, %d)", p, k, j, i)}
				}
				m.ratio.Elements[(k*ny+j)*nx+i] = p / t
			}
		}
	}
	return m, nil
}

// Grid implements the Scatterer interface.
func (m *Model) Grid() *smrt.Grid { return m.grid }

// OpticsAt implements the Scatterer interface. Molecular scattering is
// conservative, so the single scattering albedo is 1 everywhere.
func (m *Model) OpticsAt(wavelength float64) (*smrt.Optics, error) {
	ext := m.ratio.Copy()
	ext.Scale(Coefficient(wavelength))
	albedo := sparse.ZerosDense(m.grid.Shape()...)
	for i := range albedo.Elements {
		albedo.Elements[i] = 1
	}
	return smrt.NewOptics(wavelength, m.grid, ext, albedo, Phase(), nil)
}
