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

import "math"

// A ChannelIndex identifies one spectral channel by its position in
// the channel list of a simulation run. Every artifact derived from a
// channel carries its index, so results can always be aligned with
// their wavelengths.
type ChannelIndex int

// A Channel pairs a channel index with the wavelength it represents.
type Channel struct {
	Index      ChannelIndex
	Wavelength float64 // μm
}

// Solar describes the collimated solar beam illuminating the domain
// for one channel.
type Solar struct {
	// Flux is the beam irradiance on a plane normal to the beam
	// direction in W/m².
	Flux float64

	// Azimuth is the horizontal direction the beam travels toward, in
	// degrees clockwise from the +y axis.
	Azimuth float64

	// Zenith is the angle in degrees between the upward vertical and
	// the beam propagation direction. A downwelling beam, the only
	// kind supported, has a zenith within (90, 180].
	Zenith float64
}

// NumericsConfig holds the discretization and convergence settings
// passed to the radiative transfer engine with each channel problem.
// Zero values select the engine defaults.
type NumericsConfig struct {
	// NumMu and NumPhi are the number of discrete ordinate zenith and
	// azimuth bins.
	NumMu, NumPhi int

	// SolutionAccuracy is the relative change between successive
	// iterates below which the solution is considered converged.
	SolutionAccuracy float64
}

// A ChannelProblem is the self-contained specification of the
// radiative transfer problem for one spectral channel: the composed
// bulk optical properties of the medium on its grid, the solar source,
// and the numerical settings. Channel problems share no mutable state
// with each other, so distinct problems can be solved concurrently.
type ChannelProblem struct {
	Channel  Channel
	Solar    Solar
	Numerics NumericsConfig

	// Optics holds the bulk optical properties of the medium for this
	// channel.
	Optics *Optics

	status     SolveStatus
	iterations int
	radiance   *Field
	solveErr   error
}

// Status returns the solution progress of the channel.
func (p *ChannelProblem) Status() SolveStatus { return p.status }

// Iterations returns the number of iterations the engine performed.
func (p *ChannelProblem) Iterations() int { return p.iterations }

// Radiance returns the solved radiance field in W/m²/sr, or nil if no
// iterate has been produced. For a channel with status MaxIterExceeded
// this is the most recent iterate, which may be rendered like a
// converged solution.
func (p *ChannelProblem) Radiance() *Field { return p.radiance }

// Err returns the error that stopped the channel, or nil.
func (p *ChannelProblem) Err() error { return p.solveErr }

// BuildProblems creates one channel problem per wavelength (μm) from
// the bulk optical properties of medium m. fluxes gives the solar beam
// irradiance in W/m² for each wavelength and must have the same
// length as wavelengths; azimuth and zenith (degrees) give the beam
// geometry shared by all channels. The problem at position i carries
// ChannelIndex i.
func BuildProblems(m *Medium, wavelengths, fluxes []float64, azimuth, zenith float64, numerics NumericsConfig) ([]*ChannelProblem, error) {
	if len(wavelengths) == 0 {
		return nil, configErrorf("smrt: building channel problems: no wavelengths")
	}
	if len(fluxes) != len(wavelengths) {
		return nil, configErrorf("smrt: building channel problems: %d solar fluxes for %d wavelengths",
			len(fluxes), len(wavelengths))
	}
	if !(zenith > 90 && zenith <= 180) {
		return nil, configErrorf("smrt: building channel problems: solar zenith %g° is not downwelling (90° < zenith ≤ 180°)", zenith)
	}
	if math.IsNaN(azimuth) || math.IsInf(azimuth, 0) {
		return nil, configErrorf("smrt: building channel problems: solar azimuth is %g", azimuth)
	}
	seen := make(map[int]int)
	problems := make([]*ChannelProblem, len(wavelengths))
	for i, wavelength := range wavelengths {
		if j, ok := seen[WavelengthKey(wavelength)]; ok {
			return nil, configErrorf("smrt: building channel problems: wavelengths %g μm (channel %d) and %g μm (channel %d) are the same channel",
				wavelengths[j], j, wavelength, i)
		}
		seen[WavelengthKey(wavelength)] = i
		if f := fluxes[i]; math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return nil, configErrorf("smrt: building channel problems: solar flux for %g μm is %g", wavelength, f)
		}
		optics, err := m.ChannelOptics(wavelength)
		if err != nil {
			return nil, err
		}
		problems[i] = &ChannelProblem{
			Channel:  Channel{Index: ChannelIndex(i), Wavelength: wavelength},
			Solar:    Solar{Flux: fluxes[i], Azimuth: azimuth, Zenith: zenith},
			Numerics: numerics,
			Optics:   optics,
		}
	}
	return problems, nil
}
