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

// Package smrt provides a framework for setting up and running
// multispectral atmospheric radiative transfer simulations: building
// gridded optical media from scattering constituents, solving the
// radiative transfer equation independently for each spectral channel,
// and rendering the solved radiance fields into multispectral images.
package smrt

import "fmt"

// Version gives the version number of this module.
const Version = "0.3.1"

// TableDataVersion is the version of the optical property table data
// format that is required by this version of the module.
const TableDataVersion = "0.3"

// WavelengthKey converts a wavelength in μm to its canonical integer
// channel key in nanometers. Wavelengths whose keys are equal are
// treated as the same spectral channel everywhere in this package.
func WavelengthKey(wavelength float64) int {
	return int(wavelength*1000 + 0.5)
}

// BandName returns the canonical name of the spectral band with the
// given wavelength (μm), for example "Band672" for 0.672 μm. Band
// names are the variable names used in output files and in derived
// output expressions.
func BandName(wavelength float64) string {
	return fmt.Sprintf("Band%d", WavelengthKey(wavelength))
}
