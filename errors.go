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

import "fmt"

// ConfigurationError is returned when a simulation component is
// constructed from invalid or mutually inconsistent inputs, for
// example a non-increasing grid axis or mismatched array shapes.
type ConfigurationError struct {
	Problem string
}

func (e ConfigurationError) Error() string { return e.Problem }

// configErrorf creates a ConfigurationError from a format string.
func configErrorf(format string, a ...interface{}) ConfigurationError {
	return ConfigurationError{Problem: fmt.Sprintf(format, a...)}
}

// TableNotFoundError is returned when no optical property table is
// available for a requested wavelength.
type TableNotFoundError struct {
	Wavelength float64 // μm
	Path       string  // the location that was searched
}

func (e TableNotFoundError) Error() string {
	return fmt.Sprintf("no optical property table for wavelength %g μm at %s", e.Wavelength, e.Path)
}

// OutOfDomainError is returned when an interpolation target lies
// outside the extent of the source coordinates, for example a
// resampling destination beyond the source grid or a droplet radius
// beyond a table's range.
type OutOfDomainError struct {
	Axis     string // the coordinate axis, e.g. "x" or "reff"
	Value    float64
	Min, Max float64
}

func (e OutOfDomainError) Error() string {
	return fmt.Sprintf("%s=%g is outside of the domain [%g, %g]",
		e.Axis, e.Value, e.Min, e.Max)
}

// ParseError is returned when an input data file is malformed. Line
// is the 1-based line or row number where the problem was found, or
// zero when the problem is not attributable to a single line.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("parsing %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("parsing %s: line %d: %v", e.File, e.Line, e.Err)
}

// DivergenceError is returned by a radiative transfer engine when the
// iterative solution for a channel produces non-finite values and
// cannot continue. It aborts the channel that produced it but not
// sibling channels.
type DivergenceError struct {
	Channel    ChannelIndex
	Wavelength float64 // μm
	Iteration  int     // the iteration at which divergence was detected
}

func (e DivergenceError) Error() string {
	return fmt.Sprintf("channel %d (%g μm): solution diverged at iteration %d",
		e.Channel, e.Wavelength, e.Iteration)
}
