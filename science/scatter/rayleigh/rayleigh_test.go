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

package rayleigh

import (
	"math"
	"testing"

	"github.com/spectralmodel/smrt"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

// uniformColumn creates a temperature field with the same value at
// every level of a column grid.
func uniformColumn(t *testing.T, z []float64, temperature float64) *smrt.Field {
	t.Helper()
	g, err := smrt.NewColumnGrid(z)
	if err != nil {
		t.Fatal(err)
	}
	return smrt.NewConstantField("temperature", "K", g, temperature)
}

func TestCoefficient(t *testing.T) {
	// Molecular scattering strengthens sharply toward the blue.
	blue, green, red := Coefficient(0.445), Coefficient(0.55), Coefficient(0.672)
	if !(blue > green && green > red) {
		t.Errorf("got coefficients %g, %g, %g; want blue > green > red", blue, green, red)
	}
	if different(green, 3.3245e-3, 1e-3) {
		t.Errorf("coefficient at 0.55 μm: got %g, want about 3.3245e-3", green)
	}
}

func TestPhase(t *testing.T) {
	p := Phase()
	if p.Rows() != 1 || p.Terms() != 3 {
		t.Fatalf("got %d rows and %d terms, want 1 and 3", p.Rows(), p.Terms())
	}
	for l, want := range []float64{1, 0, 0.5} {
		if v := p.Coeffs.Get(0, l); v != want {
			t.Errorf("term %d: got %g, want %g", l, v, want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	temperature := uniformColumn(t, []float64{0, 1}, 288)
	if _, err := New(temperature, 0); err == nil {
		t.Error("want error for zero surface pressure")
	}
	if _, err := New(temperature, math.NaN()); err == nil {
		t.Error("want error for NaN surface pressure")
	}

	temperature.Data.Elements[1] = 0
	if _, err := New(temperature, 1000); err == nil {
		t.Error("want error for zero temperature")
	}
}

func TestModelIsothermal(t *testing.T) {
	const (
		t0       = 288.0
		pSurface = 1000.0
	)
	temperature := uniformColumn(t, []float64{0, 1}, t0)
	m, err := New(temperature, pSurface)
	if err != nil {
		t.Fatal(err)
	}
	if m.Grid() != temperature.Grid {
		t.Error("model grid is not the temperature grid")
	}

	o, err := m.OpticsAt(0.55)
	if err != nil {
		t.Fatal(err)
	}
	if o.Wavelength != 0.55 {
		t.Errorf("optics wavelength: got %g", o.Wavelength)
	}

	// With the grid starting at the surface, the lowest level carries
	// the surface pressure; an isothermal layer attenuates it
	// exponentially with the hydrostatic scale gM/(R·T).
	scale := 9.8 * 0.029 / 8.31 * 1000 / t0
	ext0 := o.Extinction.Get(0, 0, 0)
	ext1 := o.Extinction.Get(1, 0, 0)
	if want := pSurface / t0 * Coefficient(0.55); different(ext0, want, 1e-9) {
		t.Errorf("surface extinction: got %g, want %g", ext0, want)
	}
	if want := math.Exp(-scale); different(ext1/ext0, want, 1e-9) {
		t.Errorf("extinction ratio across the layer: got %g, want %g", ext1/ext0, want)
	}

	// Molecular scattering is conservative.
	for i, v := range o.Albedo.Elements {
		if v != 1 {
			t.Errorf("albedo element %d: got %g, want 1", i, v)
		}
	}
	// Two channels differ only by the wavelength coefficient.
	o2, err := m.OpticsAt(0.445)
	if err != nil {
		t.Fatal(err)
	}
	wantRatio := Coefficient(0.445) / Coefficient(0.55)
	if v := o2.Extinction.Get(0, 0, 0) / ext0; different(v, wantRatio, 1e-9) {
		t.Errorf("channel extinction ratio: got %g, want %g", v, wantRatio)
	}
}

func TestModelLapse(t *testing.T) {
	g, err := smrt.NewColumnGrid([]float64{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	temperature := smrt.NewConstantField("temperature", "K", g, 288)
	temperature.Data.Elements[1] = 281.5 // 6.5 K/km lapse

	m, err := New(temperature, 1000)
	if err != nil {
		t.Fatal(err)
	}
	o, err := m.OpticsAt(0.55)
	if err != nil {
		t.Fatal(err)
	}

	// A lapse-rate layer follows the polytropic hydrostatic relation
	// p1 = p0·(T1/T0)^(gM/(R·Γ)).
	exponent := 9.8 * 0.029 / 8.31 * 1000 / 6.5
	p1 := 1000 * math.Pow(281.5/288, exponent)
	want := p1 / 281.5 * Coefficient(0.55)
	if v := o.Extinction.Get(1, 0, 0); different(v, want, 1e-9) {
		t.Errorf("upper extinction: got %g, want %g", v, want)
	}
}

func TestModelElevatedBase(t *testing.T) {
	// A grid starting above the surface gets its base pressure from
	// the assumed constant-lapse layer below it.
	temperature := uniformColumn(t, []float64{1, 2}, 288)
	m, err := New(temperature, 1000)
	if err != nil {
		t.Fatal(err)
	}
	o, err := m.OpticsAt(0.55)
	if err != nil {
		t.Fatal(err)
	}
	exponent := 9.8 * 0.029 / 8.31 * 1000 / 6.5
	p0 := 1000 * math.Pow(288/(288+6.5*1), exponent)
	want := p0 / 288 * Coefficient(0.55)
	if v := o.Extinction.Get(0, 0, 0); different(v, want, 1e-9) {
		t.Errorf("base extinction: got %g, want %g", v, want)
	}
}

func TestModelColumns(t *testing.T) {
	g, err := smrt.NewGrid([]float64{0, 1}, []float64{0, 1}, []float64{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	temperature := smrt.NewConstantField("temperature", "K", g, 288)
	m, err := New(temperature, 1000)
	if err != nil {
		t.Fatal(err)
	}
	o, err := m.OpticsAt(0.55)
	if err != nil {
		t.Fatal(err)
	}
	// Identical columns produce identical profiles.
	for k := 0; k < 2; k++ {
		want := o.Extinction.Get(k, 0, 0)
		for j := 0; j < 2; j++ {
			for i := 0; i < 2; i++ {
				if v := o.Extinction.Get(k, j, i); v != want {
					t.Errorf("extinction (%d,%d,%d): got %g, want %g", k, j, i, v, want)
				}
			}
		}
	}
}
