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

package mie

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/spectralmodel/smrt"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

// testTable creates a three-radius table for the 0.672 μm channel.
func testTable(t *testing.T) *Table {
	t.Helper()
	coeffs := sparse.ZerosDense(3, 3)
	for r, row := range [][]float64{
		{1, 0.9, 0.8},
		{1, 0.85, 0.7},
		{1, 0.8, 0.6},
	} {
		for c, v := range row {
			coeffs.Set(v, r, c)
		}
	}
	phase, err := smrt.NewPhaseTable(coeffs)
	if err != nil {
		t.Fatal(err)
	}
	return &Table{
		Wavelength:     0.672,
		Reff:           []float64{5, 10, 20},
		MassExtinction: []float64{150, 75, 40},
		Albedo:         []float64{0.99, 0.95, 0.9},
		Phase:          phase,
	}
}

// writeTestTable writes tb to dir with the standard channel-keyed file
// name, so a TableSet with the template dir/mie_[wavelength].nc can
// find it.
func writeTestTable(t *testing.T, dir string, tb *Table) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("mie_%d.nc", smrt.WavelengthKey(tb.Wavelength)))
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteTable(f, tb); err != nil {
		f.Close()
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// columnField creates a field holding the given values on a column
// grid with levels z.
func columnField(t *testing.T, description, units string, z, values []float64) *smrt.Field {
	t.Helper()
	g, err := smrt.NewColumnGrid(z)
	if err != nil {
		t.Fatal(err)
	}
	data := sparse.ZerosDense(g.Shape()...)
	copy(data.Elements, values)
	f, err := smrt.NewField(description, units, g, data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestCheckTable(t *testing.T) {
	if err := checkTable(testTable(t)); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name    string
		corrupt func(*Table)
		err     string
	}{
		{
			name:    "no entries",
			corrupt: func(tb *Table) { tb.Reff = nil },
			err:     "has no effective radius entries",
		},
		{
			name:    "length mismatch",
			corrupt: func(tb *Table) { tb.Albedo = tb.Albedo[:2] },
			err:     "has 3 radii, 3 extinctions, and 2 albedos",
		},
		{
			name:    "phase rows",
			corrupt: func(tb *Table) { tb.Phase = smrt.IsotropicPhase() },
			err:     "does not have one phase function per effective radius",
		},
		{
			name:    "radii not increasing",
			corrupt: func(tb *Table) { tb.Reff[2] = 10 },
			err:     "effective radii are not strictly increasing at index 2",
		},
		{
			name:    "negative extinction",
			corrupt: func(tb *Table) { tb.MassExtinction[1] = -5 },
			err:     "mass extinction 1 is -5",
		},
		{
			name:    "albedo above one",
			corrupt: func(tb *Table) { tb.Albedo[2] = 1.5 },
			err:     "albedo 2 is 1.5",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tb := testTable(t)
			c.corrupt(tb)
			err := checkTable(tb)
			if err == nil {
				t.Fatal("want error")
			}
			if _, ok := err.(smrt.ConfigurationError); !ok {
				t.Errorf("error %v is %T, want ConfigurationError", err, err)
			}
			if !strings.Contains(err.Error(), c.err) {
				t.Errorf("error %q does not contain %q", err, c.err)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	tb := testTable(t)
	cases := []struct {
		reff           float64
		massExtinction float64
		albedo         float64
		phaseRow       int
	}{
		{5, 150, 0.99, 0},
		{10, 75, 0.95, 1},
		{20, 40, 0.9, 2},
		{7.5, 112.5, 0.97, 0}, // the midpoint keeps the lower phase row
		{16, 54, 0.92, 2},     // 60 % of the way rounds up
	}
	for _, c := range cases {
		massExtinction, albedo, row, err := tb.lookup(c.reff)
		if err != nil {
			t.Fatalf("reff %g: %v", c.reff, err)
		}
		if different(massExtinction, c.massExtinction, 1e-12) {
			t.Errorf("reff %g: mass extinction %g, want %g", c.reff, massExtinction, c.massExtinction)
		}
		if different(albedo, c.albedo, 1e-12) {
			t.Errorf("reff %g: albedo %g, want %g", c.reff, albedo, c.albedo)
		}
		if row != c.phaseRow {
			t.Errorf("reff %g: phase row %d, want %d", c.reff, row, c.phaseRow)
		}
	}

	for _, reff := range []float64{4, 25} {
		_, _, _, err := tb.lookup(reff)
		oerr, ok := err.(smrt.OutOfDomainError)
		if !ok {
			t.Fatalf("reff %g: error %v is %T, want OutOfDomainError", reff, err, err)
		}
		if oerr.Axis != "reff" || oerr.Value != reff || oerr.Min != 5 || oerr.Max != 20 {
			t.Errorf("reff %g: got %+v", reff, oerr)
		}
	}

	// A single-entry table holds for all radii.
	single := &Table{
		Wavelength:     0.672,
		Reff:           []float64{10},
		MassExtinction: []float64{75},
		Albedo:         []float64{0.95},
		Phase:          smrt.IsotropicPhase(),
	}
	for _, reff := range []float64{1, 10, 100} {
		massExtinction, albedo, row, err := single.lookup(reff)
		if err != nil || massExtinction != 75 || albedo != 0.95 || row != 0 {
			t.Errorf("single-entry lookup at %g: got %g, %g, %d, %v", reff, massExtinction, albedo, row, err)
		}
	}
}

func TestWriteReadTable(t *testing.T) {
	dir, err := ioutil.TempDir("", "mie")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	tb := testTable(t)
	path := writeTestTable(t, dir, tb)

	got, err := ReadTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Wavelength != tb.Wavelength {
		t.Errorf("wavelength: got %g, want %g", got.Wavelength, tb.Wavelength)
	}
	for _, v := range []struct {
		name      string
		got, want []float64
	}{
		{"Reff", got.Reff, tb.Reff},
		{"MassExtinction", got.MassExtinction, tb.MassExtinction},
		{"Albedo", got.Albedo, tb.Albedo},
	} {
		if len(v.got) != len(v.want) {
			t.Fatalf("%s: got %d entries, want %d", v.name, len(v.got), len(v.want))
		}
		for i := range v.want {
			if v.got[i] != v.want[i] {
				t.Errorf("%s[%d]: got %g, want %g", v.name, i, v.got[i], v.want[i])
			}
		}
	}
	if got.Phase.Rows() != tb.Phase.Rows() || got.Phase.Terms() != tb.Phase.Terms() {
		t.Fatalf("phase table: got %d×%d, want %d×%d",
			got.Phase.Rows(), got.Phase.Terms(), tb.Phase.Rows(), tb.Phase.Terms())
	}
	for i, want := range tb.Phase.Coeffs.Elements {
		if got.Phase.Coeffs.Elements[i] != want {
			t.Errorf("phase coefficient %d: got %g, want %g", i, got.Phase.Coeffs.Elements[i], want)
		}
	}

	if _, err := ReadTable(filepath.Join(dir, "no_such_table.nc")); err == nil {
		t.Error("reading a nonexistent table: want error")
	}

	bad := testTable(t)
	bad.Albedo[0] = 2
	f, err := os.Create(filepath.Join(dir, "bad.nc"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := WriteTable(f, bad); err == nil {
		t.Error("writing an invalid table: want error")
	} else if _, ok := err.(smrt.ConfigurationError); !ok {
		t.Errorf("error %v is %T, want ConfigurationError", err, err)
	}
}

func TestReadTableVersion(t *testing.T) {
	dir, err := ioutil.TempDir("", "mie")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// A table written by a hypothetical older release.
	path := filepath.Join(dir, "mie_672.nc")
	h := cdf.NewHeader([]string{"reff"}, []int{1})
	h.AddAttribute("", "data_version", "0.0")
	h.AddAttribute("", "wavelength", []float64{0.672})
	h.AddVariable("Reff", []string{"reff"}, []float64{0})
	h.Define()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cdf.Create(f, h); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = ReadTable(path)
	if err == nil || !strings.Contains(err.Error(), "data version 0.0 is incompatible with the required version") {
		t.Errorf("got %v, want a data version error", err)
	}
}

func TestTableSet(t *testing.T) {
	dir, err := ioutil.TempDir("", "mie")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	writeTestTable(t, dir, testTable(t))

	ts := &TableSet{PathTemplate: filepath.Join(dir, "mie_[wavelength].nc")}
	if got, want := ts.Path(0.672), filepath.Join(dir, "mie_672.nc"); got != want {
		t.Errorf("path: got %s, want %s", got, want)
	}

	tb, err := ts.Table(0.672)
	if err != nil {
		t.Fatal(err)
	}
	if tb.Wavelength != 0.672 || len(tb.Reff) != 3 {
		t.Errorf("got a table for %g μm with %d radii, want 0.672 and 3", tb.Wavelength, len(tb.Reff))
	}
	again, err := ts.Table(0.672)
	if err != nil {
		t.Fatal(err)
	}
	if again != tb {
		t.Error("second request did not return the cached table")
	}

	_, err = ts.Table(0.55)
	nf, ok := err.(smrt.TableNotFoundError)
	if !ok {
		t.Fatalf("error %v is %T, want TableNotFoundError", err, err)
	}
	if nf.Wavelength != 0.55 || nf.Path != ts.Path(0.55) {
		t.Errorf("got %+v, want wavelength 0.55 and path %s", nf, ts.Path(0.55))
	}
}

func TestTableSetTemplate(t *testing.T) {
	ts := &TableSet{PathTemplate: "mie.nc"}
	_, err := ts.Table(0.672)
	if _, ok := err.(smrt.ConfigurationError); !ok {
		t.Fatalf("error %v is %T, want ConfigurationError", err, err)
	}
	if !strings.Contains(err.Error(), "does not contain the token [wavelength]") {
		t.Errorf("error %q does not mention the missing token", err)
	}
}

func TestTableSetWrongChannel(t *testing.T) {
	dir, err := ioutil.TempDir("", "mie")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// A 0.55 μm table stored under the 0.672 μm channel name.
	tb := testTable(t)
	tb.Wavelength = 0.55
	f, err := os.Create(filepath.Join(dir, "mie_672.nc"))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteTable(f, tb); err != nil {
		f.Close()
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	ts := &TableSet{PathTemplate: filepath.Join(dir, "mie_[wavelength].nc")}
	_, err = ts.Table(0.672)
	if err == nil || !strings.Contains(err.Error(), "holds 0.55 μm") {
		t.Errorf("got %v, want a wrong channel error", err)
	}
}

func TestNewDropletModel(t *testing.T) {
	lwc := columnField(t, "liquid water content", "g m-3", []float64{0, 1}, []float64{0.5, 0})
	reff := columnField(t, "effective radius", "um", []float64{0, 1}, []float64{10, 10})

	d, err := NewDropletModel(nil, lwc, reff)
	if err != nil {
		t.Fatal(err)
	}
	if d.Grid() != lwc.Grid {
		t.Error("the model grid is not the liquid water content grid")
	}

	threeLevels := columnField(t, "effective radius", "um", []float64{0, 1, 2}, []float64{10, 10, 10})
	if _, err := NewDropletModel(nil, lwc, threeLevels); err == nil {
		t.Error("mismatched grids: want error")
	}

	negLWC := columnField(t, "liquid water content", "g m-3", []float64{0, 1}, []float64{0.5, -1})
	_, err = NewDropletModel(nil, negLWC, reff)
	if err == nil || !strings.Contains(err.Error(), "liquid water content element 1 is -1") {
		t.Errorf("got %v, want a negative liquid water content error", err)
	}

	negReff := columnField(t, "effective radius", "um", []float64{0, 1}, []float64{-5, 10})
	_, err = NewDropletModel(nil, lwc, negReff)
	if err == nil || !strings.Contains(err.Error(), "effective radius element 0 is -5") {
		t.Errorf("got %v, want a negative effective radius error", err)
	}
}

func TestDropletModelOpticsAt(t *testing.T) {
	dir, err := ioutil.TempDir("", "mie")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	writeTestTable(t, dir, testTable(t))
	ts := &TableSet{PathTemplate: filepath.Join(dir, "mie_[wavelength].nc")}

	z := []float64{0, 1, 2}
	lwc := columnField(t, "liquid water content", "g m-3", z, []float64{0.5, 0, 0.2})
	reff := columnField(t, "effective radius", "um", z, []float64{10, 10, 7.5})
	d, err := NewDropletModel(ts, lwc, reff)
	if err != nil {
		t.Fatal(err)
	}

	o, err := d.OpticsAt(0.672)
	if err != nil {
		t.Fatal(err)
	}
	if o.Wavelength != 0.672 || o.Grid != lwc.Grid {
		t.Errorf("got optics for %g μm on grid %v", o.Wavelength, o.Grid.Shape())
	}
	wantExt := []float64{0.5 * 75, 0, 0.2 * 112.5}
	wantAlb := []float64{0.95, 0, 0.97}
	wantRow := []int{1, 0, 0}
	for m := range wantExt {
		if different(o.Extinction.Elements[m], wantExt[m], 1e-12) {
			t.Errorf("extinction at point %d: got %g, want %g", m, o.Extinction.Elements[m], wantExt[m])
		}
		if different(o.Albedo.Elements[m], wantAlb[m], 1e-12) {
			t.Errorf("albedo at point %d: got %g, want %g", m, o.Albedo.Elements[m], wantAlb[m])
		}
		if o.PhaseIndex[m] != wantRow[m] {
			t.Errorf("phase index at point %d: got %d, want %d", m, o.PhaseIndex[m], wantRow[m])
		}
	}
	if o.Phase.Rows() != 3 {
		t.Errorf("phase table has %d rows, want 3", o.Phase.Rows())
	}

	// A radius outside the table only matters where there is water.
	badReff := columnField(t, "effective radius", "um", z, []float64{30, 10, 10})
	bad, err := NewDropletModel(ts, lwc, badReff)
	if err != nil {
		t.Fatal(err)
	}
	_, err = bad.OpticsAt(0.672)
	if err == nil || !strings.Contains(err.Error(), "droplet optics for 0.672 μm at point 0") {
		t.Errorf("got %v, want a lookup error for point 0", err)
	}

	dry := columnField(t, "liquid water content", "g m-3", z, []float64{0, 0, 0})
	clearSky, err := NewDropletModel(ts, dry, badReff)
	if err != nil {
		t.Fatal(err)
	}
	o, err = clearSky.OpticsAt(0.672)
	if err != nil {
		t.Fatal(err)
	}
	for m, v := range o.Extinction.Elements {
		if v != 0 {
			t.Errorf("dry point %d has extinction %g, want 0", m, v)
		}
	}

	missing := &TableSet{PathTemplate: filepath.Join(dir, "elsewhere", "mie_[wavelength].nc")}
	d2, err := NewDropletModel(missing, lwc, reff)
	if err != nil {
		t.Fatal(err)
	}
	_, err = d2.OpticsAt(0.672)
	if _, ok := err.(smrt.TableNotFoundError); !ok {
		t.Errorf("error %v is %T, want TableNotFoundError", err, err)
	}
}
