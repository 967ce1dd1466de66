/*
Copyright © 2026 the SMRT authors.
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

// These tests run the whole pipeline the way a user would: Mie tables
// on disk feed a droplet model, droplets and molecular scattering
// compose into a medium, the channels are solved concurrently, and a
// camera renders the solutions into an image cube that is written to
// and read back from a NetCDF file.
package smrt_test

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/spectralmodel/smrt"
	"github.com/spectralmodel/smrt/science/rte/sos"
	"github.com/spectralmodel/smrt/science/scatter/mie"
	"github.com/spectralmodel/smrt/science/scatter/rayleigh"
)

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return log
}

// writeSimulationTables writes one Mie table per simulation channel
// into dir and returns the channel wavelengths and the table set that
// reads the files back.
func writeSimulationTables(t *testing.T, dir string) ([]float64, *mie.TableSet) {
	channels := []struct {
		wavelength     float64
		massExtinction []float64
		albedo         []float64
	}{
		{0.672, []float64{160, 78, 41}, []float64{0.993, 0.996, 0.998}},
		{0.55, []float64{158, 76, 40}, []float64{0.994, 0.997, 0.998}},
		{0.445, []float64{156, 74, 39}, []float64{0.995, 0.997, 0.999}},
	}
	wavelengths := make([]float64, len(channels))
	for i, c := range channels {
		wavelengths[i] = c.wavelength
		coeffs := sparse.ZerosDense(3, 4)
		for r := 0; r < 3; r++ {
			g := 0.84 + 0.01*float64(r)
			for l := 0; l < 4; l++ {
				coeffs.Set(math.Pow(g, float64(l)), r, l)
			}
		}
		phase, err := smrt.NewPhaseTable(coeffs)
		if err != nil {
			t.Fatal(err)
		}
		table := &mie.Table{
			Wavelength:     c.wavelength,
			Reff:           []float64{5, 10, 20},
			MassExtinction: c.massExtinction,
			Albedo:         c.albedo,
			Phase:          phase,
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("mie_%d.nc", smrt.WavelengthKey(c.wavelength))))
		if err != nil {
			t.Fatal(err)
		}
		if err := mie.WriteTable(f, table); err != nil {
			t.Fatal(err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
	}
	return wavelengths, &mie.TableSet{PathTemplate: filepath.Join(dir, "mie_[wavelength].nc")}
}

// simulationMedium builds a cloud of horizontally varying liquid water
// content between 1 and 2 km, embedded in a molecular atmosphere that
// extends from the surface to 3 km.
func simulationMedium(t *testing.T, tables *mie.TableSet) *smrt.Medium {
	cloudGrid, err := smrt.NewGrid(
		[]float64{0, 0.5, 1},
		[]float64{0, 0.5, 1},
		[]float64{1, 1.5, 2},
	)
	if err != nil {
		t.Fatal(err)
	}
	lwcData := sparse.ZerosDense(cloudGrid.Shape()...)
	for m := range lwcData.Elements {
		lwcData.Elements[m] = 0.05 + 0.01*float64(m)
	}
	lwc, err := smrt.NewField("liquid water content", "g m-3", cloudGrid, lwcData)
	if err != nil {
		t.Fatal(err)
	}
	reff := smrt.NewConstantField("effective radius", "um", cloudGrid, 10)
	droplets, err := mie.NewDropletModel(tables, lwc, reff)
	if err != nil {
		t.Fatal(err)
	}

	airGrid, err := smrt.NewColumnGrid([]float64{0, 1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	tempData := sparse.ZerosDense(airGrid.Shape()...)
	for k, v := range []float64{288, 281.5, 275, 268.5} {
		tempData.Elements[k] = v
	}
	temperature, err := smrt.NewField("temperature", "K", airGrid, tempData)
	if err != nil {
		t.Fatal(err)
	}
	air, err := rayleigh.New(temperature, 1013)
	if err != nil {
		t.Fatal(err)
	}

	medium := smrt.NewMedium()
	if err := medium.AddScatterer("droplets", droplets); err != nil {
		t.Fatal(err)
	}
	if err := medium.AddScatterer("air", air); err != nil {
		t.Fatal(err)
	}
	return medium
}

// solveChannels builds one problem per wavelength with an overhead sun
// and solves them all with the successive order of scattering engine.
func solveChannels(t *testing.T, medium *smrt.Medium, wavelengths, fluxes []float64) *smrt.SolverArray {
	problems, err := smrt.BuildProblems(medium, wavelengths, fluxes, 0, 180, smrt.NumericsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	sa := smrt.NewSolverArray(sos.New())
	sa.Workers = 3
	sa.Log = quietLog()
	for _, p := range problems {
		if err := sa.AddSolver(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := sa.Solve(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	return sa
}

// renderScene renders the solved channels with a nadir orthographic
// camera covering the horizontal extent of the medium.
func renderScene(t *testing.T, medium *smrt.Medium, sa *smrt.SolverArray) *smrt.ImageCube {
	projection, err := smrt.NewOrthographic(medium.Grid().Bounds(), 0.02, 0, 0, medium.Grid().Top()+2)
	if err != nil {
		t.Fatal(err)
	}
	camera := smrt.NewCamera(projection)
	camera.Workers = 2
	camera.Log = quietLog()
	cube, err := camera.Render(context.Background(), sa)
	if err != nil {
		t.Fatal(err)
	}
	return cube
}

func TestSimulation(t *testing.T) {
	dir, err := ioutil.TempDir("", "smrt")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	wavelengths, tables := writeSimulationTables(t, dir)
	fluxes := []float64{1, 1.1, 1.2}
	medium := simulationMedium(t, tables)

	// The union grid merges the cloud levels into the air column.
	wantZ := []float64{0, 1, 1.5, 2, 3}
	z := medium.Grid().Z()
	if len(z) != len(wantZ) {
		t.Fatalf("union grid has %d levels, want %d", len(z), len(wantZ))
	}
	for k, v := range wantZ {
		if z[k] != v {
			t.Errorf("union grid level %d is %g km, want %g km", k, z[k], v)
		}
	}

	sa := solveChannels(t, medium, wavelengths, fluxes)
	if got := sa.Wavelengths(); len(got) != len(wavelengths) {
		t.Fatalf("solver array holds %d channels, want %d", len(got), len(wavelengths))
	}
	for i, status := range sa.Statuses() {
		if status.Status != smrt.Converged && status.Status != smrt.MaxIterExceeded {
			t.Errorf("channel %d finished %v", i, status.Status)
		}
		if status.Err != nil {
			t.Errorf("channel %d: %v", i, status.Err)
		}
		if status.Iterations < 1 || status.Iterations > 100 {
			t.Errorf("channel %d took %d iterations", i, status.Iterations)
		}
		if status.Channel.Wavelength != wavelengths[i] {
			t.Errorf("status %d holds %g μm, want %g μm", i, status.Channel.Wavelength, wavelengths[i])
		}
	}
	for i, p := range sa.Problems() {
		radiance := p.Radiance()
		if radiance == nil {
			t.Fatalf("channel %d has no radiance", i)
		}
		if !radiance.Grid.Equal(medium.Grid()) {
			t.Fatalf("channel %d radiance is not on the union grid", i)
		}
		for m, v := range radiance.Data.Elements {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				t.Fatalf("channel %d radiance element %d is %g", i, m, v)
			}
		}
	}

	cube := renderScene(t, medium, sa)
	wantShape := []int{3, 51, 51}
	for d, n := range wantShape {
		if cube.Data.Shape[d] != n {
			t.Fatalf("cube shape is %v, want %v", cube.Data.Shape, wantShape)
		}
	}
	for k, ch := range cube.Channels {
		if int(ch.Index) != k || ch.Wavelength != wavelengths[k] {
			t.Errorf("band %d holds channel %d (%g μm)", k, ch.Index, ch.Wavelength)
		}
	}
	// Scattering air fills the domain, so every ray gathers some light.
	for i, v := range cube.Data.Elements {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("pixel %d is %g", i, v)
		}
		if v <= 0 {
			t.Fatalf("pixel %d is not positive (%g)", i, v)
		}
	}

	// Round trip through a NetCDF output file with a derived variable.
	outFile := filepath.Join(dir, "cube.nc")
	o, err := smrt.NewOutputter(outFile, map[string]string{"CloudSignal": "Band672 - Band445"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Output(cube, sa.Statuses()); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(outFile)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	readCube, readStatuses, derived, err := smrt.ReadCDF(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(readCube.Channels) != 3 {
		t.Fatalf("read %d bands, want 3", len(readCube.Channels))
	}
	for k, ch := range readCube.Channels {
		if ch.Wavelength != wavelengths[k] {
			t.Errorf("read band %d holds %g μm, want %g μm", k, ch.Wavelength, wavelengths[k])
		}
	}
	want := sa.Statuses()
	for i, s := range readStatuses {
		if s.Status != want[i].Status || s.Iterations != want[i].Iterations {
			t.Errorf("read status %d is %v after %d iterations, want %v after %d",
				i, s.Status, s.Iterations, want[i].Status, want[i].Iterations)
		}
	}
	for i, v := range readCube.Data.Elements {
		if math.Abs(v-cube.Data.Elements[i]) > 1e-6 {
			t.Fatalf("read pixel %d is %g, want %g", i, v, cube.Data.Elements[i])
		}
	}
	signal, ok := derived["CloudSignal"]
	if !ok {
		t.Fatal("the output file is missing the derived variable CloudSignal")
	}
	h, w := cube.Data.Shape[1], cube.Data.Shape[2]
	for i := 0; i < h*w; i++ {
		wantSignal := cube.Data.Elements[i] - cube.Data.Elements[2*h*w+i]
		if math.Abs(signal.Elements[i]-wantSignal) > 1e-6 {
			t.Fatalf("CloudSignal pixel %d is %g, want %g", i, signal.Elements[i], wantSignal)
		}
	}
}

// TestSimulationFluxLinearity checks that rendered radiance scales
// linearly with the solar flux: doubling every channel flux doubles
// every pixel.
func TestSimulationFluxLinearity(t *testing.T) {
	dir, err := ioutil.TempDir("", "smrt")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	wavelengths, tables := writeSimulationTables(t, dir)
	medium := simulationMedium(t, tables)

	fluxes := []float64{1, 1.1, 1.2}
	doubled := make([]float64, len(fluxes))
	for i, f := range fluxes {
		doubled[i] = 2 * f
	}
	cube := renderScene(t, medium, solveChannels(t, medium, wavelengths, fluxes))
	cube2 := renderScene(t, medium, solveChannels(t, medium, wavelengths, doubled))

	slope, intercept, rsquared, _, _, _ := stats.LinearRegression(cube.Data.Elements, cube2.Data.Elements)
	if different(slope, 2, 1.e-3) {
		t.Errorf("doubling the flux scaled the pixels by %g, want 2", slope)
	}
	if rsquared < 0.9999 {
		t.Errorf("pixel scaling r² = %g, want 1", rsquared)
	}
	if max := floats.Max(cube.Data.Elements); math.Abs(intercept) > 1e-6*max {
		t.Errorf("pixel scaling intercept = %g, want 0", intercept)
	}
}
