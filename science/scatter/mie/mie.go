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

// Package mie computes cloud droplet optical properties from
// precomputed Mie scattering tables.
package mie

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/cdf"
	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"

	"github.com/spectralmodel/smrt"
)

// A Table holds Mie optical properties for one spectral channel as a
// function of droplet effective radius.
type Table struct {
	// Wavelength is the channel wavelength in μm.
	Wavelength float64

	// Reff holds the droplet effective radii in μm, strictly
	// increasing.
	Reff []float64

	// MassExtinction holds the extinction per unit liquid water
	// content for each effective radius, in km⁻¹ per g/m³.
	MassExtinction []float64

	// Albedo holds the single scattering albedo for each effective
	// radius.
	Albedo []float64

	// Phase holds one phase function expansion per effective radius.
	Phase *smrt.PhaseTable
}

// checkTable validates the internal consistency of a table.
func checkTable(t *Table) error {
	n := len(t.Reff)
	if n == 0 {
		return smrt.ConfigurationError{Problem: fmt.Sprintf("mie: table for %g μm has no effective radius entries", t.Wavelength)}
	}
	if len(t.MassExtinction) != n || len(t.Albedo) != n {
		return smrt.ConfigurationError{Problem: fmt.Sprintf("mie: table for %g μm has %d radii, %d extinctions, and %d albedos",
			t.Wavelength, n, len(t.MassExtinction), len(t.Albedo))}
	}
	if t.Phase == nil || t.Phase.Rows() != n {
		return smrt.ConfigurationError{Problem: fmt.Sprintf("mie: table for %g μm does not have one phase function per effective radius",
			t.Wavelength)}
	}
	for i := 1; i < n; i++ {
		if t.Reff[i] <= t.Reff[i-1] {
			return smrt.ConfigurationError{Problem: fmt.Sprintf("mie: table for %g μm: effective radii are not strictly increasing at index %d",
				t.Wavelength, i)}
		}
	}
	for i := 0; i < n; i++ {
		if v := t.MassExtinction[i]; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return smrt.ConfigurationError{Problem: fmt.Sprintf("mie: table for %g μm: mass extinction %d is %g", t.Wavelength, i, v)}
		}
		if v := t.Albedo[i]; math.IsNaN(v) || v < 0 || v > 1 {
			return smrt.ConfigurationError{Problem: fmt.Sprintf("mie: table for %g μm: albedo %d is %g", t.Wavelength, i, v)}
		}
	}
	return nil
}

// lookup interpolates the table at droplet effective radius reff (μm).
// The mass extinction and albedo are interpolated linearly and the
// phase function of the nearest tabulated radius is selected. Radii
// outside the table range cause an OutOfDomainError.
func (t *Table) lookup(reff float64) (massExtinction, albedo float64, phaseRow int, err error) {
	n := len(t.Reff)
	if n == 1 {
		return t.MassExtinction[0], t.Albedo[0], 0, nil
	}
	lo, hi := t.Reff[0], t.Reff[n-1]
	if reff < lo || reff > hi {
		return 0, 0, 0, smrt.OutOfDomainError{Axis: "reff", Value: reff, Min: lo, Max: hi}
	}
	i := sort.SearchFloat64s(t.Reff, reff)
	if t.Reff[i] == reff {
		return t.MassExtinction[i], t.Albedo[i], i, nil
	}
	frac := (reff - t.Reff[i-1]) / (t.Reff[i] - t.Reff[i-1])
	massExtinction = t.MassExtinction[i-1] + frac*(t.MassExtinction[i]-t.MassExtinction[i-1])
	albedo = t.Albedo[i-1] + frac*(t.Albedo[i]-t.Albedo[i-1])
	phaseRow = i - 1
	if frac > 0.5 {
		phaseRow = i
	}
	return massExtinction, albedo, phaseRow, nil
}

// ReadTable reads a Mie table from the NetCDF file at path.
func ReadTable(path string) (*Table, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mie: opening table: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("mie: reading table %s: %v", path, err)
	}

	dataVersion, ok := f.Header.GetAttribute("", "data_version").(string)
	if !ok || dataVersion != smrt.TableDataVersion {
		return nil, fmt.Errorf("mie: table %s: data version %v is incompatible with the required version %s",
			path, dataVersion, smrt.TableDataVersion)
	}
	wavelengthAttr, ok := f.Header.GetAttribute("", "wavelength").([]float64)
	if !ok || len(wavelengthAttr) != 1 {
		return nil, fmt.Errorf("mie: table %s has no wavelength attribute", path)
	}

	n := f.Header.Lengths("Reff")[0]
	legLengths := f.Header.Lengths("Legendre")
	if len(legLengths) != 2 || legLengths[0] != n {
		return nil, fmt.Errorf("mie: table %s: Legendre has dimensions %v, want [%d nterms]", path, legLengths, n)
	}
	t := &Table{
		Wavelength:     wavelengthAttr[0],
		Reff:           make([]float64, n),
		MassExtinction: make([]float64, n),
		Albedo:         make([]float64, n),
	}
	for _, v := range []struct {
		name string
		data []float64
	}{
		{"Reff", t.Reff},
		{"MassExtinction", t.MassExtinction},
		{"Albedo", t.Albedo},
	} {
		if _, err := f.Reader(v.name, nil, nil).Read(v.data); err != nil {
			return nil, fmt.Errorf("mie: reading table variable %s from %s: %v", v.name, path, err)
		}
	}
	legendre := make([]float64, legLengths[0]*legLengths[1])
	if _, err := f.Reader("Legendre", nil, nil).Read(legendre); err != nil {
		return nil, fmt.Errorf("mie: reading table variable Legendre from %s: %v", path, err)
	}
	coeffs := sparse.ZerosDense(legLengths...)
	copy(coeffs.Elements, legendre)
	t.Phase, err = smrt.NewPhaseTable(coeffs)
	if err != nil {
		return nil, fmt.Errorf("mie: table %s: %v", path, err)
	}
	if err := checkTable(t); err != nil {
		return nil, err
	}
	return t, nil
}

// WriteTable writes a Mie table to w as a NetCDF file.
func WriteTable(w *os.File, t *Table) error {
	if err := checkTable(t); err != nil {
		return err
	}
	h := cdf.NewHeader(
		[]string{"reff", "coefficient"},
		[]int{len(t.Reff), t.Phase.Terms()})
	h.AddAttribute("", "comment", "SMRT Mie droplet optical property table")
	h.AddAttribute("", "data_version", smrt.TableDataVersion)
	h.AddAttribute("", "wavelength", []float64{t.Wavelength})

	h.AddVariable("Reff", []string{"reff"}, []float64{0})
	h.AddAttribute("Reff", "description", "Droplet effective radius")
	h.AddAttribute("Reff", "units", "um")

	h.AddVariable("MassExtinction", []string{"reff"}, []float64{0})
	h.AddAttribute("MassExtinction", "description", "Extinction per unit liquid water content")
	h.AddAttribute("MassExtinction", "units", "km-1 (g m-3)-1")

	h.AddVariable("Albedo", []string{"reff"}, []float64{0})
	h.AddAttribute("Albedo", "description", "Single scattering albedo")
	h.AddAttribute("Albedo", "units", "-")

	h.AddVariable("Legendre", []string{"reff", "coefficient"}, []float64{0})
	h.AddAttribute("Legendre", "description", "Legendre expansion of the scattering phase function")
	h.AddAttribute("Legendre", "units", "-")

	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("mie: creating table header: %v", errs)
	}
	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("mie: creating table file: %v", err)
	}
	for _, v := range []struct {
		name string
		data []float64
	}{
		{"Reff", t.Reff},
		{"MassExtinction", t.MassExtinction},
		{"Albedo", t.Albedo},
		{"Legendre", t.Phase.Coeffs.Elements},
	} {
		end := f.Header.Lengths(v.name)
		start := make([]int, len(end))
		if _, err := f.Writer(v.name, start, end).Write(v.data); err != nil {
			return fmt.Errorf("mie: writing table variable %s: %v", v.name, err)
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return fmt.Errorf("mie: writing table: %v", err)
	}
	return nil
}

// WavelengthToken is the placeholder in a TableSet path template that
// is replaced by the channel key in nm.
const WavelengthToken = "[wavelength]"

// A TableSet provides the Mie tables for a set of spectral channels
// from a collection of NetCDF files, one file per channel. Tables are
// read once and cached in memory. TableSet is safe for concurrent use.
type TableSet struct {
	// PathTemplate locates the table files. It must contain the
	// substring `[wavelength]`, which is replaced by the channel key
	// in nm, so the template mie_[wavelength].nc names the file
	// mie_672.nc for the 0.672 μm channel.
	PathTemplate string

	// CacheSize is the maximum number of tables held in memory. Zero
	// selects a default of 32.
	CacheSize int

	cache     *requestcache.Cache
	cacheInit sync.Once
}

type tableRequest struct {
	key        int
	wavelength float64
}

// Path returns the table file path for the channel containing the
// given wavelength in μm.
func (ts *TableSet) Path(wavelength float64) string {
	return strings.Replace(ts.PathTemplate, WavelengthToken,
		fmt.Sprintf("%d", smrt.WavelengthKey(wavelength)), -1)
}

// Table returns the Mie table for the channel containing the given
// wavelength in μm. A missing table file causes a TableNotFoundError.
func (ts *TableSet) Table(wavelength float64) (*Table, error) {
	if !strings.Contains(ts.PathTemplate, WavelengthToken) {
		return nil, smrt.ConfigurationError{Problem: fmt.Sprintf(
			"mie: table path template %s does not contain the token %s", ts.PathTemplate, WavelengthToken)}
	}
	ts.cacheInit.Do(func() {
		size := ts.CacheSize
		if size <= 0 {
			size = 32
		}
		ts.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			req := request.(tableRequest)
			path := strings.Replace(ts.PathTemplate, WavelengthToken, fmt.Sprintf("%d", req.key), -1)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return nil, smrt.TableNotFoundError{Wavelength: req.wavelength, Path: path}
			}
			t, err := ReadTable(path)
			if err != nil {
				return nil, err
			}
			if smrt.WavelengthKey(t.Wavelength) != req.key {
				return nil, fmt.Errorf("mie: table %s holds %g μm, which is not the channel of the requested %g μm",
					path, t.Wavelength, req.wavelength)
			}
			return t, nil
		}, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(size))
	})
	req := ts.cache.NewRequest(context.TODO(),
		tableRequest{key: smrt.WavelengthKey(wavelength), wavelength: wavelength},
		fmt.Sprintf("mie_%d", smrt.WavelengthKey(wavelength)),
	)
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*Table), nil
}

// A DropletModel computes cloud droplet optical properties from cloud
// microphysical fields by Mie table lookup. It fulfils the
// github.com/spectralmodel/smrt.Scatterer interface.
type DropletModel struct {
	// Tables provides the per-channel Mie tables.
	Tables *TableSet

	// LWC is the cloud liquid water content in g/m³.
	LWC *smrt.Field

	// Reff is the droplet effective radius in μm.
	Reff *smrt.Field
}

// NewDropletModel creates a droplet scattering model from liquid water
// content (g/m³) and droplet effective radius (μm) fields, which must
// share a grid.
func NewDropletModel(tables *TableSet, lwc, reff *smrt.Field) (*DropletModel, error) {
	if !lwc.Grid.Equal(reff.Grid) {
		return nil, smrt.ConfigurationError{Problem: fmt.Sprintf(
			"mie: liquid water content grid %v does not match effective radius grid %v",
			lwc.Grid.Shape(), reff.Grid.Shape())}
	}
	for i, v := range lwc.Data.Elements {
		if v < 0 {
			return nil, smrt.ConfigurationError{Problem: fmt.Sprintf("mie: liquid water content element %d is %g", i, v)}
		}
	}
	for i, v := range reff.Data.Elements {
		if v < 0 {
			return nil, smrt.ConfigurationError{Problem: fmt.Sprintf("mie: effective radius element %d is %g", i, v)}
		}
	}
	return &DropletModel{Tables: tables, LWC: lwc, Reff: reff}, nil
}

// Grid implements the Scatterer interface.
func (d *DropletModel) Grid() *smrt.Grid { return d.LWC.Grid }

// OpticsAt implements the Scatterer interface. The extinction at each
// point is the liquid water content times the mass extinction of the
// local droplet size; points with no liquid water have no extinction.
func (d *DropletModel) OpticsAt(wavelength float64) (*smrt.Optics, error) {
	t, err := d.Tables.Table(wavelength)
	if err != nil {
		return nil, err
	}
	g := d.LWC.Grid
	shape := g.Shape()
	ext := sparse.ZerosDense(shape...)
	alb := sparse.ZerosDense(shape...)
	index := make([]int, g.Len())
	for m, lwc := range d.LWC.Data.Elements {
		if lwc == 0 {
			continue
		}
		massExtinction, albedo, row, err := t.lookup(d.Reff.Data.Elements[m])
		if err != nil {
			return nil, fmt.Errorf("mie: droplet optics for %g μm at point %d: %v", wavelength, m, err)
		}
		ext.Elements[m] = lwc * massExtinction
		alb.Elements[m] = albedo
		index[m] = row
	}
	return smrt.NewOptics(wavelength, g, ext, alb, t.Phase, index)
}
