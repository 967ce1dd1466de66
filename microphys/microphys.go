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

// Package microphys reads cloud microphysical and atmospheric profile
// data from tabular files.
//
// Tables have one header row naming the columns, optionally with a
// unit in square brackets (for example "lwc[kg/m3]"), followed by one
// row per grid point. Column names are matched without regard to
// case; values in recognized non-default units are converted on read.
package microphys

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/ctessum/unit"

	"github.com/spectralmodel/smrt"
)

// A Cloud holds gridded cloud microphysical properties.
type Cloud struct {
	// LWC is the cloud liquid water content in g/m³.
	LWC *smrt.Field

	// Reff is the droplet effective radius in μm.
	Reff *smrt.Field

	// Veff is the droplet effective variance, or nil when the source
	// data does not include one.
	Veff *smrt.Field
}

// internalUnits gives the unit each recognized column is converted to.
var internalUnits = map[string]string{
	"x":           "km",
	"y":           "km",
	"z":           "km",
	"lwc":         "g/m3",
	"reff":        "um",
	"veff":        "-",
	"temperature": "K",
}

// knownUnits gives the value of one of each recognized unit in SI
// units. Unit names are matched case-sensitively.
var knownUnits = map[string]*unit.Unit{
	"m":     unit.New(1, unit.Meter),
	"km":    unit.New(1000, unit.Meter),
	"um":    unit.New(1.e-6, unit.Meter),
	"kg/m3": unit.New(1, unit.KilogramPerMeter3),
	"g/m3":  unit.New(1.e-3, unit.KilogramPerMeter3),
	"K":     unit.New(1, unit.Kelvin),
	"-":     unit.New(1, unit.Dimless),
}

// conversionFactor returns the factor that converts values in unit
// from to values in unit to, after checking that the two units measure
// the same dimension.
func conversionFactor(from, to string) (float64, error) {
	f, ok := knownUnits[from]
	if !ok {
		return 0, fmt.Errorf("unsupported unit %q", from)
	}
	t := knownUnits[to]
	if err := f.Check(t.Dimensions()); err != nil {
		return 0, fmt.Errorf("unit %q: %v", from, err)
	}
	return unit.Div(f, t).Value(), nil
}

// A column is one column of a microphysics table: its canonical name
// and the factor converting parsed values to the internal unit.
type column struct {
	name   string
	factor float64
}

// parseHeader interprets the header row of a table. Each cell holds a
// recognized column name, optionally followed by a unit in square
// brackets; a missing unit selects the column's internal unit.
func parseHeader(file string, cells []string) ([]column, error) {
	cols := make([]column, len(cells))
	seen := make(map[string]bool)
	for i, cell := range cells {
		name := strings.TrimSpace(cell)
		unitName := ""
		if j := strings.IndexByte(name, '['); j >= 0 {
			if !strings.HasSuffix(name, "]") {
				return nil, smrt.ParseError{File: file, Line: 1,
					Err: fmt.Errorf("column %q has an unterminated unit", name)}
			}
			unitName = strings.TrimSpace(name[j+1 : len(name)-1])
			name = strings.TrimSpace(name[:j])
		}
		name = strings.ToLower(name)
		to, ok := internalUnits[name]
		if !ok {
			return nil, smrt.ParseError{File: file, Line: 1,
				Err: fmt.Errorf("unrecognized column %q", name)}
		}
		if seen[name] {
			return nil, smrt.ParseError{File: file, Line: 1,
				Err: fmt.Errorf("repeated column %q", name)}
		}
		seen[name] = true
		if unitName == "" {
			unitName = to
		}
		factor, err := conversionFactor(unitName, to)
		if err != nil {
			return nil, smrt.ParseError{File: file, Line: 1,
				Err: fmt.Errorf("column %q: %v", name, err)}
		}
		cols[i] = column{name: name, factor: factor}
	}
	return cols, nil
}

// requireColumns checks that every named column is present in cols.
func requireColumns(file string, cols []column, names ...string) error {
	for _, name := range names {
		found := false
		for _, c := range cols {
			if c.name == name {
				found = true
				break
			}
		}
		if !found {
			return smrt.ParseError{File: file, Line: 1,
				Err: fmt.Errorf("missing column %q", name)}
		}
	}
	return nil
}

// parseRecord converts the cells of one table row to values in the
// internal units of the columns.
func parseRecord(file string, line int, cols []column, cells []string) ([]float64, error) {
	if len(cells) != len(cols) {
		return nil, smrt.ParseError{File: file, Line: line,
			Err: fmt.Errorf("%d values for %d columns", len(cells), len(cols))}
	}
	vals := make([]float64, len(cols))
	for i, cell := range cells {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, smrt.ParseError{File: file, Line: line,
				Err: fmt.Errorf("column %q: %v", cols[i].name, err)}
		}
		vals[i] = v * cols[i].factor
	}
	return vals, nil
}

// columnIndex returns the position of the named column, or -1.
func columnIndex(cols []column, name string) int {
	for i, c := range cols {
		if c.name == name {
			return i
		}
	}
	return -1
}

// axisCoords collects the sorted unique values of one coordinate
// column, or nil if the column is absent.
func axisCoords(cols []column, rows [][]float64, name string) []float64 {
	c := columnIndex(cols, name)
	if c < 0 {
		return nil
	}
	seen := make(map[float64]bool)
	var coords []float64
	for _, r := range rows {
		if !seen[r[c]] {
			seen[r[c]] = true
			coords = append(coords, r[c])
		}
	}
	sort.Float64s(coords)
	return coords
}

// buildCloud assembles cloud property fields from parsed table rows.
// The grid axes are the unique coordinate values found in the rows;
// grid points not named by any row keep zero liquid water content.
func buildCloud(file string, cols []column, rows [][]float64, lines []int) (*Cloud, error) {
	if len(rows) == 0 {
		return nil, smrt.ParseError{File: file, Err: fmt.Errorf("no data rows")}
	}
	x := axisCoords(cols, rows, "x")
	y := axisCoords(cols, rows, "y")
	z := axisCoords(cols, rows, "z")
	g, err := smrt.NewGrid(x, y, z)
	if err != nil {
		return nil, smrt.ParseError{File: file, Err: err}
	}
	shape := g.Shape()
	ny, nx := shape[1], shape[2]

	cx := columnIndex(cols, "x")
	cy := columnIndex(cols, "y")
	cz := columnIndex(cols, "z")
	cl := columnIndex(cols, "lwc")
	cr := columnIndex(cols, "reff")
	cv := columnIndex(cols, "veff")

	lwc := sparse.ZerosDense(shape...)
	reff := sparse.ZerosDense(shape...)
	var veff *sparse.DenseArray
	if cv >= 0 {
		veff = sparse.ZerosDense(shape...)
	}
	filled := make([]int, g.Len())
	for n, r := range rows {
		k := sort.SearchFloat64s(z, r[cz])
		j, i := 0, 0
		if cy >= 0 {
			j = sort.SearchFloat64s(y, r[cy])
		}
		if cx >= 0 {
			i = sort.SearchFloat64s(x, r[cx])
		}
		flat := (k*ny+j)*nx + i
		if filled[flat] != 0 {
			return nil, smrt.ParseError{File: file, Line: lines[n],
				Err: fmt.Errorf("point at z=%g already given on line %d", r[cz], filled[flat])}
		}
		filled[flat] = lines[n]
		lwc.Elements[flat] = r[cl]
		reff.Elements[flat] = r[cr]
		if cv >= 0 {
			veff.Elements[flat] = r[cv]
		}
	}

	cloud := new(Cloud)
	if cloud.LWC, err = smrt.NewField("cloud liquid water content", "g m-3", g, lwc); err != nil {
		return nil, smrt.ParseError{File: file, Err: err}
	}
	if cloud.Reff, err = smrt.NewField("droplet effective radius", "um", g, reff); err != nil {
		return nil, smrt.ParseError{File: file, Err: err}
	}
	if cv >= 0 {
		if cloud.Veff, err = smrt.NewField("droplet effective variance", "-", g, veff); err != nil {
			return nil, smrt.ParseError{File: file, Err: err}
		}
	}
	return cloud, nil
}

// buildProfile assembles a temperature field on a column grid from
// parsed table rows, ordering them by height.
func buildProfile(file string, cols []column, rows [][]float64, lines []int) (*smrt.Field, error) {
	if len(rows) == 0 {
		return nil, smrt.ParseError{File: file, Err: fmt.Errorf("no data rows")}
	}
	cz := columnIndex(cols, "z")
	ct := columnIndex(cols, "temperature")

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rows[order[a]][cz] < rows[order[b]][cz] })
	for i := 1; i < len(order); i++ {
		if rows[order[i]][cz] == rows[order[i-1]][cz] {
			return nil, smrt.ParseError{File: file, Line: lines[order[i]],
				Err: fmt.Errorf("level z=%g already given on line %d", rows[order[i]][cz], lines[order[i-1]])}
		}
	}
	z := make([]float64, len(order))
	data := sparse.ZerosDense(len(order), 1, 1)
	for i, n := range order {
		z[i] = rows[n][cz]
		data.Elements[i] = rows[n][ct]
	}
	g, err := smrt.NewColumnGrid(z)
	if err != nil {
		return nil, smrt.ParseError{File: file, Err: err}
	}
	field, err := smrt.NewField("temperature", "K", g, data)
	if err != nil {
		return nil, smrt.ParseError{File: file, Err: err}
	}
	return field, nil
}
