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
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

// coordTolerance is the relative tolerance within which two axis
// coordinates are considered to be the same location.
const coordTolerance = 1.e-9

// A Grid is an immutable rectilinear grid of sample points. The axis
// coordinates are in km, may be non-uniformly spaced, and are strictly
// increasing. The x and y axes may be absent, in which case quantities
// on the grid do not vary along those axes; a grid with only a z axis
// represents a 1-D vertical column.
type Grid struct {
	x, y, z []float64
}

// NewGrid creates a grid from the given axis coordinates in km. The z
// axis must contain at least one coordinate; x and y may be nil. Each
// axis present must be strictly increasing and finite.
func NewGrid(x, y, z []float64) (*Grid, error) {
	if len(z) == 0 {
		return nil, configErrorf("smrt: creating grid: z axis is empty")
	}
	g := &Grid{
		x: append([]float64(nil), x...),
		y: append([]float64(nil), y...),
		z: append([]float64(nil), z...),
	}
	for _, ax := range []struct {
		name string
		v    []float64
	}{{"x", g.x}, {"y", g.y}, {"z", g.z}} {
		if err := checkAxis(ax.name, ax.v); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NewColumnGrid creates a 1-D vertical column grid from z axis
// coordinates in km.
func NewColumnGrid(z []float64) (*Grid, error) {
	return NewGrid(nil, nil, z)
}

// checkAxis ensures that axis coordinates are finite and strictly
// increasing.
func checkAxis(name string, v []float64) error {
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return configErrorf("smrt: creating grid: %s axis coordinate %d is %g", name, i, c)
		}
		if i > 0 && c <= v[i-1] {
			return configErrorf("smrt: creating grid: %s axis is not strictly increasing at index %d (%g ≤ %g)",
				name, i, c, v[i-1])
		}
	}
	return nil
}

// X returns the x axis coordinates in km, or nil for a grid without
// an x axis. The caller must not modify the returned slice.
func (g *Grid) X() []float64 { return g.x }

// Y returns the y axis coordinates in km, or nil for a grid without
// a y axis. The caller must not modify the returned slice.
func (g *Grid) Y() []float64 { return g.y }

// Z returns the z axis coordinates in km. The caller must not modify
// the returned slice.
func (g *Grid) Z() []float64 { return g.z }

// Shape returns the array dimensions [nz, ny, nx] of data sampled on
// this grid. Absent axes have length 1.
func (g *Grid) Shape() []int {
	return []int{len(g.z), axisLen(g.y), axisLen(g.x)}
}

// Len returns the total number of sample points in the grid.
func (g *Grid) Len() int {
	return len(g.z) * axisLen(g.y) * axisLen(g.x)
}

// Top returns the altitude of the highest grid level in km.
func (g *Grid) Top() float64 { return g.z[len(g.z)-1] }

// Bounds returns the horizontal extent of the grid, or nil for a grid
// without horizontal axes.
func (g *Grid) Bounds() *geom.Bounds {
	if len(g.x) == 0 || len(g.y) == 0 {
		return nil
	}
	return &geom.Bounds{
		Min: geom.Point{X: g.x[0], Y: g.y[0]},
		Max: geom.Point{X: g.x[len(g.x)-1], Y: g.y[len(g.y)-1]},
	}
}

// Equal reports whether two grids have exactly the same axes.
func (g *Grid) Equal(o *Grid) bool {
	return equalAxis(g.x, o.x) && equalAxis(g.y, o.y) && equalAxis(g.z, o.z)
}

func equalAxis(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

func axisLen(v []float64) int {
	if len(v) == 0 {
		return 1
	}
	return len(v)
}

// Union returns the smallest grid that contains every sample point of
// both grids. Coordinates from the two grids that agree within a
// relative tolerance of 1e-9 are merged into a single coordinate, so
// floating point noise does not inflate the result. Union is
// commutative.
func (g *Grid) Union(o *Grid) *Grid {
	return &Grid{
		x: unionAxis(g.x, o.x),
		y: unionAxis(g.y, o.y),
		z: unionAxis(g.z, o.z),
	}
}

// unionAxis merges two sorted axes, collapsing coordinates that agree
// within tolerance to the smaller of the pair. An absent axis does not
// constrain the result.
func unionAxis(a, b []float64) []float64 {
	if len(a) == 0 {
		return append([]float64(nil), b...)
	}
	if len(b) == 0 {
		return append([]float64(nil), a...)
	}
	out := make([]float64, 0, len(a)+len(b))
	var i, j int
	for i < len(a) && j < len(b) {
		va, vb := a[i], b[j]
		switch {
		case coordsEqual(va, vb):
			out = append(out, math.Min(va, vb))
			i++
			j++
		case va < vb:
			out = append(out, va)
			i++
		default:
			out = append(out, vb)
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// coordsEqual reports whether two coordinates are the same location
// within tolerance. It is symmetric in its arguments.
func coordsEqual(a, b float64) bool {
	scale := 1 + math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= coordTolerance*scale
}

// A Field holds the values of one physical quantity sampled on a Grid,
// stored in [z, y, x] index order.
type Field struct {
	Description string
	Units       string
	Grid        *Grid
	Data        *sparse.DenseArray
}

// NewField creates a field from data sampled on grid g. The data shape
// must match the grid shape and all values must be finite.
func NewField(description, units string, g *Grid, data *sparse.DenseArray) (*Field, error) {
	if !shapeEqual(data.Shape, g.Shape()) {
		return nil, configErrorf("smrt: creating field %s: data shape %v does not match grid shape %v",
			description, data.Shape, g.Shape())
	}
	for i, v := range data.Elements {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, configErrorf("smrt: creating field %s: element %d is %g", description, i, v)
		}
	}
	return &Field{Description: description, Units: units, Grid: g, Data: data}, nil
}

// NewConstantField creates a field that holds the same value at every
// point of grid g.
func NewConstantField(description, units string, g *Grid, value float64) *Field {
	data := sparse.ZerosDense(g.Shape()...)
	for i := range data.Elements {
		data.Elements[i] = value
	}
	return &Field{Description: description, Units: units, Grid: g, Data: data}
}

// Copy returns a deep copy of the field. The grid is shared, as grids
// are immutable.
func (f *Field) Copy() *Field {
	return &Field{
		Description: f.Description,
		Units:       f.Units,
		Grid:        f.Grid,
		Data:        f.Data.Copy(),
	}
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// An axisWeight gives the linear interpolation stencil for one target
// coordinate along one axis: value = v[i0]*(1-w1) + v[i1]*w1. A
// stencil with outside set contributes nothing.
type axisWeight struct {
	i0, i1  int
	w1      float64
	outside bool
}

// axisWeights computes interpolation stencils from source axis
// coordinates to target coordinates. A source axis with at most one
// coordinate is treated as constant along that axis, so every target
// maps to index zero. Targets outside the extent of a multi-coordinate
// source axis cause an OutOfDomainError, or, if pad is true, produce
// an empty stencil.
func axisWeights(name string, src, dst []float64, pad bool) ([]axisWeight, error) {
	w := make([]axisWeight, len(dst))
	if len(src) <= 1 {
		return w, nil
	}
	lo, hi := src[0], src[len(src)-1]
	for n, v := range dst {
		switch {
		case v < lo:
			if !coordsEqual(v, lo) {
				if pad {
					w[n] = axisWeight{outside: true}
					continue
				}
				return nil, OutOfDomainError{Axis: name, Value: v, Min: lo, Max: hi}
			}
			// Clamp to the first coordinate.
		case v > hi:
			if !coordsEqual(v, hi) {
				if pad {
					w[n] = axisWeight{outside: true}
					continue
				}
				return nil, OutOfDomainError{Axis: name, Value: v, Min: lo, Max: hi}
			}
			w[n] = axisWeight{i0: len(src) - 1, i1: len(src) - 1}
		default:
			i := sort.SearchFloat64s(src, v)
			if src[i] == v {
				w[n] = axisWeight{i0: i, i1: i}
			} else {
				w[n] = axisWeight{
					i0: i - 1,
					i1: i,
					w1: (v - src[i-1]) / (src[i] - src[i-1]),
				}
			}
		}
	}
	return w, nil
}

// gridWeights computes per-axis interpolation stencils from the axes
// of grid src to the axes of grid dst. A dst axis that is absent can
// only receive from a src axis with at most one coordinate, because
// collapsing a varying axis would lose information. If pad is true,
// dst points outside the src extent get empty stencils instead of
// causing an error.
func gridWeights(src, dst *Grid, pad bool) (wz, wy, wx []axisWeight, err error) {
	for _, ax := range []struct {
		name     string
		src, dst []float64
		out      *[]axisWeight
	}{
		{"z", src.z, dst.z, &wz},
		{"y", src.y, dst.y, &wy},
		{"x", src.x, dst.x, &wx},
	} {
		if len(ax.dst) == 0 {
			if len(ax.src) > 1 {
				return nil, nil, nil, configErrorf(
					"smrt: resampling: target grid has no %s axis but source has %d %s coordinates",
					ax.name, len(ax.src), ax.name)
			}
			*ax.out = make([]axisWeight, 1)
			continue
		}
		w, err := axisWeights(ax.name, ax.src, ax.dst, pad)
		if err != nil {
			return nil, nil, nil, err
		}
		*ax.out = w
	}
	return wz, wy, wx, nil
}

// Resample returns the field trilinearly interpolated onto grid dst.
// Source axes with at most one coordinate are broadcast, and target
// points outside the source extent along a multi-coordinate axis cause
// an OutOfDomainError.
func (f *Field) Resample(dst *Grid) (*Field, error) {
	if f.Grid.Equal(dst) {
		return f.Copy(), nil
	}
	wz, wy, wx, err := gridWeights(f.Grid, dst, false)
	if err != nil {
		return nil, err
	}
	out := sparse.ZerosDense(dst.Shape()...)
	for k, zw := range wz {
		for j, yw := range wy {
			for i, xw := range wx {
				out.Set(interpolate(f.Data, zw, yw, xw), k, j, i)
			}
		}
	}
	return &Field{
		Description: f.Description,
		Units:       f.Units,
		Grid:        dst,
		Data:        out,
	}, nil
}

// locate returns the interpolation stencil for a single coordinate,
// and false if the coordinate is outside the axis extent. An axis with
// at most one coordinate matches every location.
func locate(src []float64, v float64) (axisWeight, bool) {
	if len(src) <= 1 {
		return axisWeight{}, true
	}
	if v < src[0] || v > src[len(src)-1] {
		return axisWeight{}, false
	}
	i := sort.SearchFloat64s(src, v)
	if src[i] == v {
		return axisWeight{i0: i, i1: i}, true
	}
	return axisWeight{i0: i - 1, i1: i, w1: (v - src[i-1]) / (src[i] - src[i-1])}, true
}

// corners calls f with the flattened array index and weight of each
// corner of a trilinear stencil that has nonzero weight. shape is the
// [nz, ny, nx] shape of the array being sampled.
func corners(shape []int, zw, yw, xw axisWeight, f func(flat int, w float64)) {
	if zw.outside || yw.outside || xw.outside {
		return
	}
	for _, zc := range [2]stencilCorner{{zw.i0, 1 - zw.w1}, {zw.i1, zw.w1}} {
		if zc.w == 0 {
			continue
		}
		for _, yc := range [2]stencilCorner{{yw.i0, 1 - yw.w1}, {yw.i1, yw.w1}} {
			if yc.w == 0 {
				continue
			}
			for _, xc := range [2]stencilCorner{{xw.i0, 1 - xw.w1}, {xw.i1, xw.w1}} {
				if xc.w == 0 {
					continue
				}
				f((zc.i*shape[1]+yc.i)*shape[2]+xc.i, zc.w*yc.w*xc.w)
			}
		}
	}
}

type stencilCorner struct {
	i int
	w float64
}

// interpolate evaluates a trilinear stencil on array data.
func interpolate(data *sparse.DenseArray, zw, yw, xw axisWeight) float64 {
	var v float64
	corners(data.Shape, zw, yw, xw, func(flat int, w float64) {
		v += w * data.Elements[flat]
	})
	return v
}
