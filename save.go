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

package smrt

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// reservedOutputNames are variable names used by the image cube file
// layout itself and therefore not available for derived variables.
var reservedOutputNames = map[string]struct{}{
	"Radiance":   {},
	"Wavelength": {},
	"SolarFlux":  {},
	"Status":     {},
	"Iterations": {},
}

var bandNamePattern = regexp.MustCompile(`^Band\d+$`)
var outputNamePattern = regexp.MustCompile(`^[A-Za-z]\w*$`)

// An Outputter writes rendered image cubes to NetCDF files, optionally
// with additional derived variables calculated per pixel from the
// spectral bands.
//
// outputVariables maps the names of the derived variables to
// expressions that define how they are calculated. Expressions can use
// the band names of the cube being written (for example Band672 for
// the 0.672 μm channel), previously defined output variables, and
// functions.
//
// modelVariables is automatically generated based on the band
// variables that are required to calculate the requested output
// variables.
//
// Functions are defined in the outputFunctions variable.
type Outputter struct {
	fileName        string
	outputVariables map[string]string
	modelVariables  []string
	outputFunctions map[string]govaluate.ExpressionFunction
	expressions     map[string]*govaluate.EvaluableExpression
}

// NewOutputter initializes a new Outputter and adds a set of default
// output functions. Default functions include:
//
// 'exp(x)' which applies the exponential function e^x.
//
// 'sqrt(x)' which takes the square root of x.
//
// 'abs(x)' which takes the absolute value of x.
//
// 'min(x, y, ...)' and 'max(x, y, ...)' which take the minimum and
// maximum of their arguments.
func NewOutputter(fileName string, outputVariables map[string]string, outputFunctions map[string]govaluate.ExpressionFunction) (*Outputter, error) {
	defaultOutputFuncs := map[string]govaluate.ExpressionFunction{
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("smrt: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return (float64)(math.Exp(arg[0].(float64))), nil
		},
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("smrt: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return (float64)(math.Sqrt(arg[0].(float64))), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("smrt: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return (float64)(math.Abs(arg[0].(float64))), nil
		},
		"min": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("smrt: got %d arguments for function 'min', but needs at least 2", len(args))
			}
			v := args[0].(float64)
			for _, a := range args[1:] {
				v = math.Min(v, a.(float64))
			}
			return v, nil
		},
		"max": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return nil, fmt.Errorf("smrt: got %d arguments for function 'max', but needs at least 2", len(args))
			}
			v := args[0].(float64)
			for _, a := range args[1:] {
				v = math.Max(v, a.(float64))
			}
			return v, nil
		},
	}

	for key, val := range outputFunctions {
		defaultOutputFuncs[key] = val
	}

	o := &Outputter{
		fileName:        fileName,
		outputVariables: outputVariables,
		outputFunctions: defaultOutputFuncs,
		expressions:     make(map[string]*govaluate.EvaluableExpression),
	}

	for name, value := range o.outputVariables {
		if !outputNamePattern.MatchString(name) {
			return nil, configErrorf("smrt: output variable name '%s' includes unsupported characters", name)
		}
		if _, ok := reservedOutputNames[name]; ok {
			return nil, configErrorf("smrt: output variable name '%s' is reserved", name)
		}
		if bandNamePattern.MatchString(name) {
			return nil, configErrorf("smrt: output variable name '%s' is reserved for spectral bands", name)
		}
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(value, o.outputFunctions)
		if err != nil {
			return nil, fmt.Errorf("smrt: output variable %s: %v", name, err)
		}
		o.expressions[name] = expression
		for _, v := range removeDuplicates(expression.Vars()) {
			if _, ok := o.outputVariables[v]; !ok {
				o.modelVariables = append(o.modelVariables, v)
			}
		}
	}
	o.modelVariables = removeDuplicates(o.modelVariables)
	return o, nil
}

// removeDuplicates removes all duplicated strings from a slice,
// returning a slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]string)
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = val
		}
	}
	return result
}

// computeOrder returns the output variables ordered so that every
// expression is evaluated after the output variables it references.
// isBand reports whether a name is a spectral band of the cube being
// written.
func (o *Outputter) computeOrder(isBand func(string) bool) ([]string, error) {
	names := make([]string, 0, len(o.outputVariables))
	for name := range o.outputVariables {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	order := make([]string, 0, len(names))
	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return configErrorf("smrt: output variable '%s' is defined in terms of itself", name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, v := range removeDuplicates(o.expressions[name].Vars()) {
			if _, ok := o.outputVariables[v]; ok {
				if err := visit(v); err != nil {
					return err
				}
			} else if !isBand(v) {
				return configErrorf("smrt: output variable '%s' references '%s', which is neither a spectral band nor an output variable",
					name, v)
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// CheckOutputVars ensures that the output variables can be calculated
// from the spectral bands of the given channels.
func (o *Outputter) CheckOutputVars(channels []Channel) error {
	_, err := o.computeOrder(bandSet(channels))
	return err
}

func bandSet(channels []Channel) func(string) bool {
	bands := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		bands[BandName(ch.Wavelength)] = struct{}{}
	}
	return func(name string) bool {
		_, ok := bands[name]
		return ok
	}
}

// Results calculates the derived output variables for an image cube,
// returning one [row, column] array per output variable.
func (o *Outputter) Results(cube *ImageCube) (map[string]*sparse.DenseArray, error) {
	order, err := o.computeOrder(bandSet(cube.Channels))
	if err != nil {
		return nil, err
	}
	h, w := cube.Data.Shape[1], cube.Data.Shape[2]
	npix := h * w
	values := make(map[string][]float64)
	for k, ch := range cube.Channels {
		values[BandName(ch.Wavelength)] = cube.Data.Elements[k*npix : (k+1)*npix]
	}
	results := make(map[string]*sparse.DenseArray, len(order))
	for _, name := range order {
		expression := o.expressions[name]
		vars := removeDuplicates(expression.Vars())
		out := sparse.ZerosDense(h, w)
		params := make(map[string]interface{}, len(vars))
		for i := 0; i < npix; i++ {
			for _, v := range vars {
				params[v] = values[v][i]
			}
			result, err := expression.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("smrt: evaluating output variable %s: %v", name, err)
			}
			v, ok := result.(float64)
			if !ok {
				return nil, fmt.Errorf("smrt: output variable %s does not evaluate to a number", name)
			}
			out.Elements[i] = v
		}
		values[name] = out.Elements
		results[name] = out
	}
	return results, nil
}

// Output writes the image cube, the per-channel solution statuses, and
// the derived output variables to the Outputter's file.
func (o *Outputter) Output(cube *ImageCube, statuses []ChannelStatus) error {
	results, err := o.Results(cube)
	if err != nil {
		return err
	}
	f, err := os.Create(o.fileName)
	if err != nil {
		return fmt.Errorf("smrt: creating output file: %v", err)
	}
	if err := WriteCDF(f, cube, statuses, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCDF writes an image cube to w as a NetCDF file. statuses, which
// may be nil, gives the per-channel solution outcomes and must be
// ordered by channel index; derived, which may also be nil, holds
// additional [row, column] variables to include.
func WriteCDF(w *os.File, cube *ImageCube, statuses []ChannelStatus, derived map[string]*sparse.DenseArray) error {
	n := len(cube.Channels)
	if n == 0 {
		return configErrorf("smrt: writing image cube: cube has no bands")
	}
	if statuses != nil && len(statuses) != n {
		return configErrorf("smrt: writing image cube: %d statuses for %d bands", len(statuses), n)
	}
	h := cube.Data.Shape[1]
	width := cube.Data.Shape[2]

	hdr := cdf.NewHeader([]string{"band", "y", "x"}, []int{n, h, width})
	hdr.AddAttribute("", "comment", "SMRT multispectral radiance image file")
	hdr.AddAttribute("", "data_version", TableDataVersion)
	hdr.AddAttribute("", "smrt_version", Version)

	hdr.AddVariable("Radiance", []string{"band", "y", "x"}, []float32{0})
	hdr.AddAttribute("Radiance", "description", "Rendered radiance")
	hdr.AddAttribute("Radiance", "units", "W m-2 sr-1")

	hdr.AddVariable("Wavelength", []string{"band"}, []float64{0})
	hdr.AddAttribute("Wavelength", "description", "Band wavelength")
	hdr.AddAttribute("Wavelength", "units", "um")

	hdr.AddVariable("Status", []string{"band"}, []int32{0})
	hdr.AddAttribute("Status", "description",
		"Solution status: 0=unsolved 1=iterating 2=converged 3=maximum iterations exceeded 4=diverged")
	hdr.AddAttribute("Status", "units", "-")

	hdr.AddVariable("Iterations", []string{"band"}, []int32{0})
	hdr.AddAttribute("Iterations", "description", "Radiative transfer iterations performed")
	hdr.AddAttribute("Iterations", "units", "-")

	// Sort the names so they write in the same order every time.
	derivedNames := make([]string, 0, len(derived))
	for name := range derived {
		derivedNames = append(derivedNames, name)
	}
	sort.Strings(derivedNames)
	for _, name := range derivedNames {
		if a := derived[name]; a.Shape[0] != h || a.Shape[1] != width {
			return configErrorf("smrt: writing image cube: derived variable %s has shape %v, want [%d %d]",
				name, a.Shape, h, width)
		}
		hdr.AddVariable(name, []string{"y", "x"}, []float32{0})
		hdr.AddAttribute(name, "description", "Derived output variable")
		hdr.AddAttribute(name, "units", "-")
	}
	hdr.Define()
	if errs := hdr.Check(); len(errs) > 0 {
		return fmt.Errorf("smrt: writing image cube header: %v", errs)
	}

	f, err := cdf.Create(w, hdr)
	if err != nil {
		return fmt.Errorf("smrt: writing image cube header: %v", err)
	}
	if err := writeNCF(f, "Radiance", cube.Data.Elements); err != nil {
		return fmt.Errorf("smrt: writing variable Radiance to netcdf file: %v", err)
	}
	if err := writeNCF64(f, "Wavelength", cube.Wavelengths()); err != nil {
		return fmt.Errorf("smrt: writing variable Wavelength to netcdf file: %v", err)
	}
	statusCodes := make([]int32, n)
	iterations := make([]int32, n)
	if statuses != nil {
		for i := 0; i < n; i++ {
			statusCodes[i] = int32(statuses[i].Status)
			iterations[i] = int32(statuses[i].Iterations)
		}
	}
	if err := writeNCFInt(f, "Status", statusCodes); err != nil {
		return fmt.Errorf("smrt: writing variable Status to netcdf file: %v", err)
	}
	if err := writeNCFInt(f, "Iterations", iterations); err != nil {
		return fmt.Errorf("smrt: writing variable Iterations to netcdf file: %v", err)
	}
	for _, name := range derivedNames {
		if err := writeNCF(f, name, derived[name].Elements); err != nil {
			return fmt.Errorf("smrt: writing variable %s to netcdf file: %v", name, err)
		}
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		return fmt.Errorf("smrt: writing image cube: %v", err)
	}
	return nil
}

func writeNCF(f *cdf.File, name string, data []float64) error {
	if err := checkNCFLen(f, name, len(data)); err != nil {
		return err
	}
	data32 := make([]float32, len(data))
	for i, e := range data {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data32)
	return err
}

func writeNCF64(f *cdf.File, name string, data []float64) error {
	if err := checkNCFLen(f, name, len(data)); err != nil {
		return err
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data)
	return err
}

func writeNCFInt(f *cdf.File, name string, data []int32) error {
	if err := checkNCFLen(f, name, len(data)); err != nil {
		return err
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data)
	return err
}

// checkNCFLen checks that data length matches the variable dimensions.
func checkNCFLen(f *cdf.File, name string, length int) error {
	n := 1
	for _, v := range f.Header.Lengths(name) {
		n *= v
	}
	if length != n {
		return fmt.Errorf("dims are %d but array length is %d", n, length)
	}
	return nil
}

// ReadCDF reads an image cube previously written by WriteCDF,
// returning the cube, the per-channel statuses, and any derived
// variables the file contains.
func ReadCDF(r cdf.ReaderWriterAt) (*ImageCube, []ChannelStatus, map[string]*sparse.DenseArray, error) {
	f, err := cdf.Open(r)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("smrt: reading image cube: %v", err)
	}
	dims := f.Header.Lengths("Radiance")
	if len(dims) != 3 {
		return nil, nil, nil, fmt.Errorf("smrt: reading image cube: Radiance has %d dimensions, want 3", len(dims))
	}
	n, h, w := dims[0], dims[1], dims[2]

	radiance := make([]float32, n*h*w)
	if _, err := f.Reader("Radiance", nil, nil).Read(radiance); err != nil {
		return nil, nil, nil, fmt.Errorf("smrt: reading image cube variable Radiance: %v", err)
	}
	wavelengths := make([]float64, n)
	if _, err := f.Reader("Wavelength", nil, nil).Read(wavelengths); err != nil {
		return nil, nil, nil, fmt.Errorf("smrt: reading image cube variable Wavelength: %v", err)
	}
	statusCodes := make([]int32, n)
	if _, err := f.Reader("Status", nil, nil).Read(statusCodes); err != nil {
		return nil, nil, nil, fmt.Errorf("smrt: reading image cube variable Status: %v", err)
	}
	iterations := make([]int32, n)
	if _, err := f.Reader("Iterations", nil, nil).Read(iterations); err != nil {
		return nil, nil, nil, fmt.Errorf("smrt: reading image cube variable Iterations: %v", err)
	}

	cube := &ImageCube{
		Channels: make([]Channel, n),
		Data:     sparse.ZerosDense(n, h, w),
	}
	statuses := make([]ChannelStatus, n)
	for i := 0; i < n; i++ {
		cube.Channels[i] = Channel{Index: ChannelIndex(i), Wavelength: wavelengths[i]}
		statuses[i] = ChannelStatus{
			Channel:    cube.Channels[i],
			Status:     SolveStatus(statusCodes[i]),
			Iterations: int(iterations[i]),
		}
	}
	for i, v := range radiance {
		cube.Data.Elements[i] = float64(v)
	}

	derived := make(map[string]*sparse.DenseArray)
	for _, name := range f.Header.Variables() {
		if _, ok := reservedOutputNames[name]; ok {
			continue
		}
		vdims := f.Header.Lengths(name)
		if len(vdims) != 2 || vdims[0] != h || vdims[1] != w {
			continue
		}
		buf := make([]float32, h*w)
		if _, err := f.Reader(name, nil, nil).Read(buf); err != nil {
			return nil, nil, nil, fmt.Errorf("smrt: reading image cube variable %s: %v", name, err)
		}
		a := sparse.ZerosDense(h, w)
		for i, v := range buf {
			a.Elements[i] = float64(v)
		}
		derived[name] = a
	}
	return cube, statuses, derived, nil
}
