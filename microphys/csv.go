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

package microphys

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spectralmodel/smrt"
)

// readCSVTable reads the header and data rows of a CSV table,
// returning the values of each row in internal units along with its
// 1-based line number.
func readCSVTable(file string, r io.Reader) ([]column, [][]float64, []int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, nil, nil, smrt.ParseError{File: file, Line: 1, Err: err}
	}
	cols, err := parseHeader(file, header)
	if err != nil {
		return nil, nil, nil, err
	}
	var rows [][]float64
	var lines []int
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, nil, smrt.ParseError{File: file, Line: line, Err: err}
		}
		vals, err := parseRecord(file, line, cols, record)
		if err != nil {
			return nil, nil, nil, err
		}
		rows = append(rows, vals)
		lines = append(lines, line)
	}
	return cols, rows, lines, nil
}

// ReadCloudCSV reads cloud microphysical properties from the CSV file
// at path. The table must have z, lwc, and reff columns and may have
// x, y, and veff columns; grid points not named by any row keep zero
// liquid water content.
func ReadCloudCSV(path string) (*Cloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("microphys: opening cloud data: %v", err)
	}
	defer f.Close()
	cols, rows, lines, err := readCSVTable(path, f)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, cols, "z", "lwc", "reff"); err != nil {
		return nil, err
	}
	return buildCloud(path, cols, rows, lines)
}

// ReadProfileCSV reads an atmospheric temperature profile from the CSV
// file at path. The table must have z and temperature columns; rows
// may be in any height order.
func ReadProfileCSV(path string) (*smrt.Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("microphys: opening profile data: %v", err)
	}
	defer f.Close()
	cols, rows, lines, err := readCSVTable(path, f)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, cols, "z", "temperature"); err != nil {
		return nil, err
	}
	return buildProfile(path, cols, rows, lines)
}
