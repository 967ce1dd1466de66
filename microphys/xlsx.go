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
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/tealeg/xlsx"

	"github.com/spectralmodel/smrt"
)

// workbookCache holds previously opened Microsoft Excel files to avoid
// reading the same file multiple times.
var workbookCache *requestcache.Cache

var loadWorkbookCacheOnce sync.Once

// loadWorkbook loads a Microsoft Excel file from disk, utilizing a
// cache to avoid loading the same file more than once.
func loadWorkbook(fileName string) (*xlsx.File, error) {
	loadWorkbookCacheOnce.Do(func() {
		workbookCache = requestcache.NewCache(func(ctx context.Context, req interface{}) (interface{}, error) {
			filename := req.(string)
			f, err := xlsx.OpenFile(filename)
			if err != nil {
				return nil, fmt.Errorf("microphys: opening xlsx file: %v", err)
			}
			return f, nil
		}, runtime.GOMAXPROCS(-1), requestcache.Memory(100))
	})
	r := workbookCache.NewRequest(context.Background(), fileName, fileName)
	fI, err := r.Result()
	if err != nil {
		return nil, err
	}
	return fI.(*xlsx.File), nil
}

// blankRow reports whether every cell of an xlsx row is empty or
// whitespace.
func blankRow(cells []*xlsx.Cell) bool {
	for _, c := range cells {
		if strings.TrimSpace(c.Value) != "" {
			return false
		}
	}
	return true
}

// cellStrings converts an xlsx row to exactly n cell values, treating
// trailing cells the file omits as empty.
func cellStrings(cells []*xlsx.Cell, n int) []string {
	s := make([]string, n)
	for i := range s {
		if i < len(cells) {
			s[i] = cells[i].Value
		}
	}
	return s
}

// ReadCloudXLSX reads cloud microphysical properties from the named
// sheet of a Microsoft Excel file. The sheet layout is the same as for
// ReadCloudCSV: a header row naming z, lwc, and reff columns and
// optionally x, y, and veff, followed by one row per grid point.
func ReadCloudXLSX(fileName, sheet string) (*Cloud, error) {
	f, err := loadWorkbook(fileName)
	if err != nil {
		return nil, err
	}
	s, ok := f.Sheet[sheet]
	if !ok {
		return nil, fmt.Errorf("microphys: reading cloud data from %s: no sheet %s", fileName, sheet)
	}
	if len(s.Rows) == 0 || blankRow(s.Rows[0].Cells) {
		return nil, smrt.ParseError{File: fileName, Line: 1, Err: fmt.Errorf("sheet %s has no header row", sheet)}
	}
	header := make([]string, len(s.Rows[0].Cells))
	for i, c := range s.Rows[0].Cells {
		header[i] = c.Value
	}
	cols, err := parseHeader(fileName, header)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(fileName, cols, "z", "lwc", "reff"); err != nil {
		return nil, err
	}
	var rows [][]float64
	var lines []int
	for n, row := range s.Rows {
		if n == 0 || blankRow(row.Cells) {
			continue
		}
		vals, err := parseRecord(fileName, n+1, cols, cellStrings(row.Cells, len(cols)))
		if err != nil {
			return nil, err
		}
		rows = append(rows, vals)
		lines = append(lines, n+1)
	}
	return buildCloud(fileName, cols, rows, lines)
}
