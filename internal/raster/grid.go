// Package raster implements the grid primitives the extraction pipelines are
// built on: map algebra, focal statistics, clumping, rasterization and
// vectorization. Grids are value types bound to an explicit model.Region;
// all operations are pure with respect to their inputs.
package raster

import (
	"fmt"
	"math"

	"urban_analysis/internal/domain/model"
)

// Grid is a named single-band raster bound to a region. Cells are stored
// row-major with row 0 at the northern edge. NoData cells are NaN.
type Grid struct {
	Name   string
	Region model.Region
	Rows   int
	Cols   int
	Data   []float64
}

// NewGrid allocates a grid covering the region, filled with NoData.
func NewGrid(name string, region model.Region) *Grid {
	rows, cols := region.Rows(), region.Cols()
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{Name: name, Region: region, Rows: rows, Cols: cols, Data: data}
}

// NewConstGrid allocates a grid filled with a constant value.
func NewConstGrid(name string, region model.Region, value float64) *Grid {
	g := NewGrid(name, region)
	for i := range g.Data {
		g.Data[i] = value
	}
	return g
}

func (g *Grid) idx(row, col int) int { return row*g.Cols + col }

func (g *Grid) Get(row, col int) float64 {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return math.NaN()
	}
	return g.Data[g.idx(row, col)]
}

func (g *Grid) Set(row, col int, v float64) {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return
	}
	g.Data[g.idx(row, col)] = v
}

// IsNull reports whether the cell holds NoData.
func (g *Grid) IsNull(row, col int) bool {
	return math.IsNaN(g.Get(row, col))
}

// CellCenter returns the map coordinate of the cell center.
func (g *Grid) CellCenter(row, col int) (x, y float64) {
	res := g.Region.Res
	x = g.Region.West + (float64(col)+0.5)*res
	y = g.Region.North - (float64(row)+0.5)*res
	return x, y
}

// CellAt returns the row/col containing the map coordinate.
func (g *Grid) CellAt(x, y float64) (row, col int, ok bool) {
	if !g.Region.Contains(x, y) {
		return 0, 0, false
	}
	col = int((x - g.Region.West) / g.Region.Res)
	row = int((g.Region.North - y) / g.Region.Res)
	if col >= g.Cols {
		col = g.Cols - 1
	}
	if row >= g.Rows {
		row = g.Rows - 1
	}
	return row, col, true
}

// Clone returns a deep copy under a new name.
func (g *Grid) Clone(name string) *Grid {
	out := &Grid{Name: name, Region: g.Region, Rows: g.Rows, Cols: g.Cols}
	out.Data = make([]float64, len(g.Data))
	copy(out.Data, g.Data)
	return out
}

// Clip extracts the part of the grid covered by the tile region. The tile
// must be cell-aligned with the source region.
func (g *Grid) Clip(name string, region model.Region) (*Grid, error) {
	sub, ok := g.Region.Intersect(region)
	if !ok {
		return nil, fmt.Errorf("region %+v does not overlap grid %q", region, g.Name)
	}
	out := NewGrid(name, sub)
	colOff := int(math.Round((sub.West - g.Region.West) / g.Region.Res))
	rowOff := int(math.Round((g.Region.North - sub.North) / g.Region.Res))
	for row := 0; row < out.Rows; row++ {
		for col := 0; col < out.Cols; col++ {
			out.Set(row, col, g.Get(row+rowOff, col+colOff))
		}
	}
	return out, nil
}

// Paste copies the non-null cells of the tile grid into the receiver at the
// matching map position. Used by the merger to reassemble tiled outputs.
func (g *Grid) Paste(tile *Grid) {
	colOff := int(math.Round((tile.Region.West - g.Region.West) / g.Region.Res))
	rowOff := int(math.Round((g.Region.North - tile.Region.North) / g.Region.Res))
	for row := 0; row < tile.Rows; row++ {
		for col := 0; col < tile.Cols; col++ {
			v := tile.Get(row, col)
			if !math.IsNaN(v) {
				g.Set(row+rowOff, col+colOff, v)
			}
		}
	}
}

// MapCalc applies fn to every cell of the input grids and writes the result
// into a new grid. All inputs must share the receiver's dimensions. This is
// the Go rendition of the raster algebra the pipelines are expressed in.
func MapCalc(name string, fn func(vals []float64) float64, grids ...*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("mapcalc needs at least one input grid")
	}
	first := grids[0]
	for _, g := range grids[1:] {
		if g.Rows != first.Rows || g.Cols != first.Cols {
			return nil, fmt.Errorf("mapcalc input %q does not match %q in size", g.Name, first.Name)
		}
	}
	out := NewGrid(name, first.Region)
	vals := make([]float64, len(grids))
	for i := range first.Data {
		for j, g := range grids {
			vals[j] = g.Data[i]
		}
		out.Data[i] = fn(vals)
	}
	return out, nil
}

// CountValid returns the number of non-null cells.
func (g *Grid) CountValid() int {
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// CellArea returns the area of one cell in square map units.
func (g *Grid) CellArea() float64 {
	return g.Region.Res * g.Region.Res
}
