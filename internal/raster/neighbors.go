package raster

import (
	"fmt"
	"math"
	"sort"

	"urban_analysis/internal/domain/model"
)

// FocalMethod selects the moving-window statistic.
type FocalMethod string

const (
	FocalMin     FocalMethod = "minimum"
	FocalMax     FocalMethod = "maximum"
	FocalMedian  FocalMethod = "median"
	FocalAverage FocalMethod = "average"
)

// Focal computes a moving-window statistic with a square window of the given
// odd size. NoData cells are skipped; a cell with no valid neighbors stays
// NoData.
func (g *Grid) Focal(name string, method FocalMethod, size int) (*Grid, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("focal window size must be odd and positive, got %d", size)
	}
	half := size / 2
	out := NewGrid(name, g.Region)
	window := make([]float64, 0, size*size)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			window = window[:0]
			for dr := -half; dr <= half; dr++ {
				for dc := -half; dc <= half; dc++ {
					v := g.Get(row+dr, col+dc)
					if !math.IsNaN(v) {
						window = append(window, v)
					}
				}
			}
			if len(window) == 0 {
				continue
			}
			switch method {
			case FocalMin:
				min := window[0]
				for _, v := range window[1:] {
					if v < min {
						min = v
					}
				}
				out.Set(row, col, min)
			case FocalMax:
				max := window[0]
				for _, v := range window[1:] {
					if v > max {
						max = v
					}
				}
				out.Set(row, col, max)
			case FocalMedian:
				sort.Float64s(window)
				mid := len(window) / 2
				if len(window)%2 == 1 {
					out.Set(row, col, window[mid])
				} else {
					out.Set(row, col, (window[mid-1]+window[mid])/2)
				}
			case FocalAverage:
				var sum float64
				for _, v := range window {
					sum += v
				}
				out.Set(row, col, sum/float64(len(window)))
			default:
				return nil, fmt.Errorf("unknown focal method %q", method)
			}
		}
	}
	return out, nil
}

// ResampleMax aggregates the grid to a coarser resolution taking the cell
// maximum, the resampling used before peak detection so that one tree crown
// yields a single maximum.
func (g *Grid) ResampleMax(name string, res float64) (*Grid, error) {
	if res <= g.Region.Res {
		return nil, fmt.Errorf("resample target resolution %g not coarser than %g", res, g.Region.Res)
	}
	region := g.Region
	region.Res = res
	out := NewGrid(name, region)
	factor := res / g.Region.Res
	for row := 0; row < out.Rows; row++ {
		for col := 0; col < out.Cols; col++ {
			r0 := int(float64(row) * factor)
			c0 := int(float64(col) * factor)
			r1 := int(float64(row+1) * factor)
			c1 := int(float64(col+1) * factor)
			max := math.NaN()
			for r := r0; r < r1 && r < g.Rows; r++ {
				for c := c0; c < c1 && c < g.Cols; c++ {
					v := g.Get(r, c)
					if !math.IsNaN(v) && (math.IsNaN(max) || v > max) {
						max = v
					}
				}
			}
			out.Set(row, col, max)
		}
	}
	return out, nil
}

// Slope computes the slope in degrees from the elevation grid using central
// differences.
func (g *Grid) Slope(name string) *Grid {
	out := NewGrid(name, g.Region)
	res := g.Region.Res
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if g.IsNull(row, col) {
				continue
			}
			east := g.Get(row, col+1)
			west := g.Get(row, col-1)
			north := g.Get(row-1, col)
			south := g.Get(row+1, col)
			center := g.Get(row, col)
			if math.IsNaN(east) {
				east = center
			}
			if math.IsNaN(west) {
				west = center
			}
			if math.IsNaN(north) {
				north = center
			}
			if math.IsNaN(south) {
				south = center
			}
			dzdx := (east - west) / (2 * res)
			dzdy := (north - south) / (2 * res)
			out.Set(row, col, math.Atan(math.Hypot(dzdx, dzdy))*180/math.Pi)
		}
	}
	return out
}

// ProjectTo resamples the grid onto the target region by nearest neighbor.
// Used to bring coarse auxiliary grids back to working resolution.
func (g *Grid) ProjectTo(name string, region model.Region) *Grid {
	out := NewGrid(name, region)
	for row := 0; row < out.Rows; row++ {
		for col := 0; col < out.Cols; col++ {
			x, y := out.CellCenter(row, col)
			if r, c, ok := g.CellAt(x, y); ok {
				out.Set(row, col, g.Get(r, c))
			}
		}
	}
	return out
}
