package raster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"urban_analysis/internal/domain/model"
)

// Rasterize burns polygon features into a new grid. The value function maps
// each feature to the burned cell value (e.g. its cat or an attribute).
// Cells outside all features stay NoData. Cell membership is decided at the
// cell center with even-odd scanline filling.
func Rasterize(name string, region model.Region, features []model.Feature, value func(model.Feature) float64) *Grid {
	out := NewGrid(name, region)
	for _, f := range features {
		burnFeature(out, f, value(f))
	}
	return out
}

// RasterizeLayer burns the feature cats of a layer.
func RasterizeLayer(name string, region model.Region, layer *model.VectorLayer) *Grid {
	return Rasterize(name, region, layer.Features, func(f model.Feature) float64 {
		return float64(f.Cat)
	})
}

func burnFeature(g *Grid, f model.Feature, value float64) {
	bound := f.Geometry.Bound()
	minRow, _, okMin := g.CellAt(bound.Min[0]+g.Region.Res/2, bound.Max[1]-g.Region.Res/2)
	maxRow := g.Rows - 1
	if okMin {
		if minRow > 0 {
			minRow--
		}
	} else {
		minRow = 0
	}
	for row := minRow; row <= maxRow; row++ {
		_, y := g.CellCenter(row, 0)
		if y > bound.Max[1] || y < bound.Min[1] {
			continue
		}
		crossings := rowCrossings(f.Geometry, y)
		if len(crossings) == 0 {
			continue
		}
		// fill between even-odd pairs
		for i := 0; i+1 < len(crossings); i += 2 {
			x0, x1 := crossings[i], crossings[i+1]
			for col := 0; col < g.Cols; col++ {
				x, _ := g.CellCenter(row, col)
				if x >= x0 && x < x1 {
					g.Set(row, col, value)
				}
			}
		}
	}
}

// rowCrossings collects the x coordinates where the scanline y crosses any
// ring edge, sorted ascending.
func rowCrossings(poly orb.Polygon, y float64) []float64 {
	var xs []float64
	for _, ring := range poly {
		n := len(ring)
		if n < 3 {
			continue
		}
		for i := 0; i < n-1; i++ {
			p1, p2 := ring[i], ring[i+1]
			y1, y2 := p1[1], p2[1]
			if y1 == y2 {
				continue
			}
			// half-open rule avoids double counting at vertices
			if (y1 <= y && y2 > y) || (y2 <= y && y1 > y) {
				t := (y - y1) / (y2 - y1)
				xs = append(xs, p1[0]+t*(p2[0]-p1[0]))
			}
		}
	}
	sort.Float64s(xs)
	return xs
}

// MaskBy returns a copy of the grid with cells set to NoData where the mask
// is null or zero.
func (g *Grid) MaskBy(name string, mask *Grid) *Grid {
	out := g.Clone(name)
	for i := range out.Data {
		m := mask.Data[i]
		if math.IsNaN(m) || m == 0 {
			out.Data[i] = math.NaN()
		}
	}
	return out
}
