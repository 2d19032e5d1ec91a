package core

import (
	"math"

	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// MergeTileLayers reassembles per-tile vector outputs into one seamless
// layer over the full region. Tile results are burned onto a common grid and
// re-vectorized, which dissolves polygons split at tile boundaries and makes
// the merge independent of tile order. Holes smaller than fillGap square map
// units are closed.
func MergeTileLayers(name string, region model.Region, tileLayers []*model.VectorLayer, fillGap float64) *model.VectorLayer {
	mask := raster.NewGrid(name+"_mask", region)
	for _, layer := range tileLayers {
		if layer == nil {
			continue
		}
		burned := raster.Rasterize(name+"_tile", region, layer.Features, func(model.Feature) float64 { return 1 })
		mask.Paste(burned)
	}
	labels, _ := mask.Clump(name+"_clumps", false)
	out := model.NewVectorLayer(name)
	for _, f := range raster.Vectorize(labels, fillGap) {
		delete(f.Attrs, "value")
		out.Add(f)
	}
	return out
}

// MergeTileGrids pastes per-tile grids into a single full-region grid.
func MergeTileGrids(name string, region model.Region, tiles []*raster.Grid) *raster.Grid {
	out := raster.NewGrid(name, region)
	for _, tile := range tiles {
		if tile != nil {
			out.Paste(tile)
		}
	}
	return out
}

// FilterByShape drops features below the minimum area or above the maximum
// fractal dimension, the standard sliver/artifact filter of the pipelines.
// Cats are reassigned sequentially.
func FilterByShape(layer *model.VectorLayer, minSize, maxFD float64) *model.VectorLayer {
	out := model.NewVectorLayer(layer.Name)
	cat := 0
	for _, f := range layer.Features {
		area := f.Area()
		if area < minSize {
			continue
		}
		if maxFD > 0 && f.FractalDimension() > maxFD {
			continue
		}
		cat++
		f.Cat = cat
		f.Attrs["area_sqm"] = round2(area)
		f.Attrs["fractal_d"] = round2(f.FractalDimension())
		out.Add(f)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
