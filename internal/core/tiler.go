// Package core contains the orchestrating operations of the analysis
// pipelines: tiling, parallel worker dispatch, merging of tile outputs and
// the building, green-roof and change-detection extractors. Per-tile workers
// are implementation details of this package and are not exported.
package core

import (
	"fmt"
	"math"

	"urban_analysis/internal/domain/model"
)

// Tiler partitions a region into square tiles for bounded-memory parallel
// processing.
type Tiler struct {
	TileSize float64
}

func NewTiler(tileSize float64) *Tiler {
	return &Tiler{TileSize: tileSize}
}

// Tiles produces an ordered set of non-overlapping tiles covering the region
// exactly. Edge tiles at the region boundary are clipped, not padded. A
// region smaller than one tile yields a single tile equal to the region.
func (t *Tiler) Tiles(region model.Region) ([]model.Tile, error) {
	if t.TileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %g", t.TileSize)
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}
	// tile edges snap to the cell lattice so clipped tiles stay aligned
	// with the source grids, floored at one cell
	size := math.Round(t.TileSize/region.Res) * region.Res
	if size < region.Res {
		size = region.Res
	}
	if region.Width() <= size && region.Height() <= size {
		return []model.Tile{{ID: model.TileID(0, 0), Region: region}}, nil
	}
	nRows := int(math.Ceil(region.Height() / size))
	nCols := int(math.Ceil(region.Width() / size))
	tiles := make([]model.Tile, 0, nRows*nCols)
	for row := 0; row < nRows; row++ {
		for col := 0; col < nCols; col++ {
			tile := model.Region{
				West:  region.West + float64(col)*size,
				North: region.North - float64(row)*size,
				East:  math.Min(region.West+float64(col+1)*size, region.East),
				South: math.Max(region.North-float64(row+1)*size, region.South),
				Res:   region.Res,
			}
			tiles = append(tiles, model.Tile{
				ID:     model.TileID(row, col),
				Row:    row,
				Col:    col,
				Region: tile,
			})
		}
	}
	return tiles, nil
}

// TilesOverlapping returns only tiles whose extent overlaps at least one
// feature of the layer. The original pipelines skip tiles without input data
// before dispatching workers.
func (t *Tiler) TilesOverlapping(region model.Region, layer *model.VectorLayer) ([]model.Tile, error) {
	tiles, err := t.Tiles(region)
	if err != nil {
		return nil, err
	}
	out := tiles[:0]
	for _, tile := range tiles {
		if layer == nil || layer.Overlaps(tile.Region) {
			out = append(out, tile)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("the region does not overlap layer %q, please define another region", layer.Name)
	}
	return out, nil
}
