package trees

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/classifier"
	"urban_analysis/internal/core"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// ApplyParams bound the tiled classifier application.
type ApplyParams struct {
	TileSize float64
	Dispatch core.DispatchOptions
}

// Apply runs the persisted model tile-by-tile over the feature bands and
// returns the per-pixel tree/non-tree classification. Band order must match
// the order used at training time.
func Apply(ctx context.Context, logger zerolog.Logger, forest *classifier.Forest, bands []*raster.Grid, p ApplyParams) (*raster.Grid, error) {
	if forest == nil {
		return nil, fmt.Errorf("a trained model is required")
	}
	if len(bands) != forest.NumFeatures {
		return nil, fmt.Errorf("model expects %d feature bands, got %d", forest.NumFeatures, len(bands))
	}
	region := bands[0].Region
	for _, b := range bands[1:] {
		if b.Rows != bands[0].Rows || b.Cols != bands[0].Cols {
			return nil, fmt.Errorf("feature band %q does not match %q in size", b.Name, bands[0].Name)
		}
	}

	tiles, err := core.NewTiler(p.TileSize).Tiles(region)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("tiles", len(tiles)).Msg("applying tree classifier")
	dispatched, err := core.Dispatch(ctx, logger, tiles, p.Dispatch,
		func(ctx context.Context, tile model.Tile, memoryMB int) (*raster.Grid, error) {
			return applyTile(forest, bands, tile)
		})
	if err != nil {
		return nil, err
	}

	grids := make([]*raster.Grid, 0, len(dispatched.Results))
	for _, res := range dispatched.Results {
		grids = append(grids, res.Output)
	}
	return core.MergeTileGrids("tree_classification", region, grids), nil
}

func applyTile(forest *classifier.Forest, bands []*raster.Grid, tile model.Tile) (*raster.Grid, error) {
	clipped := make([]*raster.Grid, len(bands))
	for i, b := range bands {
		c, err := b.Clip(fmt.Sprintf("%s_%s", b.Name, tile.ID), tile.Region)
		if err != nil {
			return nil, err
		}
		clipped[i] = c
	}
	out := raster.NewGrid("classified_"+tile.ID, tile.Region)
	features := make([]float64, len(clipped))
	for i := range out.Data {
		valid := true
		for j, c := range clipped {
			features[j] = c.Data[i]
			if math.IsNaN(features[j]) {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		out.Data[i] = float64(forest.Predict(features))
	}
	return out, nil
}
