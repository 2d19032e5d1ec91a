package trees

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// SpeciesInputs are the layers consumed by the species heuristic.
type SpeciesInputs struct {
	Crowns *model.VectorLayer
	Red    *raster.Grid
	Green  *raster.Grid
	Blue   *raster.Grid
}

// ClassifySpecies classifies every crown as deciduous or coniferous from
// its brightness relative to the local neighborhood. Conifers image darker
// than their surroundings; a crown whose median brightness stays below
// ratio times the neighborhood median is classified coniferous. The result
// is written into the species attribute of each crown.
func ClassifySpecies(in SpeciesInputs, ratio float64, logger zerolog.Logger) error {
	if in.Crowns == nil || in.Crowns.Len() == 0 {
		return fmt.Errorf("crown polygons are required and must not be empty")
	}
	if in.Red == nil || in.Green == nil || in.Blue == nil {
		return fmt.Errorf("red, green and blue rasters are required")
	}
	if ratio <= 0 {
		return fmt.Errorf("species ratio must be positive, got %g", ratio)
	}

	brightness, err := raster.MapCalc("brightness", func(v []float64) float64 {
		return (v[0] + v[1] + v[2]) / 3
	}, in.Red, in.Green, in.Blue)
	if err != nil {
		return err
	}
	neighborhood, err := brightness.Focal("brightness_median", raster.FocalMedian, 7)
	if err != nil {
		return err
	}

	deciduous := 0
	for i := range in.Crowns.Features {
		crown := &in.Crowns.Features[i]
		region := crownRegion(*crown, brightness.Region)
		cells := raster.Rasterize("crown", region, []model.Feature{*crown}, func(model.Feature) float64 { return 1 })
		var own, around []float64
		for row := 0; row < cells.Rows; row++ {
			for col := 0; col < cells.Cols; col++ {
				if cells.IsNull(row, col) {
					continue
				}
				x, y := cells.CellCenter(row, col)
				if r, c, ok := brightness.CellAt(x, y); ok {
					if v := brightness.Get(r, c); !math.IsNaN(v) {
						own = append(own, v)
					}
					if v := neighborhood.Get(r, c); !math.IsNaN(v) {
						around = append(around, v)
					}
				}
			}
		}
		species := model.SpeciesConifer
		if len(own) > 0 && len(around) > 0 {
			ownMed := raster.UnivarOf(own).Median
			aroundMed := raster.UnivarOf(around).Median
			if aroundMed > 0 && ownMed/aroundMed >= ratio {
				species = model.SpeciesDeciduous
			}
		}
		if species == model.SpeciesDeciduous {
			deciduous++
		}
		crown.Attrs["species"] = string(species)
	}
	logger.Info().
		Int("deciduous", deciduous).
		Int("conifer", in.Crowns.Len()-deciduous).
		Msg("species classification finished")
	return nil
}
