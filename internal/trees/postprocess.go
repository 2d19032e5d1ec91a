package trees

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/config"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// PostprocessInputs are the layers consumed by crown delineation.
type PostprocessInputs struct {
	Classified *raster.Grid // per-pixel tree/non-tree classification
	NDVI       *raster.Grid
	NIR        *raster.Grid
	NDSM       *raster.Grid
	Nearest    *raster.Grid // nearest-peak assignment from the peak stage
}

// Postprocess combines the classification with the spectral thresholds and
// the nearest-peak grouping into discrete tree objects. Every connected
// tree-pixel group belongs to exactly one peak; peaks without any tree pixel
// are dropped. Returns the raster object map and the crown polygons.
func Postprocess(in PostprocessInputs, cfg config.TreesConfig, logger zerolog.Logger) (*raster.Grid, *model.VectorLayer, error) {
	for _, g := range []*raster.Grid{in.Classified, in.NDVI, in.NIR, in.NDSM, in.Nearest} {
		if g == nil {
			return nil, nil, fmt.Errorf("classification, ndvi, nir, ndsm and nearest-peak rasters are required")
		}
		if g.Rows != in.Classified.Rows || g.Cols != in.Classified.Cols {
			return nil, nil, fmt.Errorf("raster %q does not match the classification in size", g.Name)
		}
	}

	// morphological opening of the NDVI removes single bright pixels before
	// the threshold is applied
	logger.Info().Msg("smoothing NDVI")
	ndviOpen := in.NDVI
	for _, step := range []raster.FocalMethod{raster.FocalMin, raster.FocalMin, raster.FocalMax, raster.FocalMax} {
		var err error
		ndviOpen, err = ndviOpen.Focal("ndvi_open", step, 3)
		if err != nil {
			return nil, nil, err
		}
	}

	logger.Info().Msg("grouping tree pixels by nearest peak")
	objects := raster.NewGrid("tree_objects", in.Classified.Region)
	counts := map[int]int{}
	for i := range objects.Data {
		if in.Classified.Data[i] != model.LabelTree {
			continue
		}
		if math.IsNaN(in.Nearest.Data[i]) {
			continue
		}
		if math.IsNaN(ndviOpen.Data[i]) || ndviOpen.Data[i] <= cfg.NDVIThreshold {
			continue
		}
		if math.IsNaN(in.NIR.Data[i]) || in.NIR.Data[i] <= cfg.NIRThreshold {
			continue
		}
		if math.IsNaN(in.NDSM.Data[i]) || in.NDSM.Data[i] <= cfg.NDSMThreshold {
			continue
		}
		peak := int(in.Nearest.Data[i])
		objects.Data[i] = float64(peak)
		counts[peak]++
	}

	// minimum crown area
	cellArea := objects.CellArea()
	for i, v := range objects.Data {
		if !math.IsNaN(v) && float64(counts[int(v)])*cellArea < cfg.AreaThreshold {
			objects.Data[i] = math.NaN()
		}
	}

	crowns := model.NewVectorLayer("tree_crowns")
	for _, f := range raster.Vectorize(objects, 0) {
		f.Attrs["peak_id"] = f.Attrs["value"]
		delete(f.Attrs, "value")
		crowns.Add(f)
	}
	logger.Info().Int("crowns", crowns.Len()).Msg("crown delineation finished")
	return objects, crowns, nil
}
