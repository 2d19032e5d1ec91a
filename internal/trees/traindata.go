package trees

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/config"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// TrainDataInputs are the layers consumed by training-data generation.
// Bands are the feature bands in the order the classifier will later see
// them; when empty, NDVI, NIR, nDSM and slope are used.
type TrainDataInputs struct {
	NDVI    *raster.Grid
	NIR     *raster.Grid
	NDSM    *raster.Grid
	Slope   *raster.Grid
	Nearest *raster.Grid
	Bands   []*raster.Grid
}

// GenerateTrainingData derives weakly labeled pixel samples from fixed
// spectral and geometric thresholds. Pixels passing all per-pixel tests and
// belonging to a plausible peak group are labeled tree; pixels failing the
// spectral tests are labeled non-tree. Ambiguous pixels are not sampled.
func GenerateTrainingData(in TrainDataInputs, cfg config.TreesConfig, logger zerolog.Logger) ([]model.LabeledSample, error) {
	for _, g := range []*raster.Grid{in.NDVI, in.NIR, in.NDSM, in.Slope, in.Nearest} {
		if g == nil {
			return nil, fmt.Errorf("ndvi, nir, ndsm, slope and nearest-peak rasters are required")
		}
	}
	bands := in.Bands
	if len(bands) == 0 {
		bands = []*raster.Grid{in.NDVI, in.NIR, in.NDSM, in.Slope}
	}
	ref := in.NDVI
	for _, b := range bands {
		if b.Rows != ref.Rows || b.Cols != ref.Cols {
			return nil, fmt.Errorf("feature band %q does not match %q in size", b.Name, ref.Name)
		}
	}

	// per-pixel spectral/height candidates
	candidate := make([]bool, len(ref.Data))
	for i := range ref.Data {
		ndvi, nir, ndsm := in.NDVI.Data[i], in.NIR.Data[i], in.NDSM.Data[i]
		if math.IsNaN(ndvi) || math.IsNaN(nir) || math.IsNaN(ndsm) {
			continue
		}
		candidate[i] = ndvi > cfg.NDVIThreshold && nir > cfg.NIRThreshold && ndsm > cfg.NDSMThreshold
	}

	// plausibility per peak group: slope distribution and minimum area
	slopes := map[int][]float64{}
	counts := map[int]int{}
	for i, ok := range candidate {
		if !ok || math.IsNaN(in.Nearest.Data[i]) {
			continue
		}
		peak := int(in.Nearest.Data[i])
		counts[peak]++
		if !math.IsNaN(in.Slope.Data[i]) {
			slopes[peak] = append(slopes[peak], in.Slope.Data[i])
		}
	}
	cellArea := ref.CellArea()
	plausible := map[int]bool{}
	for peak, n := range counts {
		if float64(n)*cellArea < cfg.AreaThreshold {
			continue
		}
		if raster.PercentileOf(slopes[peak], 75) >= cfg.SlopeP75Threshold {
			continue
		}
		plausible[peak] = true
	}

	var samples []model.LabeledSample
	features := func(i int) ([]float64, bool) {
		vals := make([]float64, len(bands))
		for j, b := range bands {
			if math.IsNaN(b.Data[i]) {
				return nil, false
			}
			vals[j] = b.Data[i]
		}
		return vals, true
	}
	for i := range ref.Data {
		vals, ok := features(i)
		if !ok {
			continue
		}
		if candidate[i] {
			if math.IsNaN(in.Nearest.Data[i]) || !plausible[int(in.Nearest.Data[i])] {
				continue
			}
			samples = append(samples, model.LabeledSample{Features: vals, Label: model.LabelTree})
		} else {
			samples = append(samples, model.LabeledSample{Features: vals, Label: model.LabelNonTree})
		}
	}
	nTree := 0
	for _, s := range samples {
		if s.Label == model.LabelTree {
			nTree++
		}
	}
	logger.Info().
		Int("samples", len(samples)).
		Int("tree", nTree).
		Int("non_tree", len(samples)-nTree).
		Msg("training data generated")
	if nTree == 0 || nTree == len(samples) {
		return nil, fmt.Errorf("training data is single-class, check thresholds")
	}
	return samples, nil
}
