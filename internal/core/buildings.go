package core

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/config"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// BuildingInputs are the read-only layers consumed by the extraction.
type BuildingInputs struct {
	NDSM      *raster.Grid
	NDVI      *raster.Grid
	FNK       *model.VectorLayer
	FNKColumn string
}

// BuildingParams configure one extraction run. Exactly one of NDVIThreshold
// and NDVIPercentile must be set (non-zero).
type BuildingParams struct {
	NDVIThreshold  float64 // fixed NDVI threshold on the 0-255 scale
	NDVIPercentile float64 // percentile of NDVI over FNK vegetation pixels

	MinSize          float64 // minimum building size in sqm
	MaxFD            float64 // maximum fractal dimension
	MinHeight        float64 // nDSM floor for building candidates, meters
	StoryHeight      float64 // assumed meters per story
	HeightPercentile float64 // percentile reported as building height

	Segmentation bool // refine boundaries by segmentation before extraction

	TileSize float64
	Dispatch DispatchOptions
}

// BuildingExtractor extracts building footprints from nDSM, NDVI and FNK.
type BuildingExtractor struct {
	fnk    config.FNKConfig
	logger zerolog.Logger
}

func NewBuildingExtractor(fnk config.FNKConfig, logger zerolog.Logger) *BuildingExtractor {
	return &BuildingExtractor{fnk: fnk, logger: logger}
}

// Extract runs the two-phase pipeline: a global statistics pass resolving
// the NDVI threshold, then a tiled classification pass, merge and height
// statistics.
func (e *BuildingExtractor) Extract(ctx context.Context, in BuildingInputs, p BuildingParams) (*model.VectorLayer, error) {
	if err := e.validate(in, p); err != nil {
		return nil, err
	}
	region := in.NDSM.Region

	fnkGrid := raster.Rasterize("fnk", region, in.FNK.Features, func(f model.Feature) float64 {
		return float64(attrInt(f, in.FNKColumn))
	})

	ndviThresh := p.NDVIThreshold
	if p.NDVIPercentile > 0 {
		e.logger.Info().Msg("calculating NDVI threshold")
		vegMask := maskFromCodes(fnkGrid, e.fnk.VegetationCodes)
		thresh, err := in.NDVI.Percentile(p.NDVIPercentile, vegMask)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve NDVI threshold: %w", err)
		}
		ndviThresh = thresh
		e.logger.Info().Float64("ndvi_thresh", ndviThresh).Msg("NDVI threshold resolved")
	}

	tiles, err := NewTiler(p.TileSize).TilesOverlapping(region, in.FNK)
	if err != nil {
		return nil, err
	}

	e.logger.Info().Int("tiles", len(tiles)).Msg("applying building detection")
	dispatched, err := Dispatch(ctx, e.logger, tiles, p.Dispatch,
		func(ctx context.Context, tile model.Tile, memoryMB int) (*model.VectorLayer, error) {
			return e.extractTile(tile, in, fnkGrid, ndviThresh, p)
		})
	if err != nil {
		return nil, err
	}

	e.logger.Info().Msg("merging output from tiles")
	tileLayers := make([]*model.VectorLayer, 0, len(dispatched.Results))
	for _, res := range dispatched.Results {
		tileLayers = append(tileLayers, res.Output)
	}
	merged := MergeTileLayers("buildings", region, tileLayers, p.MinSize)

	e.logger.Info().Msg("filtering buildings by shape and size")
	filtered := FilterByShape(merged, p.MinSize, p.MaxFD)

	e.logger.Info().Msg("extracting building height statistics")
	e.heightStats(filtered, in.NDSM, p)

	e.logger.Info().Int("buildings", filtered.Len()).Msg("building extraction finished")
	return filtered, nil
}

func (e *BuildingExtractor) validate(in BuildingInputs, p BuildingParams) error {
	if in.NDSM == nil || in.NDVI == nil {
		return fmt.Errorf("ndsm and ndvi rasters are required")
	}
	if in.FNK == nil || in.FNK.Len() == 0 {
		return fmt.Errorf("fnk vector layer is required and must not be empty")
	}
	if in.FNKColumn == "" {
		return fmt.Errorf("fnk code column is required")
	}
	if in.NDSM.Rows != in.NDVI.Rows || in.NDSM.Cols != in.NDVI.Cols {
		return fmt.Errorf("ndsm and ndvi do not cover the same region")
	}
	set := 0
	if p.NDVIThreshold > 0 {
		set++
	}
	if p.NDVIPercentile > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of ndvi_thresh and ndvi_perc must be given")
	}
	return nil
}

// extractTile is the per-tile worker. It must not be called directly; the
// dispatcher owns its lifecycle.
func (e *BuildingExtractor) extractTile(tile model.Tile, in BuildingInputs, fnkGrid *raster.Grid, ndviThresh float64, p BuildingParams) (*model.VectorLayer, error) {
	ndsm, err := in.NDSM.Clip("ndsm_"+tile.ID, tile.Region)
	if err != nil {
		return nil, err
	}
	ndvi, err := in.NDVI.Clip("ndvi_"+tile.ID, tile.Region)
	if err != nil {
		return nil, err
	}
	fnk, err := fnkGrid.Clip("fnk_"+tile.ID, tile.Region)
	if err != nil {
		return nil, err
	}
	if ndsm.CountValid() == 0 || ndvi.CountValid() == 0 {
		e.logger.Debug().Str("tile", tile.ID).Msg("no input data in tile, skipping")
		return model.NewVectorLayer("buildings_" + tile.ID), nil
	}

	// binary vegetation raster
	veg, err := raster.MapCalc("veg_"+tile.ID, func(v []float64) float64 {
		if math.IsNaN(v[0]) {
			return math.NaN()
		}
		if v[0] > ndviThresh {
			return 1
		}
		return 0
	}, ndvi)
	if err != nil {
		return nil, err
	}

	// exclude land-use classes without potential buildings
	excluded := append(append([]int{}, e.fnk.ExcludedCodes...), e.fnk.VegetationCodes...)
	excluded = append(excluded, e.fnk.RoadCodes...)
	eligible := eligibleMask(fnk, excluded)

	var candidates *raster.Grid
	if p.Segmentation {
		candidates, err = e.segmentCandidates(tile, ndsm, ndvi, veg, eligible, p)
		if err != nil {
			return nil, err
		}
	} else {
		candidates, err = raster.MapCalc("bu_raw_"+tile.ID, func(v []float64) float64 {
			ndsmV, vegV, eligV := v[0], v[1], v[2]
			if math.IsNaN(ndsmV) || math.IsNaN(eligV) {
				return math.NaN()
			}
			if ndsmV > p.MinHeight && vegV == 0 && eligV == 1 {
				return 1
			}
			return math.NaN()
		}, ndsm, veg, eligible)
		if err != nil {
			return nil, err
		}
	}

	if candidates.CountValid() == 0 {
		e.logger.Debug().Str("tile", tile.ID).Msg("no potential buildings detected, skipping")
		return model.NewVectorLayer("buildings_" + tile.ID), nil
	}

	labels, _ := candidates.Clump("bu_clumps_"+tile.ID, false)
	out := model.NewVectorLayer("buildings_" + tile.ID)
	// the final size filter runs after the merge; the worker filters at
	// half size to keep boundary-split fragments
	workerMin := p.MinSize / 2
	for _, f := range raster.Vectorize(labels, 0) {
		if f.Area() < workerMin {
			continue
		}
		out.Add(f)
	}
	return out, nil
}

// segmentCandidates runs the optional segmentation refinement: percentile
// stretch of the nDSM, region growing over the transformed nDSM and NDVI,
// then zonal votes per segment.
func (e *BuildingExtractor) segmentCandidates(tile model.Tile, ndsm, ndvi, veg, eligible *raster.Grid, p BuildingParams) (*raster.Grid, error) {
	perc, err := ndsm.Percentiles([]float64{5, 50, 95}, nil)
	if err != nil {
		return nil, err
	}
	ndsmCut := stretchByPercentiles("ndsm_cut_"+tile.ID, ndsm, perc[0], perc[1], perc[2])

	segments, err := raster.Segment("segmented_"+tile.ID, 0.075, 10, ndsmCut, ndvi)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	ndsmZonal, err := raster.ZonalMean("ndsm_zonal_"+tile.ID, segments, ndsm)
	if err != nil {
		return nil, err
	}
	vegZonal, err := raster.ZonalMean("veg_zonal_"+tile.ID, segments, veg)
	if err != nil {
		return nil, err
	}
	// building segments: average nDSM above the floor and a majority of
	// non-vegetation pixels
	return raster.MapCalc("bu_raw_"+tile.ID, func(v []float64) float64 {
		ndsmAvg, vegAvg, eligV := v[0], v[1], v[2]
		if math.IsNaN(ndsmAvg) || math.IsNaN(eligV) {
			return math.NaN()
		}
		if ndsmAvg > p.MinHeight && vegAvg < 0.5 && eligV == 1 {
			return 1
		}
		return math.NaN()
	}, ndsmZonal, vegZonal, eligible)
}

// heightStats attaches per-building nDSM statistics and the estimated story
// count.
func (e *BuildingExtractor) heightStats(buildings *model.VectorLayer, ndsm *raster.Grid, p BuildingParams) {
	catGrid := raster.RasterizeLayer("building_cats", ndsm.Region, buildings)
	values := map[int][]float64{}
	for i, c := range catGrid.Data {
		if math.IsNaN(c) || math.IsNaN(ndsm.Data[i]) {
			continue
		}
		cat := int(c)
		values[cat] = append(values[cat], ndsm.Data[i])
	}
	for i := range buildings.Features {
		f := &buildings.Features[i]
		vals := values[f.Cat]
		stats := statsOf(vals)
		f.Attrs["ndsm_min"] = round2(stats.Min)
		f.Attrs["ndsm_max"] = round2(stats.Max)
		f.Attrs["ndsm_average"] = round2(stats.Mean)
		f.Attrs["ndsm_stddev"] = round2(stats.StdDev)
		f.Attrs["ndsm_median"] = round2(stats.Median)
		height := percentileOf(vals, p.HeightPercentile)
		f.Attrs[fmt.Sprintf("ndsm_percentile_%d", int(p.HeightPercentile))] = round2(height)
		f.Attrs["stories"] = int(math.Round(height / p.StoryHeight))
	}
}
