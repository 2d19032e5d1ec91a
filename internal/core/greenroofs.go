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

// GreenRoofInputs are the layers consumed by the green-roof extraction.
// Trees is optional; without it the overhanging-tree heuristic based on
// height differences is used instead (documented as less reliable).
type GreenRoofInputs struct {
	NDSM      *raster.Grid
	NDVI      *raster.Grid
	Red       *raster.Grid
	Green     *raster.Grid
	Blue      *raster.Grid
	Buildings *model.VectorLayer
	Trees     *model.VectorLayer
	FNK       *model.VectorLayer
	FNKColumn string
}

// GreenRoofParams configure one extraction run. Exactly one of GBThreshold
// and GBPercentile must be set.
type GreenRoofParams struct {
	GBThreshold  float64 // fixed green-blue ratio threshold (0-255 scale)
	GBPercentile float64 // percentile of the GB ratio over FNK green areas

	MinVegSize       float64 // minimum vegetated patch size in sqm
	MinVegProportion float64 // minimum vegetated share of the roof, percent

	NDVIThreshold    float64
	RGThreshold      float64
	BrightnessThresh float64
	NDSMThreshold    float64

	Segmentation bool

	TileSize float64
	Dispatch DispatchOptions
}

// GreenRoofResult carries both outputs: buildings with a vegetated-fraction
// attribute (only buildings with qualifying vegetation) and the vegetation
// polygons themselves.
type GreenRoofResult struct {
	Buildings  *model.VectorLayer
	Vegetation *model.VectorLayer
}

// GreenRoofExtractor detects roof vegetation inside building footprints.
type GreenRoofExtractor struct {
	fnk    config.FNKConfig
	logger zerolog.Logger
}

func NewGreenRoofExtractor(fnk config.FNKConfig, logger zerolog.Logger) *GreenRoofExtractor {
	return &GreenRoofExtractor{fnk: fnk, logger: logger}
}

// thresholds of the overhanging-tree fallback heuristic
const (
	overhangPropThresh  = 0.75
	overhangHeightDiffM = 1.5
	greenRoofSegThresh  = 0.075
	greenRoofSegMinsize = 10
)

type greenRoofTileOutput struct {
	buildings  *model.VectorLayer
	vegetation *model.VectorLayer
}

// Extract runs the green-roof pipeline: auxiliary ratio bands, global
// threshold resolution, then a tiled pass over buildings.
func (e *GreenRoofExtractor) Extract(ctx context.Context, in GreenRoofInputs, p GreenRoofParams) (*GreenRoofResult, error) {
	if err := e.validate(in, p); err != nil {
		return nil, err
	}
	region := in.NDSM.Region

	e.logger.Info().Msg("calculating auxiliary datasets")
	gbr, err := ratioBand("green_blue_ratio", in.Green, in.Blue)
	if err != nil {
		return nil, err
	}
	rgr, err := ratioBand("red_green_ratio", in.Red, in.Green)
	if err != nil {
		return nil, err
	}
	brightness, err := raster.MapCalc("brightness", func(v []float64) float64 {
		return (v[0] + v[1]) / 2
	}, in.Red, in.Green)
	if err != nil {
		return nil, err
	}

	gbThresh := p.GBThreshold
	if p.GBPercentile > 0 {
		e.logger.Info().Msg("calculating GB threshold")
		fnkGrid := raster.Rasterize("fnk", region, in.FNK.Features, func(f model.Feature) float64 {
			return float64(attrInt(f, in.FNKColumn))
		})
		greenMask := maskFromCodes(fnkGrid, e.fnk.GreenCodes)
		thresh, err := gbr.Percentile(p.GBPercentile, greenMask)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve GB threshold: %w", err)
		}
		gbThresh = thresh
		e.logger.Info().Float64("gb_thresh", gbThresh).Msg("GB threshold resolved")
	}

	// segmentation stretch parameters are resolved once, globally
	var ndsmPerc []float64
	if p.Segmentation {
		ndsmPerc, err = in.NDSM.Percentiles([]float64{5, 50, 95}, nil)
		if err != nil {
			return nil, err
		}
	}

	buildingGrid := raster.RasterizeLayer("building_rast", region, in.Buildings)

	tiles, err := NewTiler(p.TileSize).TilesOverlapping(region, in.Buildings)
	if err != nil {
		return nil, err
	}

	e.logger.Info().Int("tiles", len(tiles)).Msg("extracting roof vegetation")
	dispatched, err := Dispatch(ctx, e.logger, tiles, p.Dispatch,
		func(ctx context.Context, tile model.Tile, memoryMB int) (greenRoofTileOutput, error) {
			return e.extractTile(tile, in, buildingGrid, gbr, rgr, brightness, gbThresh, ndsmPerc, p)
		})
	if err != nil {
		return nil, err
	}

	result := &GreenRoofResult{
		Buildings:  model.NewVectorLayer("greenroof_buildings"),
		Vegetation: model.NewVectorLayer("greenroof_vegetation"),
	}
	vegCat := 0
	for _, res := range dispatched.Results {
		for _, f := range res.Output.buildings.Features {
			result.Buildings.Add(f)
		}
		for _, f := range res.Output.vegetation.Features {
			vegCat++
			f.Cat = vegCat
			result.Vegetation.Add(f)
		}
	}
	e.logger.Info().
		Int("buildings", result.Buildings.Len()).
		Int("vegetation_patches", result.Vegetation.Len()).
		Msg("green roof extraction finished")
	return result, nil
}

func (e *GreenRoofExtractor) validate(in GreenRoofInputs, p GreenRoofParams) error {
	for _, g := range []*raster.Grid{in.NDSM, in.NDVI, in.Red, in.Green, in.Blue} {
		if g == nil {
			return fmt.Errorf("ndsm, ndvi, red, green and blue rasters are required")
		}
	}
	if in.Buildings == nil || in.Buildings.Len() == 0 {
		return fmt.Errorf("building outlines are required and must not be empty")
	}
	set := 0
	if p.GBThreshold > 0 {
		set++
	}
	if p.GBPercentile > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of gb_thresh and gb_perc must be given")
	}
	if p.GBPercentile > 0 && (in.FNK == nil || in.FNK.Len() == 0) {
		return fmt.Errorf("gb_perc requires the fnk vector layer")
	}
	return nil
}

// extractTile processes every building whose centroid falls into the tile,
// so each building is owned by exactly one worker.
func (e *GreenRoofExtractor) extractTile(tile model.Tile, in GreenRoofInputs, buildingGrid, gbr, rgr, brightness *raster.Grid, gbThresh float64, ndsmPerc []float64, p GreenRoofParams) (greenRoofTileOutput, error) {
	out := greenRoofTileOutput{
		buildings:  model.NewVectorLayer("greenroof_buildings_" + tile.ID),
		vegetation: model.NewVectorLayer("greenroof_vegetation_" + tile.ID),
	}
	for _, building := range in.Buildings.Features {
		c := building.Centroid()
		if !tile.Region.Contains(c[0], c[1]) {
			continue
		}
		bOut, vOut, err := e.processBuilding(building, in, buildingGrid, gbr, rgr, brightness, gbThresh, ndsmPerc, p)
		if err != nil {
			return out, fmt.Errorf("building %d: %w", building.Cat, err)
		}
		if bOut != nil {
			out.buildings.Add(*bOut)
			for _, v := range vOut {
				out.vegetation.Add(v)
			}
		}
	}
	return out, nil
}

func (e *GreenRoofExtractor) processBuilding(building model.Feature, in GreenRoofInputs, buildingGrid, gbr, rgr, brightness *raster.Grid, gbThresh float64, ndsmPerc []float64, p GreenRoofParams) (*model.Feature, []model.Feature, error) {
	region := buildingRegion(building, in.NDSM.Region)
	clip := func(g *raster.Grid, name string) (*raster.Grid, error) {
		return g.Clip(name, region)
	}
	ndsm, err := clip(in.NDSM, "ndsm_bu")
	if err != nil {
		return nil, nil, err
	}
	ndvi, err := clip(in.NDVI, "ndvi_bu")
	if err != nil {
		return nil, nil, err
	}
	gbrC, err := clip(gbr, "gbr_bu")
	if err != nil {
		return nil, nil, err
	}
	rgrC, err := clip(rgr, "rgr_bu")
	if err != nil {
		return nil, nil, err
	}
	brightC, err := clip(brightness, "brightness_bu")
	if err != nil {
		return nil, nil, err
	}
	cats, err := clip(buildingGrid, "cats_bu")
	if err != nil {
		return nil, nil, err
	}

	// footprint mask, minus tree crowns when a tree layer is given
	mask := raster.NewGrid("mask_bu", region)
	for i, v := range cats.Data {
		if !math.IsNaN(v) && int(v) == building.Cat {
			mask.Data[i] = 1
		}
	}
	if in.Trees != nil && in.Trees.Len() > 0 {
		treeGrid := raster.RasterizeLayer("trees_bu", region, in.Trees)
		for i, v := range treeGrid.Data {
			if !math.IsNaN(v) {
				mask.Data[i] = math.NaN()
			}
		}
	}
	roofArea := float64(mask.CountValid()) * mask.CellArea()
	if roofArea == 0 {
		return nil, nil, nil
	}

	candidate := func(ndsmV, gbrV, rgrV, ndviV, brightV float64) bool {
		return ndsmV >= p.NDSMThreshold && gbrV >= gbThresh &&
			rgrV <= p.RGThreshold && ndviV >= p.NDVIThreshold &&
			brightV >= p.BrightnessThresh
	}

	potVeg := raster.NewGrid("pot_veg_bu", region)
	if p.Segmentation {
		ndsmCut := stretchByPercentiles("ndsm_cut_bu", ndsm, ndsmPerc[0], ndsmPerc[1], ndsmPerc[2])
		masked := func(g *raster.Grid, name string) *raster.Grid { return g.MaskBy(name, mask) }
		segments, err := raster.Segment("segments_bu", greenRoofSegThresh, greenRoofSegMinsize,
			masked(ndsmCut, "ndsm_cut_m"), masked(gbrC, "gbr_m"), masked(ndvi, "ndvi_m"))
		if err != nil {
			return nil, nil, err
		}
		zonal := map[string]*raster.Grid{}
		for name, cover := range map[string]*raster.Grid{
			"ndsm": ndsm, "ndvi": ndvi, "gbr": gbrC, "rgr": rgrC, "brightness": brightC,
		} {
			z, err := raster.ZonalMean(name+"_zonal_bu", segments, cover)
			if err != nil {
				return nil, nil, err
			}
			zonal[name] = z
		}
		for i := range potVeg.Data {
			if math.IsNaN(mask.Data[i]) || math.IsNaN(segments.Data[i]) {
				continue
			}
			if candidate(zonal["ndsm"].Data[i], zonal["gbr"].Data[i], zonal["rgr"].Data[i],
				zonal["ndvi"].Data[i], zonal["brightness"].Data[i]) {
				potVeg.Data[i] = 1
			}
		}
	} else {
		for i := range potVeg.Data {
			if math.IsNaN(mask.Data[i]) {
				continue
			}
			vals := []float64{ndsm.Data[i], gbrC.Data[i], rgrC.Data[i], ndvi.Data[i], brightC.Data[i]}
			valid := true
			for _, v := range vals {
				if math.IsNaN(v) {
					valid = false
					break
				}
			}
			if valid && candidate(vals[0], vals[1], vals[2], vals[3], vals[4]) {
				potVeg.Data[i] = 1
			}
		}
	}

	patches, nPatches := potVeg.Clump("veg_patches_bu", false)
	if nPatches == 0 {
		return nil, nil, nil
	}
	cellArea := patches.CellArea()
	sizes := raster.ClumpSizes(patches)

	// roof part not covered by vegetation, for the overhang heuristic
	rest := mask.Clone("roof_rest_bu")
	for i, v := range patches.Data {
		if !math.IsNaN(v) {
			rest.Data[i] = math.NaN()
		}
	}
	restStats := ndsm.MaskedStats(rest)
	restArea := float64(rest.CountValid()) * cellArea

	kept := map[int]bool{}
	var totalVeg float64
	for patch, cells := range sizes {
		patchArea := float64(cells) * cellArea
		if patchArea < p.MinVegSize {
			continue
		}
		if in.Trees == nil || in.Trees.Len() == 0 {
			// no external tree layer: suppress overhanging trees by the
			// height difference between patch and remaining roof; large
			// patches relative to the roof are assumed not to be trees
			prop := patchArea / (patchArea + restArea)
			if prop < overhangPropThresh {
				patchMask := raster.NewGrid("patch_bu", region)
				for i, v := range patches.Data {
					if !math.IsNaN(v) && int(v) == patch {
						patchMask.Data[i] = 1
					}
				}
				vegStats := ndsm.MaskedStats(patchMask)
				if vegStats.Median-restStats.Median > overhangHeightDiffM {
					continue
				}
			}
		}
		kept[patch] = true
		totalVeg += patchArea
	}
	if len(kept) == 0 {
		return nil, nil, nil
	}

	proportion := totalVeg / (restArea + totalVeg) * 100
	if proportion < p.MinVegProportion {
		return nil, nil, nil
	}

	keptPatches := patches.Clone("kept_patches_bu")
	for i, v := range keptPatches.Data {
		if !math.IsNaN(v) && !kept[int(v)] {
			keptPatches.Data[i] = math.NaN()
		}
	}
	var vegFeatures []model.Feature
	for _, f := range raster.Vectorize(keptPatches, 0) {
		f.Attrs["building_cat"] = building.Cat
		delete(f.Attrs, "value")
		vegFeatures = append(vegFeatures, f)
	}

	bOut := model.NewFeature(building.Cat, building.Geometry)
	for k, v := range building.Attrs {
		bOut.Attrs[k] = v
	}
	bOut.Attrs["veg_proportion"] = round2(proportion)
	return &bOut, vegFeatures, nil
}

// ratioBand computes the normalized difference of two bands scaled to
// 0-255: round(255*(1+(a-b)/(a+b))/2).
func ratioBand(name string, a, b *raster.Grid) (*raster.Grid, error) {
	return raster.MapCalc(name, func(v []float64) float64 {
		sum := v[0] + v[1]
		if math.IsNaN(sum) || sum == 0 {
			return math.NaN()
		}
		return math.Round(255 * (1 + (v[0]-v[1])/sum) / 2)
	}, a, b)
}

// buildingRegion grows the footprint bound by one cell and aligns it to the
// source grid.
func buildingRegion(building model.Feature, full model.Region) model.Region {
	bound := building.Geometry.Bound()
	res := full.Res
	region := model.Region{
		West:  math.Floor((bound.Min[0]-full.West)/res)*res + full.West - res,
		East:  math.Ceil((bound.Max[0]-full.West)/res)*res + full.West + res,
		South: full.North - (math.Ceil((full.North-bound.Min[1])/res)*res + res),
		North: full.North - (math.Floor((full.North-bound.Max[1])/res)*res - res),
		Res:   res,
	}
	clipped, ok := region.Intersect(full)
	if !ok {
		return full
	}
	return clipped
}
