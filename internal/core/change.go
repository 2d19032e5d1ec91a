package core

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// ChangeInputs name the two compared layers. A is the freshly extracted
// layer, B the reference (cadastre, older epoch, OSM import).
type ChangeInputs struct {
	A *model.VectorLayer
	B *model.VectorLayer
}

// ChangeParams configure a change-detection run. Region fixes the working
// extent and resolution of the rasterized overlay.
type ChangeParams struct {
	Region model.Region

	MinSize float64 // minimum difference polygon size in sqm
	MaxFD   float64 // maximum fractal dimension of difference polygons

	// CongruenceThresh is the minimum overlap in percent of a feature's own
	// area for the feature to count as present in the other layer. Used by
	// the per-object comparison.
	CongruenceThresh float64

	Quality bool // compute completeness and correctness

	TileSize float64
	Dispatch DispatchOptions
}

// ChangeDetector compares two polygon layers and partitions the differences.
type ChangeDetector struct {
	logger zerolog.Logger
}

func NewChangeDetector(logger zerolog.Logger) *ChangeDetector {
	return &ChangeDetector{logger: logger}
}

type changeTileOutput struct {
	congruent *raster.Grid
	onlyA     *raster.Grid
	onlyB     *raster.Grid
}

// DetectAreas runs the area-based comparison used for buildings: the two
// layers are rasterized, tiled workers split each tile into congruent,
// only-A and only-B masks, the merged masks are vectorized per partition and
// difference polygons are filtered by size and shape.
func (d *ChangeDetector) DetectAreas(ctx context.Context, in ChangeInputs, p ChangeParams) (*model.ChangeResult, error) {
	if err := d.validate(in, p); err != nil {
		return nil, err
	}
	region := p.Region

	gridA := raster.RasterizeLayer("change_a", region, in.A)
	gridB := raster.RasterizeLayer("change_b", region, in.B)

	tiles, err := NewTiler(p.TileSize).Tiles(region)
	if err != nil {
		return nil, err
	}
	d.logger.Info().Int("tiles", len(tiles)).Msg("calculating changes")
	dispatched, err := Dispatch(ctx, d.logger, tiles, p.Dispatch,
		func(ctx context.Context, tile model.Tile, memoryMB int) (changeTileOutput, error) {
			return d.changeTile(tile, gridA, gridB)
		})
	if err != nil {
		return nil, err
	}

	congruent := raster.NewGrid("congruent", region)
	onlyA := raster.NewGrid("only_a", region)
	onlyB := raster.NewGrid("only_b", region)
	for _, res := range dispatched.Results {
		congruent.Paste(res.Output.congruent)
		onlyA.Paste(res.Output.onlyA)
		onlyB.Paste(res.Output.onlyB)
	}

	result := &model.ChangeResult{
		Congruent: d.vectorizePartition("congruent", congruent, 0, 0),
		OnlyA:     d.vectorizePartition("only_a", onlyA, p.MinSize, p.MaxFD),
		OnlyB:     d.vectorizePartition("only_b", onlyB, p.MinSize, p.MaxFD),
	}
	if p.Quality {
		cellArea := congruent.CellArea()
		result.AreaInput = float64(gridA.CountValid()) * cellArea
		result.AreaReference = float64(gridB.CountValid()) * cellArea
		result.AreaIdentified = float64(congruent.CountValid()) * cellArea
		d.logger.Info().
			Float64("completeness", round2(result.Completeness())).
			Float64("correctness", round2(result.Correctness())).
			Msg("quality assessment")
	}
	d.logger.Info().
		Int("congruent", result.Congruent.Len()).
		Int("only_a", result.OnlyA.Len()).
		Int("only_b", result.OnlyB.Len()).
		Msg("change detection finished")
	return result, nil
}

// DetectObjects runs the per-object comparison used for trees: a feature of
// one layer is congruent when the other layer covers at least
// CongruenceThresh percent of its area. Whole features are classified, not
// difference geometry.
func (d *ChangeDetector) DetectObjects(ctx context.Context, in ChangeInputs, p ChangeParams) (*model.ChangeResult, error) {
	if err := d.validate(in, p); err != nil {
		return nil, err
	}
	if p.CongruenceThresh <= 0 || p.CongruenceThresh > 100 {
		return nil, fmt.Errorf("congruence threshold must be in (0,100], got %g", p.CongruenceThresh)
	}
	region := p.Region

	maskA := raster.Rasterize("objmask_a", region, in.A.Features, func(model.Feature) float64 { return 1 })
	maskB := raster.Rasterize("objmask_b", region, in.B.Features, func(model.Feature) float64 { return 1 })

	result := &model.ChangeResult{
		Congruent: model.NewVectorLayer("congruent"),
		OnlyA:     model.NewVectorLayer("only_a"),
		OnlyB:     model.NewVectorLayer("only_b"),
	}

	tiles, err := NewTiler(p.TileSize).Tiles(region)
	if err != nil {
		return nil, err
	}
	type objTileOutput struct {
		congruent, onlyA, onlyB []model.Feature
	}
	d.logger.Info().Int("tiles", len(tiles)).Msg("comparing objects")
	dispatched, err := Dispatch(ctx, d.logger, tiles, p.Dispatch,
		func(ctx context.Context, tile model.Tile, memoryMB int) (objTileOutput, error) {
			var out objTileOutput
			classify := func(features []model.Feature, other *raster.Grid, congruent, only *[]model.Feature) {
				for _, f := range features {
					c := f.Centroid()
					if !tile.Region.Contains(c[0], c[1]) {
						continue
					}
					if coveredFraction(f, region, other)*100 >= p.CongruenceThresh {
						*congruent = append(*congruent, f)
					} else {
						*only = append(*only, f)
					}
				}
			}
			classify(in.A.Features, maskB, &out.congruent, &out.onlyA)
			var discard []model.Feature
			classify(in.B.Features, maskA, &discard, &out.onlyB)
			return out, nil
		})
	if err != nil {
		return nil, err
	}
	for _, res := range dispatched.Results {
		appendWithSource(result.Congruent, res.Output.congruent, string(model.ChangeCongruent))
		appendWithSource(result.OnlyA, res.Output.onlyA, string(model.ChangeOnlyA))
		appendWithSource(result.OnlyB, res.Output.onlyB, string(model.ChangeOnlyB))
	}
	d.logger.Info().
		Int("congruent", result.Congruent.Len()).
		Int("only_a", result.OnlyA.Len()).
		Int("only_b", result.OnlyB.Len()).
		Msg("object comparison finished")
	return result, nil
}

func (d *ChangeDetector) validate(in ChangeInputs, p ChangeParams) error {
	if in.A == nil || in.B == nil {
		return fmt.Errorf("two vector layers are required for change detection")
	}
	if err := p.Region.Validate(); err != nil {
		return err
	}
	return nil
}

func (d *ChangeDetector) changeTile(tile model.Tile, gridA, gridB *raster.Grid) (changeTileOutput, error) {
	a, err := gridA.Clip("a_"+tile.ID, tile.Region)
	if err != nil {
		return changeTileOutput{}, err
	}
	b, err := gridB.Clip("b_"+tile.ID, tile.Region)
	if err != nil {
		return changeTileOutput{}, err
	}
	out := changeTileOutput{
		congruent: raster.NewGrid("congruent_"+tile.ID, tile.Region),
		onlyA:     raster.NewGrid("only_a_"+tile.ID, tile.Region),
		onlyB:     raster.NewGrid("only_b_"+tile.ID, tile.Region),
	}
	for i := range a.Data {
		inA := !math.IsNaN(a.Data[i])
		inB := !math.IsNaN(b.Data[i])
		switch {
		case inA && inB:
			out.congruent.Data[i] = 1
		case inA:
			out.onlyA.Data[i] = 1
		case inB:
			out.onlyB.Data[i] = 1
		}
	}
	return out, nil
}

func (d *ChangeDetector) vectorizePartition(class string, mask *raster.Grid, minSize, maxFD float64) *model.VectorLayer {
	labels, _ := mask.Clump(class+"_clumps", false)
	layer := model.NewVectorLayer(class)
	for _, f := range raster.Vectorize(labels, 0) {
		delete(f.Attrs, "value")
		layer.Add(f)
	}
	filtered := FilterByShape(layer, minSize, maxFD)
	for i := range filtered.Features {
		filtered.Features[i].Attrs["change_class"] = class
	}
	return filtered
}

// coveredFraction returns the share of the feature's rasterized footprint
// covered by the mask.
func coveredFraction(f model.Feature, region model.Region, mask *raster.Grid) float64 {
	bound := buildingRegion(f, region)
	cells := raster.Rasterize("obj", bound, []model.Feature{f}, func(model.Feature) float64 { return 1 })
	var total, covered int
	for row := 0; row < cells.Rows; row++ {
		for col := 0; col < cells.Cols; col++ {
			if cells.IsNull(row, col) {
				continue
			}
			total++
			x, y := cells.CellCenter(row, col)
			if mrow, mcol, ok := mask.CellAt(x, y); ok && !math.IsNaN(mask.Get(mrow, mcol)) {
				covered++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

func appendWithSource(layer *model.VectorLayer, features []model.Feature, class string) {
	for _, f := range features {
		out := model.NewFeature(layer.Len()+1, f.Geometry)
		for k, v := range f.Attrs {
			out.Attrs[k] = v
		}
		out.Attrs["change_class"] = class
		layer.Add(out)
	}
}
