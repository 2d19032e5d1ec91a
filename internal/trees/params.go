package trees

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"urban_analysis/internal/core"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// ParamsInputs are the layers consumed by per-crown parameter computation.
// Buildings may be nil; the building distance is then skipped.
type ParamsInputs struct {
	Crowns    *model.VectorLayer
	NDSM      *raster.Grid
	NDVI      *raster.Grid
	Buildings *model.VectorLayer
}

// ParamsOptions configure the computation. A zero DistBuilding searches
// unbounded; DistTree bounds the nearest-neighbor search between stems.
type ParamsOptions struct {
	DistBuilding float64
	DistTree     float64
	Volume       model.VolumeEstimator
	Dispatch     core.DispatchOptions
}

// DefaultVolume approximates the crown as a spheroid around the half
// height: pi/6 * d^2 * h.
func DefaultVolume(height, diameter float64) float64 {
	return math.Pi / 6 * diameter * diameter * height
}

// ComputeCrownParams derives the per-crown parameters in parallel over the
// crown polygons. The tree-to-tree distance needs all stem positions and is
// filled in a second pass.
func ComputeCrownParams(ctx context.Context, logger zerolog.Logger, in ParamsInputs, opts ParamsOptions) ([]model.CrownParams, error) {
	if in.Crowns == nil || in.Crowns.Len() == 0 {
		return nil, fmt.Errorf("crown polygons are required and must not be empty")
	}
	if in.NDSM == nil || in.NDVI == nil {
		return nil, fmt.Errorf("ndsm and ndvi rasters are required")
	}
	volume := opts.Volume
	if volume == nil {
		volume = DefaultVolume
	}

	logger.Info().Int("crowns", in.Crowns.Len()).Msg("computing crown parameters")
	params := make([]model.CrownParams, in.Crowns.Len())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Dispatch.ResolveProcs(in.Crowns.Len()))
	for i := range in.Crowns.Features {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := crownParams(in.Crowns.Features[i], in, opts, volume)
			if err != nil {
				return fmt.Errorf("crown %d: %w", in.Crowns.Features[i].Cat, err)
			}
			params[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range params {
		params[i].DistTree = nearestStem(params, i, opts.DistTree)
	}
	return params, nil
}

func crownParams(crown model.Feature, in ParamsInputs, opts ParamsOptions, volume model.VolumeEstimator) (model.CrownParams, error) {
	p := model.CrownParams{
		Cat:       crown.Cat,
		PeakID:    attrAsInt(crown.Attrs["peak_id"]),
		Area:      crown.Area(),
		Perimeter: crown.Perimeter(),
	}
	p.Diameter = 2 * math.Sqrt(p.Area/math.Pi)

	region := crownRegion(crown, in.NDSM.Region)
	cells := raster.Rasterize("crown", region, []model.Feature{crown}, func(model.Feature) float64 { return 1 })
	var ndsmVals, ndviVals []float64
	maxHeight := math.Inf(-1)
	for row := 0; row < cells.Rows; row++ {
		for col := 0; col < cells.Cols; col++ {
			if cells.IsNull(row, col) {
				continue
			}
			x, y := cells.CellCenter(row, col)
			if r, c, ok := in.NDSM.CellAt(x, y); ok {
				if v := in.NDSM.Get(r, c); !math.IsNaN(v) {
					ndsmVals = append(ndsmVals, v)
					if v > maxHeight {
						maxHeight = v
						p.StemPosition = orb.Point{x, y}
					}
				}
			}
			if r, c, ok := in.NDVI.CellAt(x, y); ok {
				if v := in.NDVI.Get(r, c); !math.IsNaN(v) {
					ndviVals = append(ndviVals, v)
				}
			}
		}
	}
	if len(ndsmVals) == 0 {
		return p, fmt.Errorf("no nDSM coverage")
	}
	p.HeightMax = maxHeight
	p.HeightP95 = raster.PercentileOf(ndsmVals, 95)
	p.Volume = volume(p.HeightMax, p.Diameter)
	if len(ndviVals) > 0 {
		p.MeanNDVI = raster.UnivarOf(ndviVals).Mean
	}

	p.DistBuilding = -1
	if in.Buildings != nil && in.Buildings.Len() > 0 {
		p.DistBuilding = nearestPolygon(p.StemPosition, in.Buildings, opts.DistBuilding)
	}
	return p, nil
}

// nearestPolygon searches the layer within an expanding window around the
// point, doubling the window until a hit or the limit. A zero limit searches
// the whole layer. Returns -1 when nothing is found within the limit.
func nearestPolygon(point orb.Point, layer *model.VectorLayer, limit float64) float64 {
	window := limit
	if window <= 0 {
		window = math.Inf(1)
	}
	best := math.Inf(1)
	for _, f := range layer.Features {
		b := f.Geometry.Bound()
		if boundDistance(point, b) > window || boundDistance(point, b) > best {
			continue
		}
		if d := polygonDistance(point, f.Geometry); d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) || (limit > 0 && best > limit) {
		return -1
	}
	return best
}

func nearestStem(params []model.CrownParams, i int, limit float64) float64 {
	best := math.Inf(1)
	for j := range params {
		if j == i {
			continue
		}
		if d := planar.Distance(params[i].StemPosition, params[j].StemPosition); d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) || (limit > 0 && best > limit) {
		return -1
	}
	return best
}

// polygonDistance is the planar distance from a point to a polygon, zero
// when the point lies inside.
func polygonDistance(p orb.Point, poly orb.Polygon) float64 {
	if planar.PolygonContains(poly, p) {
		return 0
	}
	best := math.Inf(1)
	for _, ring := range poly {
		for k := 1; k < len(ring); k++ {
			if d := segmentDistance(p, ring[k-1], ring[k]); d < best {
				best = d
			}
		}
	}
	return best
}

func segmentDistance(p, a, b orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return planar.Distance(p, a)
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return planar.Distance(p, orb.Point{a[0] + t*dx, a[1] + t*dy})
}

func boundDistance(p orb.Point, b orb.Bound) float64 {
	dx := math.Max(math.Max(b.Min[0]-p[0], 0), p[0]-b.Max[0])
	dy := math.Max(math.Max(b.Min[1]-p[1], 0), p[1]-b.Max[1])
	return math.Hypot(dx, dy)
}

// crownRegion grows the crown bound by one cell, aligned to the source grid.
func crownRegion(crown model.Feature, full model.Region) model.Region {
	bound := crown.Geometry.Bound()
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

func attrAsInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
