package core

import (
	"math"

	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

// attrInt reads an integer attribute, tolerating the numeric types the
// stores hand back.
func attrInt(f model.Feature, column string) int {
	switch v := f.Attrs[column].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// maskFromCodes builds a binary mask where the code grid matches one of the
// listed class codes.
func maskFromCodes(codes *raster.Grid, wanted []int) *raster.Grid {
	set := make(map[int]bool, len(wanted))
	for _, c := range wanted {
		set[c] = true
	}
	out := raster.NewGrid(codes.Name+"_mask", codes.Region)
	for i, v := range codes.Data {
		if !math.IsNaN(v) && set[int(v)] {
			out.Data[i] = 1
		}
	}
	return out
}

// eligibleMask marks cells whose class code is present and not excluded.
func eligibleMask(codes *raster.Grid, excluded []int) *raster.Grid {
	set := make(map[int]bool, len(excluded))
	for _, c := range excluded {
		set[c] = true
	}
	out := raster.NewGrid(codes.Name+"_eligible", codes.Region)
	for i, v := range codes.Data {
		if math.IsNaN(v) || set[int(v)] {
			continue
		}
		out.Data[i] = 1
	}
	return out
}

// stretchByPercentiles applies the signed square-root percentile stretch
// used before segmentation: values above the median are compressed towards
// the high percentile, values below towards the low one.
func stretchByPercentiles(name string, g *raster.Grid, pLow, med, pHigh float64) *raster.Grid {
	out := g.Clone(name)
	for i, v := range out.Data {
		if math.IsNaN(v) {
			continue
		}
		if v >= med {
			span := pHigh - med
			if span <= 0 {
				out.Data[i] = 0
				continue
			}
			out.Data[i] = math.Sqrt((v - med) / span)
		} else {
			span := med - pLow
			if span <= 0 {
				out.Data[i] = 0
				continue
			}
			out.Data[i] = -math.Sqrt((med - v) / span)
		}
	}
	return out
}

func statsOf(vals []float64) raster.Univar {
	return raster.UnivarOf(vals)
}

func percentileOf(vals []float64, percentile float64) float64 {
	return raster.PercentileOf(vals, percentile)
}
