package trees

import (
	"math"

	"urban_analysis/internal/raster"
)

// normalizedRatio scales the normalized difference of two bands onto 0..255:
// round(127.5 * (1 + (a-b)/(a+b))). Cells where both bands are zero stay
// NoData.
func normalizedRatio(name string, a, b *raster.Grid) (*raster.Grid, error) {
	return raster.MapCalc(name, func(v []float64) float64 {
		if v[0]+v[1] == 0 {
			return math.NaN()
		}
		return math.Round(127.5 * (1 + (v[0]-v[1])/(v[0]+v[1])))
	}, a, b)
}

// NDWI derives the water index band from green and NIR.
func NDWI(green, nir *raster.Grid) (*raster.Grid, error) {
	return normalizedRatio("ndwi", green, nir)
}

// NDGB derives the green-blue index band used to separate shaded roofs
// from vegetation.
func NDGB(green, blue *raster.Grid) (*raster.Grid, error) {
	return normalizedRatio("ndgb", green, blue)
}
