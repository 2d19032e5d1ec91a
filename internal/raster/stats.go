package raster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Univar holds the univariate statistics of a grid, mirroring the numbers
// the extraction steps decide on.
type Univar struct {
	N      int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
}

// Stats computes univariate statistics over all non-null cells.
func (g *Grid) Stats() Univar {
	vals := g.validValues(nil)
	return univarOf(vals)
}

// MaskedStats computes statistics over cells where mask is non-null and
// non-zero.
func (g *Grid) MaskedStats(mask *Grid) Univar {
	vals := g.validValues(mask)
	return univarOf(vals)
}

// UnivarOf computes the statistics over a plain value slice (per-polygon
// zonal statistics use this). The slice is sorted in place.
func UnivarOf(vals []float64) Univar {
	return univarOf(vals)
}

// PercentileOf returns the percentile (0-100) of a plain value slice, zero
// for an empty slice. The slice is sorted in place.
func PercentileOf(vals []float64, percentile float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	return stat.Quantile(percentile/100.0, stat.Empirical, vals, nil)
}

func univarOf(vals []float64) Univar {
	u := Univar{N: len(vals)}
	if len(vals) == 0 {
		return u
	}
	sort.Float64s(vals)
	u.Min = vals[0]
	u.Max = vals[len(vals)-1]
	u.Mean = stat.Mean(vals, nil)
	u.StdDev = stat.StdDev(vals, nil)
	u.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
	return u
}

// Percentile returns the given percentile (0-100) over all non-null cells,
// optionally restricted to a mask. The percentile is computed once over the
// full extent; tiled passes reuse the resulting scalar.
func (g *Grid) Percentile(percentile float64, mask *Grid) (float64, error) {
	if percentile < 0 || percentile > 100 {
		return 0, fmt.Errorf("percentile must be in [0,100], got %g", percentile)
	}
	vals := g.validValues(mask)
	if len(vals) == 0 {
		return 0, fmt.Errorf("no valid cells in %q for percentile computation", g.Name)
	}
	sort.Float64s(vals)
	return stat.Quantile(percentile/100.0, stat.Empirical, vals, nil), nil
}

// Percentiles computes several percentiles in one pass over the sorted data.
func (g *Grid) Percentiles(percentiles []float64, mask *Grid) ([]float64, error) {
	vals := g.validValues(mask)
	if len(vals) == 0 {
		return nil, fmt.Errorf("no valid cells in %q for percentile computation", g.Name)
	}
	sort.Float64s(vals)
	out := make([]float64, len(percentiles))
	for i, p := range percentiles {
		if p < 0 || p > 100 {
			return nil, fmt.Errorf("percentile must be in [0,100], got %g", p)
		}
		out[i] = stat.Quantile(p/100.0, stat.Empirical, vals, nil)
	}
	return out, nil
}

func (g *Grid) validValues(mask *Grid) []float64 {
	vals := make([]float64, 0, len(g.Data))
	for i, v := range g.Data {
		if math.IsNaN(v) {
			continue
		}
		if mask != nil {
			m := mask.Data[i]
			if math.IsNaN(m) || m == 0 {
				continue
			}
		}
		vals = append(vals, v)
	}
	return vals
}

// ZonalMean computes the average of cover per zone of the base grid and
// writes the zone average back onto every cell of the zone. Base cells must
// hold integer zone IDs.
func ZonalMean(name string, base, cover *Grid) (*Grid, error) {
	if base.Rows != cover.Rows || base.Cols != cover.Cols {
		return nil, fmt.Errorf("zonal stats: %q and %q differ in size", base.Name, cover.Name)
	}
	sums := map[int]float64{}
	counts := map[int]int{}
	for i, z := range base.Data {
		if math.IsNaN(z) || math.IsNaN(cover.Data[i]) {
			continue
		}
		zone := int(z)
		sums[zone] += cover.Data[i]
		counts[zone]++
	}
	out := NewGrid(name, base.Region)
	for i, z := range base.Data {
		if math.IsNaN(z) {
			continue
		}
		zone := int(z)
		if counts[zone] > 0 {
			out.Data[i] = sums[zone] / float64(counts[zone])
		}
	}
	return out, nil
}

// ZonalMin writes the minimum of cover per zone back onto the zone cells.
func ZonalMin(name string, base, cover *Grid) (*Grid, error) {
	if base.Rows != cover.Rows || base.Cols != cover.Cols {
		return nil, fmt.Errorf("zonal stats: %q and %q differ in size", base.Name, cover.Name)
	}
	mins := map[int]float64{}
	for i, z := range base.Data {
		if math.IsNaN(z) || math.IsNaN(cover.Data[i]) {
			continue
		}
		zone := int(z)
		if cur, ok := mins[zone]; !ok || cover.Data[i] < cur {
			mins[zone] = cover.Data[i]
		}
	}
	out := NewGrid(name, base.Region)
	for i, z := range base.Data {
		if math.IsNaN(z) {
			continue
		}
		if v, ok := mins[int(z)]; ok {
			out.Data[i] = v
		}
	}
	return out, nil
}
