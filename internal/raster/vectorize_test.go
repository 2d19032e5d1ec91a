package raster

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/domain/model"
)

func square(cat int, x0, y0, x1, y1 float64) model.Feature {
	return model.NewFeature(cat, orb.Polygon{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

func TestRasterizeBurnsCellCenters(t *testing.T) {
	region := testRegion(0, 0, 10, 10, 1)
	g := Rasterize("mask", region, []model.Feature{square(1, 2, 2, 8, 8)},
		func(model.Feature) float64 { return 7 })

	assert.Equal(t, 36, g.CountValid())
	assert.Equal(t, 7.0, g.Get(5, 5))
	assert.True(t, g.IsNull(0, 0))
}

func TestRasterizeVectorizeRoundTrip(t *testing.T) {
	region := testRegion(0, 0, 20, 20, 1)
	g := Rasterize("mask", region, []model.Feature{square(1, 3, 4, 11, 15)},
		func(model.Feature) float64 { return 1 })

	features := Vectorize(g, 0)
	require.Len(t, features, 1)
	assert.InDelta(t, 8*11, features[0].Area(), 1e-9)

	bound := features[0].Geometry.Bound()
	assert.Equal(t, orb.Point{3, 4}, bound.Min)
	assert.Equal(t, orb.Point{11, 15}, bound.Max)
}

func TestVectorizeOuterRingOrientationAndHoles(t *testing.T) {
	region := testRegion(0, 0, 12, 12, 1)
	g := NewGrid("mask", region)
	// ring shape: 8x8 block with a 2x2 hole
	for row := 2; row < 10; row++ {
		for col := 2; col < 10; col++ {
			g.Set(row, col, 1)
		}
	}
	g.Set(5, 5, math.NaN())
	g.Set(5, 6, math.NaN())
	g.Set(6, 5, math.NaN())
	g.Set(6, 6, math.NaN())

	features := Vectorize(g, 0)
	require.Len(t, features, 1)
	poly := features[0].Geometry
	require.Len(t, poly, 2, "outer ring plus hole")
	assert.Greater(t, planar.Area(poly[0]), 0.0, "outer ring is counter-clockwise")
	assert.Less(t, planar.Area(poly[1]), 0.0, "hole is clockwise")
	assert.InDelta(t, 64-4, math.Abs(planar.Area(poly[0]))-math.Abs(planar.Area(poly[1])), 1e-9)

	// gap filling closes the hole
	filled := Vectorize(g, 5)
	require.Len(t, filled, 1)
	assert.Len(t, filled[0].Geometry, 1)
	assert.InDelta(t, 64, filled[0].Area(), 1e-9)
}

func TestVectorizeDeterministic(t *testing.T) {
	region := testRegion(0, 0, 30, 30, 1)
	g := NewGrid("mask", region)
	for _, r := range [][4]int{{1, 1, 5, 5}, {10, 10, 16, 13}, {20, 2, 28, 9}} {
		for row := r[0]; row < r[2]; row++ {
			for col := r[1]; col < r[3]; col++ {
				g.Set(row, col, 1)
			}
		}
	}
	labels, n := g.Clump("labels", false)
	require.Equal(t, 3, n)

	first := Vectorize(labels, 0)
	for i := 0; i < 5; i++ {
		again := Vectorize(labels, 0)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Geometry, again[j].Geometry)
			assert.Equal(t, first[j].Cat, again[j].Cat)
		}
	}
}

func TestClumpConnectivity(t *testing.T) {
	region := testRegion(0, 0, 10, 10, 1)
	g := NewGrid("mask", region)
	// two blocks touching only diagonally
	g.Set(2, 2, 1)
	g.Set(3, 3, 1)

	_, n4 := g.Clump("c4", false)
	assert.Equal(t, 2, n4, "4-connectivity separates diagonal touches")

	_, n8 := g.Clump("c8", true)
	assert.Equal(t, 1, n8, "8-connectivity joins diagonal touches")
}

func TestMaskBy(t *testing.T) {
	region := testRegion(0, 0, 4, 4, 1)
	g := NewConstGrid("g", region, 9)
	mask := NewGrid("mask", region)
	mask.Set(0, 0, 1)

	out := g.MaskBy("masked", mask)
	assert.Equal(t, 9.0, out.Get(0, 0))
	assert.True(t, out.IsNull(1, 1))
}
