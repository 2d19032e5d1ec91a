package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFocalStatistics(t *testing.T) {
	region := testRegion(0, 0, 5, 5, 1)
	g := NewGrid("g", region)
	for row := 0; row < 5; row++ {
		for col := 0; col < 5; col++ {
			g.Set(row, col, float64(row*5+col))
		}
	}

	min, err := g.Focal("min", FocalMin, 3)
	require.NoError(t, err)
	assert.Equal(t, 6.0, min.Get(2, 2))

	max, err := g.Focal("max", FocalMax, 3)
	require.NoError(t, err)
	assert.Equal(t, 18.0, max.Get(2, 2))

	med, err := g.Focal("med", FocalMedian, 3)
	require.NoError(t, err)
	assert.Equal(t, 12.0, med.Get(2, 2))

	avg, err := g.Focal("avg", FocalAverage, 3)
	require.NoError(t, err)
	assert.Equal(t, 12.0, avg.Get(2, 2))
}

func TestFocalSkipsNoData(t *testing.T) {
	region := testRegion(0, 0, 3, 3, 1)
	g := NewGrid("g", region)
	g.Set(1, 1, 4)

	avg, err := g.Focal("avg", FocalAverage, 3)
	require.NoError(t, err)
	assert.Equal(t, 4.0, avg.Get(0, 0), "single valid neighbor dominates")
	assert.Equal(t, 4.0, avg.Get(2, 2))
}

func TestFocalWindowValidation(t *testing.T) {
	g := NewConstGrid("g", testRegion(0, 0, 3, 3, 1), 1)
	_, err := g.Focal("bad", FocalMax, 2)
	assert.Error(t, err, "even window")
	_, err = g.Focal("bad", FocalMax, -3)
	assert.Error(t, err, "negative window")
	_, err = g.Focal("bad", FocalMethod("mode"), 3)
	assert.Error(t, err, "unknown method")
}

func TestResampleMax(t *testing.T) {
	region := testRegion(0, 0, 4, 4, 1)
	g := NewGrid("g", region)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			g.Set(row, col, float64(row*4+col))
		}
	}

	coarse, err := g.ResampleMax("coarse", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, coarse.Rows)
	assert.Equal(t, 2, coarse.Cols)
	assert.Equal(t, 5.0, coarse.Get(0, 0), "max of the upper-left 2x2 block")
	assert.Equal(t, 15.0, coarse.Get(1, 1))

	_, err = g.ResampleMax("bad", 0.5)
	assert.Error(t, err, "target must be coarser")
}

func TestSlope(t *testing.T) {
	region := testRegion(0, 0, 10, 10, 1)

	flat := NewConstGrid("flat", region, 7)
	slope := flat.Slope("slope")
	assert.Equal(t, 0.0, slope.Get(5, 5))

	ramp := NewGrid("ramp", region)
	for row := 0; row < ramp.Rows; row++ {
		for col := 0; col < ramp.Cols; col++ {
			ramp.Set(row, col, float64(col))
		}
	}
	slope = ramp.Slope("slope")
	assert.InDelta(t, 45.0, slope.Get(5, 5), 1e-9, "unit gradient")
}

func TestProjectToNearestNeighbor(t *testing.T) {
	coarse := NewGrid("coarse", testRegion(0, 0, 4, 4, 2))
	coarse.Set(0, 0, 1)
	coarse.Set(0, 1, 2)
	coarse.Set(1, 0, 3)
	coarse.Set(1, 1, 4)

	fine := coarse.ProjectTo("fine", testRegion(0, 0, 4, 4, 1))
	assert.Equal(t, 4, fine.Rows)
	assert.Equal(t, 1.0, fine.Get(0, 0))
	assert.Equal(t, 1.0, fine.Get(1, 1), "replicated within the coarse cell")
	assert.Equal(t, 4.0, fine.Get(3, 3))
}
