package model

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func rect(cat int, x0, y0, x1, y1 float64) Feature {
	return NewFeature(cat, orb.Polygon{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

func TestFeatureMetrics(t *testing.T) {
	f := rect(1, 0, 0, 10, 10)
	assert.InDelta(t, 100, f.Area(), 1e-9)
	assert.InDelta(t, 40, f.Perimeter(), 1e-9)
	assert.InDelta(t, 1.602, f.FractalDimension(), 1e-3)

	c := f.Centroid()
	assert.InDelta(t, 5, c[0], 1e-9)
	assert.InDelta(t, 5, c[1], 1e-9)
}

func TestVectorLayerBoundsAndArea(t *testing.T) {
	l := NewVectorLayer("test")
	l.Add(rect(1, 0, 0, 10, 10))
	l.Add(rect(2, 20, 20, 25, 30))

	assert.Equal(t, 2, l.Len())
	assert.InDelta(t, 150, l.TotalArea(), 1e-9)

	b := l.Bounds()
	assert.Equal(t, orb.Point{0, 0}, b.Min)
	assert.Equal(t, orb.Point{25, 30}, b.Max)

	assert.True(t, l.Overlaps(Region{West: 5, South: 5, East: 8, North: 8, Res: 1}))
	assert.False(t, l.Overlaps(Region{West: 100, South: 100, East: 110, North: 110, Res: 1}))
}
