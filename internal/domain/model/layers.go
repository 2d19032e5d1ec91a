package model

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Feature is a single polygon with its attribute table row.
type Feature struct {
	Cat      int                    `json:"cat"`
	Geometry orb.Polygon            `json:"geometry"`
	Attrs    map[string]interface{} `json:"attrs"`
}

// NewFeature creates a feature with an empty attribute table.
func NewFeature(cat int, geom orb.Polygon) Feature {
	return Feature{Cat: cat, Geometry: geom, Attrs: map[string]interface{}{}}
}

// Area returns the planar polygon area in square map units.
func (f Feature) Area() float64 {
	return math.Abs(planar.Area(f.Geometry))
}

// Perimeter returns the length of the outer ring in map units.
func (f Feature) Perimeter() float64 {
	if len(f.Geometry) == 0 {
		return 0
	}
	return planar.Length(f.Geometry[0])
}

// FractalDimension returns the boundary shape complexity metric
// 2*ln(perimeter)/ln(area). Values close to 1 indicate compact shapes,
// values above ~2 indicate implausibly jagged outlines.
func (f Feature) FractalDimension() float64 {
	area := f.Area()
	perim := f.Perimeter()
	if area <= 1 || perim <= 0 {
		return 0
	}
	return 2.0 * math.Log(perim) / math.Log(area)
}

// Centroid returns the polygon centroid.
func (f Feature) Centroid() orb.Point {
	c, _ := planar.CentroidArea(f.Geometry)
	return c
}

// VectorLayer is a named set of polygon features with attributes.
type VectorLayer struct {
	Name     string    `json:"name"`
	Features []Feature `json:"features"`
}

func NewVectorLayer(name string) *VectorLayer {
	return &VectorLayer{Name: name}
}

func (l *VectorLayer) Add(f Feature) {
	l.Features = append(l.Features, f)
}

func (l *VectorLayer) Len() int { return len(l.Features) }

// Bounds returns the joint bounding box of all features.
func (l *VectorLayer) Bounds() orb.Bound {
	bound := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, f := range l.Features {
		bound = bound.Union(f.Geometry.Bound())
	}
	return bound
}

// Overlaps reports whether any feature bounding box intersects the region.
func (l *VectorLayer) Overlaps(r Region) bool {
	regionBound := orb.Bound{
		Min: orb.Point{r.West, r.South},
		Max: orb.Point{r.East, r.North},
	}
	for _, f := range l.Features {
		if f.Geometry.Bound().Intersects(regionBound) {
			return true
		}
	}
	return false
}

// TotalArea sums the planar areas of all features.
func (l *VectorLayer) TotalArea() float64 {
	var total float64
	for _, f := range l.Features {
		total += f.Area()
	}
	return total
}
