package model

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoBBox is a geographic bounding box in EPSG:4326, the extent format of
// the OSM reference import.
type GeoBBox struct {
	South float64
	West  float64
	North float64
	East  float64
}

// String renders the Overpass bbox filter form "south,west,north,east".
func (b GeoBBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.South, b.West, b.North, b.East)
}

func (b GeoBBox) Validate() error {
	if b.South < -90 || b.South > 90 || b.North < -90 || b.North > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]")
	}
	if b.West < -180 || b.West > 180 || b.East < -180 || b.East > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]")
	}
	if b.South > b.North || b.West > b.East {
		return fmt.Errorf("south must be <= north and west must be <= east")
	}
	return nil
}

// LocalProjection maps geographic coordinates onto a local metric plane
// around an origin, good enough at city scale to compare imported reference
// footprints with the metric working region.
type LocalProjection struct {
	OriginLat float64
	OriginLon float64
	kx, ky    float64
}

// NewLocalProjection anchors the projection at the bbox center.
func NewLocalProjection(b GeoBBox) *LocalProjection {
	latMid := (b.South + b.North) / 2 * math.Pi / 180
	return &LocalProjection{
		OriginLat: (b.South + b.North) / 2,
		OriginLon: (b.West + b.East) / 2,
		// meters per degree at the origin latitude
		kx: 111412.84 * math.Cos(latMid),
		ky: 111132.92 - 559.82*math.Cos(2*latMid),
	}
}

// ToLocal projects a lon/lat point to local metric coordinates.
func (p *LocalProjection) ToLocal(lon, lat float64) orb.Point {
	return orb.Point{
		(lon - p.OriginLon) * p.kx,
		(lat - p.OriginLat) * p.ky,
	}
}

// ToGeo is the inverse of ToLocal.
func (p *LocalProjection) ToGeo(pt orb.Point) (lon, lat float64) {
	return pt[0]/p.kx + p.OriginLon, pt[1]/p.ky + p.OriginLat
}
