package model

import (
	"fmt"
	"math"
)

// Region is an axis-aligned extent in projected map units (meters) together
// with the cell resolution. It is passed explicitly to every raster and
// vector operation; there is no process-global current region.
type Region struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Res   float64 `json:"res"`
}

func (r Region) Width() float64  { return r.East - r.West }
func (r Region) Height() float64 { return r.North - r.South }

// Cols returns the number of grid columns covered by the region.
func (r Region) Cols() int {
	return int(math.Ceil((r.East - r.West) / r.Res))
}

// Rows returns the number of grid rows covered by the region.
func (r Region) Rows() int {
	return int(math.Ceil((r.North - r.South) / r.Res))
}

func (r Region) Validate() error {
	if r.Res <= 0 {
		return fmt.Errorf("region resolution must be positive, got %g", r.Res)
	}
	if r.East <= r.West || r.North <= r.South {
		return fmt.Errorf("degenerate region extent [%g %g %g %g]", r.West, r.South, r.East, r.North)
	}
	return nil
}

// Contains reports whether the map coordinate lies inside the region.
func (r Region) Contains(x, y float64) bool {
	return x >= r.West && x < r.East && y > r.South && y <= r.North
}

// Intersect clips the region against another extent. Resolution is kept.
func (r Region) Intersect(other Region) (Region, bool) {
	out := Region{
		West:  math.Max(r.West, other.West),
		South: math.Max(r.South, other.South),
		East:  math.Min(r.East, other.East),
		North: math.Min(r.North, other.North),
		Res:   r.Res,
	}
	if out.East <= out.West || out.North <= out.South {
		return Region{}, false
	}
	return out, true
}

// Tile is a sub-region produced by the tiler. The ID is derived from the
// tile's grid position and is stable across runs with the same parameters.
type Tile struct {
	ID     string
	Row    int
	Col    int
	Region Region
}

func TileID(row, col int) string {
	return fmt.Sprintf("tile_%d_%d", row, col)
}
