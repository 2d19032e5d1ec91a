package core

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/domain/model"
)

func testRegion(w, s, e, n, res float64) model.Region {
	return model.Region{West: w, South: s, East: e, North: n, Res: res}
}

func squareFeature(cat int, x0, y0, x1, y1 float64) model.Feature {
	return model.NewFeature(cat, orb.Polygon{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
}

func TestTilesCoverRegionExactly(t *testing.T) {
	region := testRegion(0, 0, 250, 170, 1)
	tiles, err := NewTiler(100).Tiles(region)
	require.NoError(t, err)
	require.Len(t, tiles, 6)

	var area float64
	for _, tile := range tiles {
		require.NoError(t, tile.Region.Validate())
		assert.GreaterOrEqual(t, tile.Region.West, region.West)
		assert.LessOrEqual(t, tile.Region.East, region.East)
		area += tile.Region.Width() * tile.Region.Height()
	}
	assert.InDelta(t, region.Width()*region.Height(), area, 1e-9)
}

func TestTilesDisjointInteriors(t *testing.T) {
	tiles, err := NewTiler(100).Tiles(testRegion(0, 0, 300, 200, 1))
	require.NoError(t, err)
	for i, a := range tiles {
		for _, b := range tiles[i+1:] {
			overlapW := min64(a.Region.East, b.Region.East) - max64(a.Region.West, b.Region.West)
			overlapH := min64(a.Region.North, b.Region.North) - max64(a.Region.South, b.Region.South)
			if overlapW > 0 && overlapH > 0 {
				t.Fatalf("tiles %s and %s overlap", a.ID, b.ID)
			}
		}
	}
}

func TestTilesSmallRegionSingleTile(t *testing.T) {
	region := testRegion(0, 0, 50, 40, 1)
	tiles, err := NewTiler(100).Tiles(region)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, region, tiles[0].Region)
}

func TestTilesRejectsNonPositiveSize(t *testing.T) {
	_, err := NewTiler(0).Tiles(testRegion(0, 0, 100, 100, 1))
	assert.Error(t, err)
	_, err = NewTiler(-10).Tiles(testRegion(0, 0, 100, 100, 1))
	assert.Error(t, err)
}

func TestTilesSnapToCellLattice(t *testing.T) {
	region := testRegion(0, 0, 30, 30, 1)
	tiles, err := NewTiler(10.4).Tiles(region)
	require.NoError(t, err)
	require.Len(t, tiles, 9)
	for _, tile := range tiles {
		colOff := (tile.Region.West - region.West) / region.Res
		rowOff := (region.North - tile.Region.North) / region.Res
		assert.Equal(t, math.Trunc(colOff), colOff, "tile %s west edge off the lattice", tile.ID)
		assert.Equal(t, math.Trunc(rowOff), rowOff, "tile %s north edge off the lattice", tile.ID)
	}
	assert.Equal(t, 10.0, tiles[1].Region.West-tiles[0].Region.West)

	tiny, err := NewTiler(0.3).Tiles(testRegion(0, 0, 3, 3, 1))
	require.NoError(t, err)
	assert.Len(t, tiny, 9, "tile size floors at one cell")
}

func TestTilesOverlappingSkipsEmptyTiles(t *testing.T) {
	layer := model.NewVectorLayer("fnk")
	layer.Add(squareFeature(1, 10, 10, 40, 40))

	tiles, err := NewTiler(100).TilesOverlapping(testRegion(0, 0, 300, 100, 1), layer)
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, model.TileID(0, 0), tiles[0].ID)
}

func TestTilesOverlappingErrorsWithoutOverlap(t *testing.T) {
	layer := model.NewVectorLayer("fnk")
	layer.Add(squareFeature(1, 1000, 1000, 1100, 1100))

	_, err := NewTiler(100).TilesOverlapping(testRegion(0, 0, 300, 100, 1), layer)
	assert.Error(t, err)
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
