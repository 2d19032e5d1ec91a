package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/config"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/raster"
)

func fillRect(g *raster.Grid, x0, y0, x1, y1, v float64) {
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			x, y := g.CellCenter(row, col)
			if x >= x0 && x < x1 && y >= y0 && y < y1 {
				g.Set(row, col, v)
			}
		}
	}
}

func TestBuildingExtractionSyntheticStories(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)

	// flat terrain with one 9 m structure of 20x20 m
	ndsm := raster.NewConstGrid("ndsm", region, 0)
	fillRect(ndsm, 10, 10, 30, 30, 9)
	ndvi := raster.NewConstGrid("ndvi", region, 50)

	fnk := model.NewVectorLayer("fnk")
	f := squareFeature(1, 0, 0, 60, 60)
	f.Attrs["code"] = 100
	fnk.Add(f)

	extractor := NewBuildingExtractor(config.Default().FNK, testLogger())
	buildings, err := extractor.Extract(context.Background(), BuildingInputs{
		NDSM:      ndsm,
		NDVI:      ndvi,
		FNK:       fnk,
		FNKColumn: "code",
	}, BuildingParams{
		NDVIThreshold:    100,
		MinSize:          20,
		MaxFD:            2.1,
		MinHeight:        2,
		StoryHeight:      3,
		HeightPercentile: 95,
		TileSize:         100,
		Dispatch:         DispatchOptions{NProcs: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, buildings.Len())

	b := buildings.Features[0]
	assert.InDelta(t, 400, b.Area(), 1e-9)
	assert.Equal(t, 3, b.Attrs["stories"])
	assert.InDelta(t, 9.0, b.Attrs["ndsm_median"].(float64), 1e-9)
	assert.InDelta(t, 9.0, b.Attrs["ndsm_percentile_95"].(float64), 1e-9)
}

func TestBuildingExtractionExcludesVegetationAndRoads(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)
	ndsm := raster.NewConstGrid("ndsm", region, 0)
	fillRect(ndsm, 10, 10, 30, 30, 9)
	ndvi := raster.NewConstGrid("ndvi", region, 50)

	// the structure stands on a road class, so nothing may come out
	fnk := model.NewVectorLayer("fnk")
	f := squareFeature(1, 0, 0, 60, 60)
	f.Attrs["code"] = 110
	fnk.Add(f)

	extractor := NewBuildingExtractor(config.Default().FNK, testLogger())
	buildings, err := extractor.Extract(context.Background(), BuildingInputs{
		NDSM:      ndsm,
		NDVI:      ndvi,
		FNK:       fnk,
		FNKColumn: "code",
	}, BuildingParams{
		NDVIThreshold: 100,
		MinSize:       20,
		MaxFD:         2.1,
		MinHeight:     2,
		StoryHeight:   3,
		TileSize:      100,
		Dispatch:      DispatchOptions{NProcs: 1},
	})
	// every tile reports no candidates; the merged layer is empty but the
	// run itself succeeds
	require.NoError(t, err)
	assert.Equal(t, 0, buildings.Len())
}

func TestBuildingExtractionPercentileThreshold(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)

	// two 9 m structures on eligible land; the second is a tall hedge whose
	// NDVI lies above the percentile resolved over the FNK vegetation strip
	ndsm := raster.NewConstGrid("ndsm", region, 0)
	fillRect(ndsm, 10, 10, 30, 30, 9)
	fillRect(ndsm, 35, 5, 45, 15, 9)
	ndvi := raster.NewConstGrid("ndvi", region, 50)
	fillRect(ndvi, 35, 5, 45, 15, 150)
	// vegetation reference strip, NDVI values 120 and 160 in equal parts
	fillRect(ndvi, 0, 40, 30, 60, 120)
	fillRect(ndvi, 30, 40, 60, 60, 160)

	fnk := model.NewVectorLayer("fnk")
	eligible := squareFeature(1, 0, 0, 60, 40)
	eligible.Attrs["code"] = 100
	fnk.Add(eligible)
	forest := squareFeature(2, 0, 40, 60, 60)
	forest.Attrs["code"] = 400
	fnk.Add(forest)

	extractor := NewBuildingExtractor(config.Default().FNK, testLogger())
	buildings, err := extractor.Extract(context.Background(), BuildingInputs{
		NDSM:      ndsm,
		NDVI:      ndvi,
		FNK:       fnk,
		FNKColumn: "code",
	}, BuildingParams{
		// median over the strip resolves to 120, masking the hedge (150)
		// while keeping the building (50)
		NDVIPercentile:   50,
		MinSize:          20,
		MaxFD:            2.1,
		MinHeight:        2,
		StoryHeight:      3,
		HeightPercentile: 95,
		TileSize:         40,
		Dispatch:         DispatchOptions{NProcs: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, buildings.Len(), "the resolved threshold excludes the hedge")
	assert.InDelta(t, 400, buildings.Features[0].Area(), 1e-9)
}

func TestBuildingExtractionRejectsAmbiguousThreshold(t *testing.T) {
	region := testRegion(0, 0, 10, 10, 1)
	ndsm := raster.NewConstGrid("ndsm", region, 0)
	ndvi := raster.NewConstGrid("ndvi", region, 50)
	fnk := model.NewVectorLayer("fnk")
	fnk.Add(squareFeature(1, 0, 0, 10, 10))

	extractor := NewBuildingExtractor(config.Default().FNK, testLogger())
	in := BuildingInputs{NDSM: ndsm, NDVI: ndvi, FNK: fnk, FNKColumn: "code"}

	_, err := extractor.Extract(context.Background(), in, BuildingParams{TileSize: 100})
	assert.Error(t, err, "neither threshold nor percentile given")

	_, err = extractor.Extract(context.Background(), in, BuildingParams{
		NDVIThreshold: 100, NDVIPercentile: 50, TileSize: 100,
	})
	assert.Error(t, err, "both threshold and percentile given")
}
