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

// greenRoofFixture builds a 10x10 m roof with vegCells vegetated cells in
// the top row(s), row-major from the north-west corner.
func greenRoofFixture(t *testing.T, vegCells int) (GreenRoofInputs, GreenRoofParams) {
	t.Helper()
	region := testRegion(0, 0, 10, 10, 1)

	ndsm := raster.NewConstGrid("ndsm", region, 3)
	ndvi := raster.NewConstGrid("ndvi", region, 50)
	red := raster.NewConstGrid("red", region, 50)
	green := raster.NewConstGrid("green", region, 50)
	blue := raster.NewConstGrid("blue", region, 200)

	// vegetated cells: high NDVI, green dominant over blue
	n := 0
	for row := 0; row < ndvi.Rows && n < vegCells; row++ {
		for col := 0; col < ndvi.Cols && n < vegCells; col++ {
			ndvi.Set(row, col, 150)
			green.Set(row, col, 200)
			blue.Set(row, col, 50)
			n++
		}
	}

	buildings := model.NewVectorLayer("buildings")
	buildings.Add(squareFeature(1, 0, 0, 10, 10))

	in := GreenRoofInputs{
		NDSM:      ndsm,
		NDVI:      ndvi,
		Red:       red,
		Green:     green,
		Blue:      blue,
		Buildings: buildings,
	}
	cfg := config.Default().GreenRoofs
	params := GreenRoofParams{
		GBThreshold:      145,
		MinVegSize:       cfg.MinVegSize,
		MinVegProportion: cfg.MinVegProportion,
		NDVIThreshold:    cfg.NDVIThreshold,
		RGThreshold:      cfg.RGThreshold,
		BrightnessThresh: cfg.BrightnessThresh,
		NDSMThreshold:    cfg.NDSMThreshold,
		TileSize:         100,
		Dispatch:         DispatchOptions{NProcs: 1},
	}
	return in, params
}

func TestGreenRoofProportionBoundaryInclusive(t *testing.T) {
	// 10 of 100 cells vegetated = exactly min_veg_proportion percent
	in, params := greenRoofFixture(t, 10)
	extractor := NewGreenRoofExtractor(config.Default().FNK, testLogger())
	result, err := extractor.Extract(context.Background(), in, params)
	require.NoError(t, err)
	require.Equal(t, 1, result.Buildings.Len())
	assert.InDelta(t, 10.0, result.Buildings.Features[0].Attrs["veg_proportion"].(float64), 1e-9)
	assert.NotZero(t, result.Vegetation.Len())
}

func TestGreenRoofProportionBelowBoundaryExcluded(t *testing.T) {
	in, params := greenRoofFixture(t, 9)
	extractor := NewGreenRoofExtractor(config.Default().FNK, testLogger())
	result, err := extractor.Extract(context.Background(), in, params)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Buildings.Len())
	assert.Equal(t, 0, result.Vegetation.Len())
}

func TestGreenRoofPatchBelowMinSizeExcluded(t *testing.T) {
	// 4 vegetated cells form one patch below min_veg_size
	in, params := greenRoofFixture(t, 4)
	extractor := NewGreenRoofExtractor(config.Default().FNK, testLogger())
	result, err := extractor.Extract(context.Background(), in, params)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Buildings.Len())
}

func TestGreenRoofPercentileThresholdResolvedGlobally(t *testing.T) {
	region := testRegion(0, 0, 20, 10, 1)
	ndsm := raster.NewConstGrid("ndsm", region, 3)
	ndvi := raster.NewConstGrid("ndvi", region, 50)
	red := raster.NewConstGrid("red", region, 50)
	green := raster.NewConstGrid("green", region, 50)
	blue := raster.NewConstGrid("blue", region, 200)

	// roof vegetation with a high green-blue ratio (204)
	fillRect(ndvi, 0, 9, 10, 10, 150)
	fillRect(green, 0, 9, 10, 10, 200)
	fillRect(blue, 0, 9, 10, 10, 50)
	// decoy patch passing every test except the green-blue ratio (139)
	fillRect(ndvi, 0, 3, 6, 5, 150)
	fillRect(green, 0, 3, 6, 5, 120)
	fillRect(blue, 0, 3, 6, 5, 100)
	// FNK green area east of the roof, ratio values 149 and 204 in equal
	// parts, so the median resolves to 149
	fillRect(green, 10, 0, 20, 5, 140)
	fillRect(blue, 10, 0, 20, 5, 100)
	fillRect(green, 10, 5, 20, 10, 200)
	fillRect(blue, 10, 5, 20, 10, 50)

	buildings := model.NewVectorLayer("buildings")
	buildings.Add(squareFeature(1, 0, 0, 10, 10))
	fnk := model.NewVectorLayer("fnk")
	park := squareFeature(1, 10, 0, 20, 10)
	park.Attrs["code"] = 271
	fnk.Add(park)

	cfg := config.Default().GreenRoofs
	extractor := NewGreenRoofExtractor(config.Default().FNK, testLogger())
	result, err := extractor.Extract(context.Background(), GreenRoofInputs{
		NDSM:      ndsm,
		NDVI:      ndvi,
		Red:       red,
		Green:     green,
		Blue:      blue,
		Buildings: buildings,
		FNK:       fnk,
		FNKColumn: "code",
	}, GreenRoofParams{
		GBPercentile:     50,
		MinVegSize:       cfg.MinVegSize,
		MinVegProportion: cfg.MinVegProportion,
		NDVIThreshold:    cfg.NDVIThreshold,
		RGThreshold:      cfg.RGThreshold,
		BrightnessThresh: cfg.BrightnessThresh,
		NDSMThreshold:    cfg.NDSMThreshold,
		TileSize:         100,
		Dispatch:         DispatchOptions{NProcs: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Buildings.Len())
	// only the 10-cell top row qualifies; the decoy stays below the
	// resolved threshold and does not inflate the proportion
	assert.InDelta(t, 10.0, result.Buildings.Features[0].Attrs["veg_proportion"].(float64), 1e-9)
	assert.Equal(t, 1, result.Vegetation.Len())
}

func TestGreenRoofRequiresExactlyOneThresholdMode(t *testing.T) {
	in, params := greenRoofFixture(t, 10)
	extractor := NewGreenRoofExtractor(config.Default().FNK, testLogger())

	params.GBThreshold = 0
	_, err := extractor.Extract(context.Background(), in, params)
	assert.Error(t, err)

	params.GBThreshold = 145
	params.GBPercentile = 50
	_, err = extractor.Extract(context.Background(), in, params)
	assert.Error(t, err)
}
