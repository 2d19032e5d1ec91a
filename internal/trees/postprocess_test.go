package trees

import (
	"io"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/config"
	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/logging"
	"urban_analysis/internal/raster"
)

func testLogger() zerolog.Logger { return logging.New(io.Discard, false) }

func testRegion(w, s, e, n, res float64) model.Region {
	return model.Region{West: w, South: s, East: e, North: n, Res: res}
}

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

func TestPostprocessEmitsOneCrownPerPeak(t *testing.T) {
	region := testRegion(0, 0, 30, 30, 1)
	cfg := config.Default().Trees

	classified := raster.NewConstGrid("classified", region, float64(model.LabelNonTree))
	ndvi := raster.NewConstGrid("ndvi", region, 200)
	nir := raster.NewConstGrid("nir", region, 200)
	ndsm := raster.NewConstGrid("ndsm", region, 0)
	nearest := raster.NewGrid("nearest", region)

	// two tree groups around two peaks
	fillRect(classified, 2, 2, 12, 12, float64(model.LabelTree))
	fillRect(ndsm, 2, 2, 12, 12, 8)
	fillRect(nearest, 2, 2, 12, 12, 1)
	fillRect(classified, 18, 18, 26, 26, float64(model.LabelTree))
	fillRect(ndsm, 18, 18, 26, 26, 6)
	fillRect(nearest, 18, 18, 26, 26, 2)

	objects, crowns, err := Postprocess(PostprocessInputs{
		Classified: classified,
		NDVI:       ndvi,
		NIR:        nir,
		NDSM:       ndsm,
		Nearest:    nearest,
	}, cfg, testLogger())
	require.NoError(t, err)
	require.Equal(t, 2, crowns.Len())

	// every crown carries exactly one peak and at least one pixel
	seen := map[int]bool{}
	for _, crown := range crowns.Features {
		peak := crown.Attrs["peak_id"].(int)
		assert.False(t, seen[peak], "peak emitted twice")
		seen[peak] = true
		assert.Greater(t, crown.Area(), 0.0)
	}
	assert.Greater(t, objects.CountValid(), 0)
}

func TestPostprocessDropsPeaksWithoutTreePixels(t *testing.T) {
	region := testRegion(0, 0, 20, 20, 1)
	cfg := config.Default().Trees

	classified := raster.NewConstGrid("classified", region, float64(model.LabelNonTree))
	ndvi := raster.NewConstGrid("ndvi", region, 200)
	nir := raster.NewConstGrid("nir", region, 200)
	ndsm := raster.NewConstGrid("ndsm", region, 5)
	nearest := raster.NewConstGrid("nearest", region, 1)

	// peak 2 exists in the assignment but no pixel classifies as tree there
	fillRect(nearest, 10, 10, 20, 20, 2)
	fillRect(classified, 2, 2, 8, 8, float64(model.LabelTree))

	_, crowns, err := Postprocess(PostprocessInputs{
		Classified: classified,
		NDVI:       ndvi,
		NIR:        nir,
		NDSM:       ndsm,
		Nearest:    nearest,
	}, cfg, testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, crowns.Len())
	assert.Equal(t, 1, crowns.Features[0].Attrs["peak_id"].(int))
}

func TestPostprocessAppliesSpectralThresholds(t *testing.T) {
	region := testRegion(0, 0, 20, 20, 1)
	cfg := config.Default().Trees

	classified := raster.NewConstGrid("classified", region, float64(model.LabelTree))
	ndvi := raster.NewConstGrid("ndvi", region, 50) // below threshold everywhere
	nir := raster.NewConstGrid("nir", region, 200)
	ndsm := raster.NewConstGrid("ndsm", region, 5)
	nearest := raster.NewConstGrid("nearest", region, 1)

	objects, crowns, err := Postprocess(PostprocessInputs{
		Classified: classified,
		NDVI:       ndvi,
		NIR:        nir,
		NDSM:       ndsm,
		Nearest:    nearest,
	}, cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, crowns.Len())
	assert.Equal(t, 0, objects.CountValid())
	assert.True(t, math.IsNaN(objects.Data[0]))
}
