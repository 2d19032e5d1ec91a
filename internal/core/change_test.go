package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/domain/model"
)

func TestDetectAreasIdenticalLayers(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)
	a := model.NewVectorLayer("a")
	a.Add(squareFeature(1, 10, 10, 30, 30))
	b := model.NewVectorLayer("b")
	b.Add(squareFeature(1, 10, 10, 30, 30))

	detector := NewChangeDetector(testLogger())
	result, err := detector.DetectAreas(context.Background(), ChangeInputs{A: a, B: b}, ChangeParams{
		Region:   region,
		MinSize:  20,
		MaxFD:    2.1,
		Quality:  true,
		TileSize: 100,
		Dispatch: DispatchOptions{NProcs: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.OnlyA.Len())
	assert.Equal(t, 0, result.OnlyB.Len())
	assert.Equal(t, 1, result.Congruent.Len())
	assert.InDelta(t, 1.0, result.Completeness(), 1e-9)
	assert.InDelta(t, 1.0, result.Correctness(), 1e-9)
}

func TestDetectAreasDisjointLayers(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)
	a := model.NewVectorLayer("a")
	a.Add(squareFeature(1, 0, 0, 20, 20))
	b := model.NewVectorLayer("b")
	b.Add(squareFeature(1, 30, 30, 50, 50))

	detector := NewChangeDetector(testLogger())
	result, err := detector.DetectAreas(context.Background(), ChangeInputs{A: a, B: b}, ChangeParams{
		Region:   region,
		MinSize:  20,
		MaxFD:    2.1,
		Quality:  true,
		TileSize: 100,
		Dispatch: DispatchOptions{NProcs: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Congruent.Len())

	require.Equal(t, 1, result.OnlyA.Len())
	assert.InDelta(t, 400, result.OnlyA.Features[0].Area(), 1e-9)
	assert.Equal(t, "only_a", result.OnlyA.Features[0].Attrs["change_class"])

	require.Equal(t, 1, result.OnlyB.Len())
	assert.InDelta(t, 400, result.OnlyB.Features[0].Area(), 1e-9)
	assert.Equal(t, "only_b", result.OnlyB.Features[0].Attrs["change_class"])

	assert.InDelta(t, 0.0, result.Completeness(), 1e-9)
	assert.InDelta(t, 0.0, result.Correctness(), 1e-9)
}

func TestDetectAreasTilingDoesNotChangeResult(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)
	a := model.NewVectorLayer("a")
	a.Add(squareFeature(1, 5, 5, 45, 45))
	b := model.NewVectorLayer("b")
	b.Add(squareFeature(1, 25, 25, 55, 55))

	detector := NewChangeDetector(testLogger())
	run := func(tileSize float64) *model.ChangeResult {
		result, err := detector.DetectAreas(context.Background(), ChangeInputs{A: a, B: b}, ChangeParams{
			Region:   region,
			MinSize:  20,
			MaxFD:    2.1,
			TileSize: tileSize,
			Dispatch: DispatchOptions{NProcs: 2},
		})
		require.NoError(t, err)
		return result
	}
	whole := run(100)
	tiled := run(15)

	assert.Equal(t, whole.Congruent.Len(), tiled.Congruent.Len())
	assert.InDelta(t, whole.OnlyA.TotalArea(), tiled.OnlyA.TotalArea(), 1e-9)
	assert.InDelta(t, whole.OnlyB.TotalArea(), tiled.OnlyB.TotalArea(), 1e-9)
}

func TestDetectObjectsCongruenceThreshold(t *testing.T) {
	region := testRegion(0, 0, 60, 60, 1)
	a := model.NewVectorLayer("a")
	a.Add(squareFeature(1, 10, 10, 30, 30)) // fully covered by b
	a.Add(squareFeature(2, 40, 40, 50, 50)) // no counterpart
	b := model.NewVectorLayer("b")
	b.Add(squareFeature(1, 10, 10, 30, 30))

	detector := NewChangeDetector(testLogger())
	result, err := detector.DetectObjects(context.Background(), ChangeInputs{A: a, B: b}, ChangeParams{
		Region:           region,
		CongruenceThresh: 90,
		TileSize:         100,
		Dispatch:         DispatchOptions{NProcs: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Congruent.Len())
	assert.Equal(t, 1, result.OnlyA.Len())
	assert.Equal(t, 0, result.OnlyB.Len())
}
