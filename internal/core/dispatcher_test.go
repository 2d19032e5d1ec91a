package core

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urban_analysis/internal/domain/model"
	"urban_analysis/internal/logging"
)

func testLogger() zerolog.Logger { return logging.New(io.Discard, false) }

func TestResolveProcsConvention(t *testing.T) {
	cores := runtime.NumCPU()

	assert.Equal(t, 3, DispatchOptions{NProcs: 3}.ResolveProcs(100))
	assert.Equal(t, 2, DispatchOptions{NProcs: 8}.ResolveProcs(2), "capped at tile count")

	got := DispatchOptions{NProcs: 0}.ResolveProcs(1000)
	assert.Equal(t, cores, got)

	got = DispatchOptions{NProcs: -1}.ResolveProcs(1000)
	if cores > 1 {
		assert.Equal(t, cores-1, got)
	} else {
		assert.Equal(t, 1, got)
	}

	assert.Equal(t, 1, DispatchOptions{NProcs: -10000}.ResolveProcs(1000), "floored at 1")
}

func TestDispatchContinueOnError(t *testing.T) {
	tiles, err := NewTiler(100).Tiles(testRegion(0, 0, 300, 100, 1))
	require.NoError(t, err)

	result, err := Dispatch(context.Background(), testLogger(), tiles, DispatchOptions{NProcs: 2},
		func(ctx context.Context, tile model.Tile, memoryMB int) (string, error) {
			if tile.Col == 1 {
				return "", fmt.Errorf("bad data")
			}
			return tile.ID, nil
		})
	require.NoError(t, err)
	assert.Len(t, result.Results, 2)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, model.TileID(0, 1), result.Failures[0].Tile.ID)
}

func TestDispatchFailFast(t *testing.T) {
	tiles, err := NewTiler(100).Tiles(testRegion(0, 0, 300, 100, 1))
	require.NoError(t, err)

	_, err = Dispatch(context.Background(), testLogger(), tiles, DispatchOptions{NProcs: 1, Policy: FailFast},
		func(ctx context.Context, tile model.Tile, memoryMB int) (string, error) {
			return "", fmt.Errorf("bad data")
		})
	assert.Error(t, err)
}

func TestDispatchAllTilesFailed(t *testing.T) {
	tiles, err := NewTiler(100).Tiles(testRegion(0, 0, 300, 100, 1))
	require.NoError(t, err)

	_, err = Dispatch(context.Background(), testLogger(), tiles, DispatchOptions{NProcs: 2},
		func(ctx context.Context, tile model.Tile, memoryMB int) (string, error) {
			return "", fmt.Errorf("bad data")
		})
	assert.Error(t, err)
}

func TestDispatchParallelismDoesNotChangeResults(t *testing.T) {
	tiles, err := NewTiler(50).Tiles(testRegion(0, 0, 400, 200, 1))
	require.NoError(t, err)

	worker := func(ctx context.Context, tile model.Tile, memoryMB int) (string, error) {
		return tile.ID, nil
	}
	serial, err := Dispatch(context.Background(), testLogger(), tiles, DispatchOptions{NProcs: 1}, worker)
	require.NoError(t, err)
	parallel, err := Dispatch(context.Background(), testLogger(), tiles, DispatchOptions{NProcs: 8}, worker)
	require.NoError(t, err)

	require.Equal(t, len(serial.Results), len(parallel.Results))
	for i := range serial.Results {
		assert.Equal(t, serial.Results[i].Output, parallel.Results[i].Output)
	}
}

func TestDispatchSplitsMemoryBudget(t *testing.T) {
	tiles, err := NewTiler(100).Tiles(testRegion(0, 0, 400, 100, 1))
	require.NoError(t, err)

	result, err := Dispatch(context.Background(), testLogger(), tiles, DispatchOptions{NProcs: 4, MemoryMB: 1000},
		func(ctx context.Context, tile model.Tile, memoryMB int) (int, error) {
			return memoryMB, nil
		})
	require.NoError(t, err)
	for _, res := range result.Results {
		assert.Equal(t, 250, res.Output)
	}
}
