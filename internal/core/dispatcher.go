package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"urban_analysis/internal/domain/model"
)

// FailurePolicy decides how the dispatcher reacts to a failing tile worker.
type FailurePolicy int

const (
	// ContinueOnError records the failure, excludes the tile from the merge
	// and keeps processing the remaining tiles (default behavior).
	ContinueOnError FailurePolicy = iota
	// FailFast aborts the whole run on the first failing tile.
	FailFast
)

// DispatchOptions bound the parallel run.
type DispatchOptions struct {
	// NProcs is the parallelism degree. Positive values are used as-is;
	// non-positive values mean "available cores minus |NProcs|", floored
	// at 1.
	NProcs int
	// MemoryMB is the total memory budget, divided among the workers.
	MemoryMB int
	Policy   FailurePolicy
}

// ResolveProcs translates the nprocs convention into a worker count, capped
// at the number of tiles.
func (o DispatchOptions) ResolveProcs(numTiles int) int {
	procs := o.NProcs
	if procs <= 0 {
		procs = runtime.NumCPU() + procs
		if procs < 1 {
			procs = 1
		}
	}
	if numTiles > 0 && procs > numTiles {
		procs = numTiles
	}
	return procs
}

// TileWorker runs the per-tile operation. The memory argument is this
// worker's share of the run budget in MB, a soft cap forwarded to the
// underlying operations.
type TileWorker[T any] func(ctx context.Context, tile model.Tile, memoryMB int) (T, error)

// TileResult pairs a tile with its worker output.
type TileResult[T any] struct {
	Tile   model.Tile
	Output T
}

// TileFailure records a failed tile.
type TileFailure struct {
	Tile model.Tile
	Err  error
}

// DispatchResult collects the outcome of a tiled run. Result order follows
// tile order, not completion order; callers must not depend on completion
// order anyway.
type DispatchResult[T any] struct {
	Results  []TileResult[T]
	Failures []TileFailure
}

// Dispatch fans the worker out over the tiles with bounded concurrency.
// Every worker gets its own isolated inputs (the tile region); shared state
// is read-only by contract. With ContinueOnError the error return is non-nil
// only when every tile failed.
func Dispatch[T any](ctx context.Context, logger zerolog.Logger, tiles []model.Tile, opts DispatchOptions, worker TileWorker[T]) (*DispatchResult[T], error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to process")
	}
	procs := opts.ResolveProcs(len(tiles))
	memory := opts.MemoryMB
	if memory > 0 && procs > 0 {
		memory = memory / procs
	}
	logger.Info().
		Int("tiles", len(tiles)).
		Int("nprocs", procs).
		Int("memory_mb_per_proc", memory).
		Msg("dispatching tile workers")

	var mu sync.Mutex
	results := make([]TileResult[T], 0, len(tiles))
	var failures []TileFailure

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(procs)
	for _, tile := range tiles {
		tile := tile
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := worker(ctx, tile, memory)
			if err != nil {
				if opts.Policy == FailFast {
					return fmt.Errorf("tile %s failed: %w", tile.ID, err)
				}
				logger.Warn().Str("tile", tile.ID).Err(err).Msg("tile failed, excluded from merge")
				mu.Lock()
				failures = append(failures, TileFailure{Tile: tile, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results = append(results, TileResult[T]{Tile: tile, Output: out})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// restore tile order for deterministic downstream processing
	sortByTileID(results)

	logger.Info().
		Int("succeeded", len(results)).
		Int("failed", len(failures)).
		Msg("tile workers finished")
	if len(results) == 0 {
		return nil, fmt.Errorf("all %d tiles failed, first error: %w", len(failures), failures[0].Err)
	}
	return &DispatchResult[T]{Results: results, Failures: failures}, nil
}

func sortByTileID[T any](results []TileResult[T]) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && tileLess(results[j].Tile, results[j-1].Tile); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func tileLess(a, b model.Tile) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}
