// Package trees implements the individual-tree pipeline: peak detection and
// nearest-peak assignment, weak-label training data, classifier application,
// crown delineation, per-crown parameters and species classification. The
// stages consume each other's outputs and may be invoked separately.
package trees

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"urban_analysis/internal/raster"
)

// PeakParams configure peak detection.
type PeakParams struct {
	// MinHeight is the nDSM floor below which no peak can exist.
	MinHeight float64
	// FormsRes is the coarse resolution the nDSM is aggregated to before
	// maximum detection, so one crown yields one maximum. Zero keeps the
	// working resolution.
	FormsRes float64
	// SearchRadius bounds the nearest-peak assignment in map units, the
	// plausibility radius of a single crown.
	SearchRadius float64
}

// PeakResult bundles the peak stage outputs consumed by the later stages.
type PeakResult struct {
	// Peaks holds the peak label at peak cells, NoData elsewhere.
	Peaks *raster.Grid
	// Nearest holds, per pixel, the label of the nearest peak within the
	// search radius.
	Nearest *raster.Grid
	// Slope in degrees, derived from the nDSM.
	Slope *raster.Grid
}

// DetectPeaks finds local nDSM maxima and assigns every pixel to its nearest
// peak.
func DetectPeaks(ndsm *raster.Grid, p PeakParams, logger zerolog.Logger) (*PeakResult, error) {
	if ndsm == nil {
		return nil, fmt.Errorf("ndsm raster is required")
	}
	if p.SearchRadius <= 0 {
		return nil, fmt.Errorf("peak search radius must be positive, got %g", p.SearchRadius)
	}

	logger.Info().Msg("detecting local maxima")
	work := ndsm
	coarse := false
	if p.FormsRes > ndsm.Region.Res {
		forms, err := ndsm.ResampleMax("ndsm_forms", p.FormsRes)
		if err != nil {
			return nil, err
		}
		work = forms
		coarse = true
	}
	focalMax, err := work.Focal("ndsm_focal_max", raster.FocalMax, 3)
	if err != nil {
		return nil, err
	}
	peakMask := raster.NewGrid("peak_mask", work.Region)
	for i, v := range work.Data {
		if math.IsNaN(v) || v <= p.MinHeight {
			continue
		}
		if v >= focalMax.Data[i] {
			peakMask.Data[i] = 1
		}
	}
	peaks, nPeaks := peakMask.Clump("peaks", true)
	if coarse {
		peaks = peaks.ProjectTo("peaks", ndsm.Region)
	}
	logger.Info().Int("peaks", nPeaks).Msg("peaks detected")

	logger.Info().Msg("assigning pixels to nearest peaks")
	nearest := assignNearest(peaks, p.SearchRadius)

	return &PeakResult{
		Peaks:   peaks,
		Nearest: nearest,
		Slope:   ndsm.Slope("slope"),
	}, nil
}

type peakCell struct {
	row, col int
	srcRow   int
	srcCol   int
	peak     int
	dist     float64
}

type peakQueue []peakCell

func (q peakQueue) Len() int            { return len(q) }
func (q peakQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q peakQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *peakQueue) Push(x interface{}) { *q = append(*q, x.(peakCell)) }
func (q *peakQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// assignNearest grows outward from every peak cell simultaneously, always
// expanding the cell with the smallest euclidean distance to its source
// peak. Each pixel ends up with the closest peak within the radius.
func assignNearest(peaks *raster.Grid, radius float64) *raster.Grid {
	nearest := raster.NewGrid("nearest_peak", peaks.Region)
	res := peaks.Region.Res

	q := &peakQueue{}
	heap.Init(q)
	for row := 0; row < peaks.Rows; row++ {
		for col := 0; col < peaks.Cols; col++ {
			v := peaks.Get(row, col)
			if !math.IsNaN(v) {
				heap.Push(q, peakCell{row: row, col: col, srcRow: row, srcCol: col, peak: int(v)})
			}
		}
	}

	for q.Len() > 0 {
		cell := heap.Pop(q).(peakCell)
		if !math.IsNaN(nearest.Get(cell.row, cell.col)) {
			continue
		}
		nearest.Set(cell.row, cell.col, float64(cell.peak))
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				if dr == 0 && dc == 0 {
					continue
				}
				nr, nc := cell.row+dr, cell.col+dc
				if nr < 0 || nr >= peaks.Rows || nc < 0 || nc >= peaks.Cols {
					continue
				}
				if !math.IsNaN(nearest.Get(nr, nc)) {
					continue
				}
				dist := math.Hypot(float64(nr-cell.srcRow), float64(nc-cell.srcCol)) * res
				if dist > radius {
					continue
				}
				heap.Push(q, peakCell{
					row: nr, col: nc,
					srcRow: cell.srcRow, srcCol: cell.srcCol,
					peak: cell.peak, dist: dist,
				})
			}
		}
	}
	return nearest
}
