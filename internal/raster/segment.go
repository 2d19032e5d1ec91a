package raster

import (
	"fmt"
	"math"
)

// Segment groups cells into spectrally homogeneous regions over one or more
// bands (region growing). A neighbor joins a segment while its normalized
// feature distance to the running segment mean stays below threshold.
// Segments smaller than minsize are absorbed into the most similar adjacent
// segment. Returns a label grid with labels starting at 1.
//
// This is the boundary-refinement step of the extraction pipelines; it is
// strictly more accurate and strictly slower than per-pixel classification
// and must be enabled explicitly by the caller.
func Segment(name string, threshold float64, minsize int, bands ...*Grid) (*Grid, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("segmentation needs at least one band")
	}
	first := bands[0]
	for _, b := range bands[1:] {
		if b.Rows != first.Rows || b.Cols != first.Cols {
			return nil, fmt.Errorf("segmentation band %q does not match %q in size", b.Name, first.Name)
		}
	}
	norm := make([][]float64, len(bands))
	for i, b := range bands {
		norm[i] = normalizeBand(b)
	}
	nCells := first.Rows * first.Cols
	labels := make([]int, nCells)

	valid := func(idx int) bool {
		for _, band := range norm {
			if math.IsNaN(band[idx]) {
				return false
			}
		}
		return true
	}

	type segment struct {
		sum   []float64
		count int
	}
	segments := []*segment{nil} // label 0 unused

	neighbors := func(idx int) []int {
		row, col := idx/first.Cols, idx%first.Cols
		var out []int
		if row > 0 {
			out = append(out, idx-first.Cols)
		}
		if row < first.Rows-1 {
			out = append(out, idx+first.Cols)
		}
		if col > 0 {
			out = append(out, idx-1)
		}
		if col < first.Cols-1 {
			out = append(out, idx+1)
		}
		return out
	}

	dist := func(seg *segment, idx int) float64 {
		var sum float64
		for i := range norm {
			d := seg.sum[i]/float64(seg.count) - norm[i][idx]
			sum += d * d
		}
		return math.Sqrt(sum)
	}

	queue := make([]int, 0, 1024)
	for start := 0; start < nCells; start++ {
		if labels[start] != 0 || !valid(start) {
			continue
		}
		seg := &segment{sum: make([]float64, len(norm))}
		segments = append(segments, seg)
		label := len(segments) - 1
		labels[start] = label
		addCell := func(idx int) {
			for i := range norm {
				seg.sum[i] += norm[i][idx]
			}
			seg.count++
		}
		addCell(start)
		queue = queue[:0]
		queue = append(queue, start)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range neighbors(cur) {
				if labels[nb] != 0 || !valid(nb) {
					continue
				}
				if dist(seg, nb) < threshold {
					labels[nb] = label
					addCell(nb)
					queue = append(queue, nb)
				}
			}
		}
	}

	// absorb small segments into the most similar neighboring segment
	sizes := make([]int, len(segments))
	for _, l := range labels {
		if l > 0 {
			sizes[l]++
		}
	}
	for idx := 0; idx < nCells; idx++ {
		l := labels[idx]
		if l == 0 || sizes[l] >= minsize {
			continue
		}
		bestLabel := 0
		bestDist := math.Inf(1)
		for _, nb := range neighbors(idx) {
			nl := labels[nb]
			if nl == 0 || nl == l || sizes[nl] < minsize {
				continue
			}
			if d := dist(segments[nl], idx); d < bestDist {
				bestDist = d
				bestLabel = nl
			}
		}
		if bestLabel != 0 {
			labels[idx] = bestLabel
		}
	}

	out := NewGrid(name, first.Region)
	for idx, l := range labels {
		if l > 0 {
			out.Data[idx] = float64(l)
		}
	}
	return out, nil
}

func normalizeBand(g *Grid) []float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range g.Data {
		if math.IsNaN(v) {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(g.Data))
	span := max - min
	for i, v := range g.Data {
		if math.IsNaN(v) || span == 0 {
			if math.IsNaN(v) {
				out[i] = math.NaN()
			}
			continue
		}
		out[i] = (v - min) / span
	}
	return out
}
