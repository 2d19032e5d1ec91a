package raster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"urban_analysis/internal/domain/model"
)

// Vectorize turns a labeled grid into polygon features, one feature per
// connected area of equal label. The original cell value is stored in the
// "value" attribute; cats are assigned sequentially in label order so that
// output is deterministic. Holes smaller than fillGap square map units are
// dropped (rmarea-style gap filling); pass 0 to keep all holes.
func Vectorize(labels *Grid, fillGap float64) []model.Feature {
	cells := map[int][][2]int{}
	for row := 0; row < labels.Rows; row++ {
		for col := 0; col < labels.Cols; col++ {
			v := labels.Get(row, col)
			if math.IsNaN(v) {
				continue
			}
			label := int(v)
			cells[label] = append(cells[label], [2]int{row, col})
		}
	}
	labelIDs := make([]int, 0, len(cells))
	for label := range cells {
		labelIDs = append(labelIDs, label)
	}
	sort.Ints(labelIDs)

	var features []model.Feature
	cat := 0
	for _, label := range labelIDs {
		rings := traceRings(labels, label, cells[label])
		outers, holes := splitRings(rings)
		for _, outer := range outers {
			poly := orb.Polygon{outer}
			for _, hole := range holes {
				if holeArea(hole) < fillGap {
					continue
				}
				if planar.RingContains(outer, hole[0]) {
					poly = append(poly, hole)
				}
			}
			cat++
			f := model.NewFeature(cat, poly)
			f.Attrs["value"] = label
			features = append(features, f)
		}
	}
	return features
}

type latticeEdge struct {
	from, to [2]int // lattice points (col, row)
}

// traceRings builds the boundary rings of all cells carrying the label.
// Directed boundary edges keep the interior on the left in map coordinates,
// so outer rings come out counterclockwise and holes clockwise.
func traceRings(g *Grid, label int, cells [][2]int) []orb.Ring {
	inside := func(row, col int) bool {
		v := g.Get(row, col)
		return !math.IsNaN(v) && int(v) == label
	}

	// start point -> outgoing edges
	edges := map[[2]int][]latticeEdge{}
	addEdge := func(from, to [2]int) {
		edges[from] = append(edges[from], latticeEdge{from: from, to: to})
	}
	for _, cell := range cells {
		row, col := cell[0], cell[1]
		nw := [2]int{col, row}
		ne := [2]int{col + 1, row}
		sw := [2]int{col, row + 1}
		se := [2]int{col + 1, row + 1}
		if !inside(row-1, col) {
			addEdge(ne, nw)
		}
		if !inside(row+1, col) {
			addEdge(sw, se)
		}
		if !inside(row, col-1) {
			addEdge(nw, sw)
		}
		if !inside(row, col+1) {
			addEdge(se, ne)
		}
	}

	// deterministic start points keep the output independent of map
	// iteration order
	starts := make([][2]int, 0, len(edges))
	for p := range edges {
		starts = append(starts, p)
	}
	sort.Slice(starts, func(i, j int) bool {
		if starts[i][1] != starts[j][1] {
			return starts[i][1] < starts[j][1]
		}
		return starts[i][0] < starts[j][0]
	})

	var rings []orb.Ring
	for _, start := range starts {
		for len(edges[start]) > 0 {
			ring := traceOne(edges, start)
			if len(ring) >= 4 {
				rings = append(rings, latticeToRing(g, ring))
			}
		}
	}
	return rings
}

// traceOne follows directed edges from start until the ring closes. Where a
// lattice point has two outgoing edges (diagonally touching cells of the
// same label) the turn that keeps hugging the interior on the left is taken,
// so the touching areas stay separate rings.
func traceOne(edges map[[2]int][]latticeEdge, start [2]int) [][2]int {
	ring := [][2]int{start}
	cur := start
	var dir [2]int
	for {
		candidates := edges[cur]
		if len(candidates) == 0 {
			break
		}
		pick := 0
		if len(candidates) > 1 && (dir != [2]int{}) {
			// lattice rows grow southward, so the leftmost turn in map
			// coordinates is the minimal cross product here
			best := 3
			for i, e := range candidates {
				d := [2]int{e.to[0] - e.from[0], e.to[1] - e.from[1]}
				cross := dir[0]*d[1] - dir[1]*d[0]
				if cross < best {
					best = cross
					pick = i
				}
			}
		}
		e := candidates[pick]
		edges[cur] = append(candidates[:pick], candidates[pick+1:]...)
		dir = [2]int{e.to[0] - e.from[0], e.to[1] - e.from[1]}
		cur = e.to
		ring = append(ring, cur)
		if cur == start {
			break
		}
	}
	return ring
}

func latticeToRing(g *Grid, lattice [][2]int) orb.Ring {
	ring := make(orb.Ring, len(lattice))
	res := g.Region.Res
	for i, p := range lattice {
		ring[i] = orb.Point{
			g.Region.West + float64(p[0])*res,
			g.Region.North - float64(p[1])*res,
		}
	}
	return ring
}

func splitRings(rings []orb.Ring) (outers, holes []orb.Ring) {
	for _, ring := range rings {
		if ringSignedArea(ring) > 0 {
			outers = append(outers, ring)
		} else {
			holes = append(holes, ring)
		}
	}
	return outers, holes
}

func ringSignedArea(ring orb.Ring) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

func holeArea(ring orb.Ring) float64 {
	return math.Abs(ringSignedArea(ring))
}
