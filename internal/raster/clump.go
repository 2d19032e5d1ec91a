package raster

import "math"

// Clump labels connected components of non-null cells. With diagonal=false
// only edge-adjacent cells join a clump (the behavior peak clumping relies
// on). Labels start at 1. Returns the label grid and the number of clumps.
func (g *Grid) Clump(name string, diagonal bool) (*Grid, int) {
	out := NewGrid(name, g.Region)
	next := 0
	var offsets [][2]int
	if diagonal {
		offsets = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}, {-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
	} else {
		offsets = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	}
	stack := make([][2]int, 0, 1024)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if g.IsNull(row, col) || !out.IsNull(row, col) {
				continue
			}
			next++
			label := float64(next)
			stack = stack[:0]
			stack = append(stack, [2]int{row, col})
			out.Set(row, col, label)
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				for _, off := range offsets {
					r, c := cur[0]+off[0], cur[1]+off[1]
					if r < 0 || r >= g.Rows || c < 0 || c >= g.Cols {
						continue
					}
					if g.IsNull(r, c) || !out.IsNull(r, c) {
						continue
					}
					out.Set(r, c, label)
					stack = append(stack, [2]int{r, c})
				}
			}
		}
	}
	return out, next
}

// ClumpSizes returns the cell count per clump label.
func ClumpSizes(labels *Grid) map[int]int {
	sizes := map[int]int{}
	for _, v := range labels.Data {
		if !math.IsNaN(v) {
			sizes[int(v)]++
		}
	}
	return sizes
}
