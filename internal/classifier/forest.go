// Package classifier implements the random-forest pixel classifier of the
// tree detection pipeline and its persistence as an opaque model artifact.
package classifier

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"urban_analysis/internal/domain/model"
)

// Params configure forest training.
type Params struct {
	Trees    int   // number of trees in the ensemble
	MaxDepth int   // maximum tree depth, 0 for unbounded
	MinLeaf  int   // minimum samples per leaf
	Seed     int64 // RNG seed for bootstrap and feature sampling
}

// DefaultParams returns the training defaults.
func DefaultParams() Params {
	return Params{Trees: 100, MaxDepth: 12, MinLeaf: 2, Seed: 1}
}

// Node is one decision-tree node. Fields are exported for gob encoding.
type Node struct {
	Feature   int     // split feature index, -1 on leaves
	Threshold float64 // split threshold, left when value <= threshold
	Left      *Node
	Right     *Node
	Label     int // majority class on leaves
}

// Forest is a trained ensemble. Predictions are the majority vote of the
// member trees.
type Forest struct {
	Roots       []*Node
	NumFeatures int
}

// Train fits a bagged ensemble of decision trees on the labeled samples.
func Train(samples []model.LabeledSample, p Params) (*Forest, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no training samples given")
	}
	if p.Trees <= 0 {
		return nil, fmt.Errorf("number of trees must be positive, got %d", p.Trees)
	}
	nFeatures := len(samples[0].Features)
	for i, s := range samples {
		if len(s.Features) != nFeatures {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(s.Features), nFeatures)
		}
	}
	if p.MinLeaf < 1 {
		p.MinLeaf = 1
	}
	mtry := int(math.Ceil(math.Sqrt(float64(nFeatures))))

	rng := rand.New(rand.NewSource(p.Seed))
	forest := &Forest{NumFeatures: nFeatures}
	for t := 0; t < p.Trees; t++ {
		boot := make([]model.LabeledSample, len(samples))
		for i := range boot {
			boot[i] = samples[rng.Intn(len(samples))]
		}
		forest.Roots = append(forest.Roots, growTree(boot, mtry, p.MaxDepth, p.MinLeaf, rng))
	}
	return forest, nil
}

// Predict returns the majority-vote class for one feature vector.
func (f *Forest) Predict(features []float64) int {
	votes := map[int]int{}
	for _, root := range f.Roots {
		votes[predictTree(root, features)]++
	}
	best, bestVotes := 0, -1
	for label, n := range votes {
		if n > bestVotes || (n == bestVotes && label < best) {
			best, bestVotes = label, n
		}
	}
	return best
}

func predictTree(n *Node, features []float64) int {
	for n.Feature >= 0 {
		if features[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Label
}

func growTree(samples []model.LabeledSample, mtry, maxDepth, minLeaf int, rng *rand.Rand) *Node {
	if maxDepth == 0 {
		maxDepth = math.MaxInt32
	}
	return split(samples, mtry, maxDepth, minLeaf, rng)
}

func split(samples []model.LabeledSample, mtry, depth, minLeaf int, rng *rand.Rand) *Node {
	if depth <= 0 || len(samples) < 2*minLeaf || pure(samples) {
		return &Node{Feature: -1, Label: majority(samples)}
	}
	nFeatures := len(samples[0].Features)
	features := rng.Perm(nFeatures)[:mtry]

	bestGini := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0
	vals := make([]float64, 0, len(samples))
	for _, fi := range features {
		vals = vals[:0]
		for _, s := range samples {
			vals = append(vals, s.Features[fi])
		}
		sort.Float64s(vals)
		for i := 1; i < len(vals); i++ {
			if vals[i] == vals[i-1] {
				continue
			}
			threshold := (vals[i] + vals[i-1]) / 2
			g, ok := splitGini(samples, fi, threshold, minLeaf)
			if ok && g < bestGini {
				bestGini, bestFeature, bestThreshold = g, fi, threshold
			}
		}
	}
	if bestFeature < 0 {
		return &Node{Feature: -1, Label: majority(samples)}
	}

	var left, right []model.LabeledSample
	for _, s := range samples {
		if s.Features[bestFeature] <= bestThreshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return &Node{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      split(left, mtry, depth-1, minLeaf, rng),
		Right:     split(right, mtry, depth-1, minLeaf, rng),
	}
}

func splitGini(samples []model.LabeledSample, feature int, threshold float64, minLeaf int) (float64, bool) {
	leftCounts := map[int]int{}
	rightCounts := map[int]int{}
	nLeft, nRight := 0, 0
	for _, s := range samples {
		if s.Features[feature] <= threshold {
			leftCounts[s.Label]++
			nLeft++
		} else {
			rightCounts[s.Label]++
			nRight++
		}
	}
	if nLeft < minLeaf || nRight < minLeaf {
		return 0, false
	}
	total := float64(nLeft + nRight)
	return float64(nLeft)/total*gini(leftCounts, nLeft) +
		float64(nRight)/total*gini(rightCounts, nRight), true
}

func gini(counts map[int]int, n int) float64 {
	g := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		g -= p * p
	}
	return g
}

func pure(samples []model.LabeledSample) bool {
	for _, s := range samples[1:] {
		if s.Label != samples[0].Label {
			return false
		}
	}
	return true
}

func majority(samples []model.LabeledSample) int {
	counts := map[int]int{}
	for _, s := range samples {
		counts[s.Label]++
	}
	best, bestCount := 0, -1
	for label, n := range counts {
		if n > bestCount || (n == bestCount && label < best) {
			best, bestCount = label, n
		}
	}
	return best
}
