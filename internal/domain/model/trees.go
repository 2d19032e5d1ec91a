package model

import "github.com/paulmach/orb"

// Species classification of a tree crown.
type Species string

const (
	SpeciesDeciduous Species = "deciduous"
	SpeciesConifer   Species = "conifer"
)

// CrownParams holds the computed parameters of a single tree crown.
// Distances are negative when no neighbor was found within the search limit.
type CrownParams struct {
	Cat          int       `json:"cat"`
	PeakID       int       `json:"peak_id"`
	HeightMax    float64   `json:"height_max"`
	HeightP95    float64   `json:"height_p95"`
	Area         float64   `json:"area_sqm"`
	Perimeter    float64   `json:"perimeter"`
	Diameter     float64   `json:"diameter"`
	Volume       float64   `json:"volume"`
	MeanNDVI     float64   `json:"mean_ndvi"`
	StemPosition orb.Point `json:"stem_position"`
	DistBuilding float64   `json:"dist_building"`
	DistTree     float64   `json:"dist_tree"`
}

// VolumeEstimator computes a crown volume from height and diameter. The
// exact formula is empirically determined and therefore pluggable.
type VolumeEstimator func(height, diameter float64) float64

// LabeledSample is one labeled pixel used for classifier training.
type LabeledSample struct {
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
}

// Tree pipeline class labels.
const (
	LabelNonTree = 0
	LabelTree    = 1
)
