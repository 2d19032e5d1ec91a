package model

// ChangeClass partitions change-detection results.
type ChangeClass string

const (
	// ChangeCongruent marks geometry present in both compared layers above
	// the configured overlap threshold.
	ChangeCongruent ChangeClass = "congruent"
	// ChangeOnlyA marks geometry present only in the first layer.
	ChangeOnlyA ChangeClass = "only_a"
	// ChangeOnlyB marks geometry present only in the second layer.
	ChangeOnlyB ChangeClass = "only_b"
)

// ChangeResult groups difference polygons by partition and carries the optional
// quality measures of the building change detection.
type ChangeResult struct {
	Congruent *VectorLayer
	OnlyA     *VectorLayer
	OnlyB     *VectorLayer

	// Quality assessment, filled when requested.
	// Completeness = correctly identified area / total area in reference.
	// Correctness = correctly identified area / total area in input.
	AreaInput      float64
	AreaReference  float64
	AreaIdentified float64
}

func (r *ChangeResult) Completeness() float64 {
	if r.AreaReference == 0 {
		return 0
	}
	return r.AreaIdentified / r.AreaReference
}

func (r *ChangeResult) Correctness() float64 {
	if r.AreaInput == 0 {
		return 0
	}
	return r.AreaIdentified / r.AreaInput
}
