package domain

import (
	"fmt"
	"math"
	"time"
)

// DocumentEmbedding is one raw embedding record produced upstream for a
// single filing document (or an upstream aggregate of its chunks).
type DocumentEmbedding struct {
	DocumentID string    `json:"document_id" validate:"required"`
	FirmID     string    `json:"firm_id" validate:"required"`
	Period     Period    `json:"period"`
	SectionTag string    `json:"section_tag,omitempty"`
	FilingDate time.Time `json:"filing_date"`
	Vector     []float64 `json:"vector" validate:"required,min=1"`
}

// Dimension returns the embedding dimensionality.
func (d DocumentEmbedding) Dimension() int {
	return len(d.Vector)
}

// FirmPeriodVector is the one representative vector chosen for a firm in
// an analysis period. The vector is unit-norm by construction and the
// record is immutable once created; a later filing for the same period
// produces a superseding record, never a mutation.
type FirmPeriodVector struct {
	FirmID     string    `json:"firm_id"`
	Period     Period    `json:"period"`
	SectionTag string    `json:"section_tag,omitempty"`
	Vector     []float64 `json:"vector"`
	AsOfDate   time.Time `json:"as_of_date"`
}

// NewFirmPeriodVector constructs a firm-period vector, copying and
// re-normalizing the input to unit length. A zero vector cannot be
// normalized and is rejected.
func NewFirmPeriodVector(firmID string, period Period, sectionTag string, vector []float64, asOf time.Time) (FirmPeriodVector, error) {
	if len(vector) == 0 {
		return FirmPeriodVector{}, fmt.Errorf("empty vector for firm %s period %s", firmID, period)
	}
	var sumSq float64
	for _, v := range vector {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return FirmPeriodVector{}, fmt.Errorf("vector for firm %s period %s has invalid norm %v", firmID, period, norm)
	}
	normalized := make([]float64, len(vector))
	for i, v := range vector {
		normalized[i] = v / norm
	}
	return FirmPeriodVector{
		FirmID:     firmID,
		Period:     period,
		SectionTag: sectionTag,
		Vector:     normalized,
		AsOfDate:   asOf,
	}, nil
}

// Norm returns the Euclidean norm of the stored vector.
func (v FirmPeriodVector) Norm() float64 {
	var sumSq float64
	for _, x := range v.Vector {
		sumSq += x * x
	}
	return math.Sqrt(sumSq)
}

// Dimension returns the vector dimensionality.
func (v FirmPeriodVector) Dimension() int {
	return len(v.Vector)
}
