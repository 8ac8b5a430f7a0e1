// Package similarity computes all-pairs cosine similarity between firm
// period vectors. Vectors are unit-norm, so cosine reduces to a dot
// product and a whole period reduces to one Gram matrix product.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// NormTolerance is the accepted deviation from unit norm before a
// vector is re-normalized and a data-quality warning logged.
const NormTolerance = 1e-6

// Computer produces SimilarityPair relations per period.
type Computer struct {
	modelTag string
	logger   *slog.Logger
}

// NewComputer creates a similarity computer. modelTag labels output
// pairs with the embedding model that produced the vectors.
func NewComputer(modelTag string, logger *slog.Logger) *Computer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Computer{modelTag: modelTag, logger: logger}
}

// ComputePeriod emits one SimilarityPair for every unordered pair of
// distinct firms with vectors in the period. Self pairs are excluded
// and only the canonical (firm_i < firm_j) direction is stored. Output
// is sorted by (firm_i, firm_j) for deterministic downstream joins.
func (c *Computer) ComputePeriod(ctx context.Context, period domain.Period, vectors []domain.FirmPeriodVector) ([]domain.SimilarityPair, error) {
	if len(vectors) < 2 {
		return nil, nil
	}

	ordered := make([]domain.FirmPeriodVector, len(vectors))
	copy(ordered, vectors)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].FirmID < ordered[j].FirmID })

	dim := ordered[0].Dimension()
	for _, v := range ordered[1:] {
		if v.Dimension() != dim {
			return nil, apperrors.NewDimensionMismatchError(
				fmt.Sprintf("firm %s has dimension %d, expected %d", v.FirmID, v.Dimension(), dim), nil).
				WithContext("period", period.String())
		}
	}

	n := len(ordered)
	data := make([]float64, n*dim)
	for i, v := range ordered {
		row := v.Vector
		// The selector guarantees unit norm; do not trust it blindly.
		if norm := v.Norm(); math.Abs(norm-1) > NormTolerance {
			c.logger.WarnContext(ctx, "vector not unit-norm, re-normalizing",
				"firm_id", v.FirmID,
				"period", period.String(),
				"norm", norm,
			)
			row = make([]float64, dim)
			for k, x := range v.Vector {
				row[k] = x / norm
			}
		}
		copy(data[i*dim:(i+1)*dim], row)
	}

	x := mat.NewDense(n, dim, data)
	var gram mat.Dense
	gram.Mul(x, x.T())

	pairs := make([]domain.SimilarityPair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			firmI, firmJ := domain.CanonicalPair(ordered[i].FirmID, ordered[j].FirmID)
			// A pair-level tag is only meaningful when both sides were
			// selected from the same section.
			sectionTag := ordered[i].SectionTag
			if ordered[j].SectionTag != sectionTag {
				sectionTag = ""
			}
			pairs = append(pairs, domain.SimilarityPair{
				Period:     period,
				FirmI:      firmI,
				FirmJ:      firmJ,
				Value:      clamp(gram.At(i, j)),
				SectionTag: sectionTag,
				ModelTag:   c.modelTag,
			})
		}
	}

	c.logger.InfoContext(ctx, "similarity computation completed",
		"period", period.String(),
		"firms", n,
		"pairs", len(pairs),
	)
	return pairs, nil
}

// clamp bounds a cosine against floating-point drift outside [-1, 1].
func clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// SortPairs orders pairs by (period, firm_i, firm_j), the canonical
// emission order.
func SortPairs(pairs []domain.SimilarityPair) {
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if cmp := a.Period.Compare(b.Period); cmp != 0 {
			return cmp < 0
		}
		if a.FirmI != b.FirmI {
			return a.FirmI < b.FirmI
		}
		return a.FirmJ < b.FirmJ
	})
}
