package inference

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"comovecli/internal/config"
	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// aucCheck labels each observation by whether its correlation exceeds
// the threshold (per-period median by default, a pooled median, or a
// fixed global cut) and measures how well similarity discriminates the
// label.
func (e *Engine) aucCheck(observations []domain.AlignedObservation) (*domain.AUCResult, error) {
	if len(observations) == 0 {
		return nil, apperrors.NewInsufficientDataError("no aligned observations", nil)
	}

	labels := make([]bool, len(observations))
	scores := make([]float64, len(observations))
	switch e.aucThreshold.Mode {
	case config.ThresholdFixed:
		for i, o := range observations {
			labels[i] = o.Correlation > e.aucThreshold.Value
			scores[i] = o.Similarity
		}
	case config.ThresholdPooledMedian:
		median := pooledMedian(observations)
		for i, o := range observations {
			labels[i] = o.Correlation > median
			scores[i] = o.Similarity
		}
	default: // per-period median
		medians := periodMedians(observations)
		for i, o := range observations {
			labels[i] = o.Correlation > medians[o.Period]
			scores[i] = o.Similarity
		}
	}

	positives, negatives := 0, 0
	for _, l := range labels {
		if l {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return nil, apperrors.NewDegenerateLabelError(
			fmt.Sprintf("labels are one-class (%d positive, %d negative)", positives, negatives), nil)
	}

	// Mann-Whitney form: AUC from the rank sum of positive scores,
	// with average ranks handling ties.
	ranked := ranks(scores)
	rankSum := 0.0
	for i, l := range labels {
		if l {
			rankSum += ranked[i]
		}
	}
	nPos, nNeg := float64(positives), float64(negatives)
	auc := (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)

	return &domain.AUCResult{
		AUC:       auc,
		Positives: positives,
		Negatives: negatives,
		Curve:     rocCurve(scores, labels, positives, negatives),
	}, nil
}

func pooledMedian(observations []domain.AlignedObservation) float64 {
	values := make([]float64, len(observations))
	for i, o := range observations {
		values[i] = o.Correlation
	}
	sort.Float64s(values)
	return stat.Quantile(0.5, stat.Empirical, values, nil)
}

func periodMedians(observations []domain.AlignedObservation) map[domain.Period]float64 {
	byPeriod := make(map[domain.Period][]float64)
	for _, o := range observations {
		byPeriod[o.Period] = append(byPeriod[o.Period], o.Correlation)
	}
	medians := make(map[domain.Period]float64, len(byPeriod))
	for p, values := range byPeriod {
		sort.Float64s(values)
		medians[p] = stat.Quantile(0.5, stat.Empirical, values, nil)
	}
	return medians
}

// rocCurve sweeps a descending score threshold over the distinct
// scores, recording one operating point per threshold.
func rocCurve(scores []float64, labels []bool, positives, negatives int) []domain.ROCPoint {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	curve := []domain.ROCPoint{{Threshold: scores[idx[0]] + 1, TPR: 0, FPR: 0}}
	tp, fp := 0, 0
	for i := 0; i < len(idx); {
		threshold := scores[idx[i]]
		for i < len(idx) && scores[idx[i]] == threshold {
			if labels[idx[i]] {
				tp++
			} else {
				fp++
			}
			i++
		}
		curve = append(curve, domain.ROCPoint{
			Threshold: threshold,
			TPR:       float64(tp) / float64(positives),
			FPR:       float64(fp) / float64(negatives),
		})
	}
	return curve
}
