package inference

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// decileCheck buckets observations into similarity deciles and reports
// the correlation distribution per bucket with a Spearman monotonicity
// statistic. Bucketing is by similarity rank, pooled across periods or
// within each period depending on configuration.
func (e *Engine) decileCheck(observations []domain.AlignedObservation) (*domain.DecileResult, error) {
	d := e.decileCount
	if len(observations) < d {
		return nil, apperrors.NewInsufficientDataError(
			fmt.Sprintf("%d observations for %d buckets", len(observations), d), nil)
	}

	assignments := make(map[int][]domain.AlignedObservation, d)
	if e.perPeriodDeciles {
		byPeriod := make(map[domain.Period][]domain.AlignedObservation)
		for _, o := range observations {
			byPeriod[o.Period] = append(byPeriod[o.Period], o)
		}
		for _, group := range byPeriod {
			assignByRank(group, d, assignments)
		}
	} else {
		assignByRank(observations, d, assignments)
	}

	rows := make([]domain.DecileRow, 0, d)
	var indexes, means []float64
	for bucket := 0; bucket < d; bucket++ {
		group := assignments[bucket]
		if len(group) == 0 {
			continue
		}
		sims := make([]float64, len(group))
		corrs := make([]float64, len(group))
		for i, o := range group {
			sims[i] = o.Similarity
			corrs[i] = o.Correlation
		}
		sort.Float64s(corrs)
		rows = append(rows, domain.DecileRow{
			Decile:            bucket + 1,
			Count:             len(group),
			MeanSimilarity:    stat.Mean(sims, nil),
			MeanCorrelation:   stat.Mean(corrs, nil),
			MedianCorrelation: stat.Quantile(0.5, stat.Empirical, corrs, nil),
		})
		indexes = append(indexes, float64(bucket+1))
		means = append(means, rows[len(rows)-1].MeanCorrelation)
	}

	if len(rows) < 2 {
		return nil, apperrors.NewInsufficientDataError("fewer than two populated buckets", nil)
	}

	return &domain.DecileResult{
		Rows:         rows,
		Monotonicity: spearman(indexes, means),
		PerPeriod:    e.perPeriodDeciles,
	}, nil
}

// assignByRank sorts one group by similarity and spreads it across d
// buckets by rank, lowest similarity first.
func assignByRank(group []domain.AlignedObservation, d int, assignments map[int][]domain.AlignedObservation) {
	sorted := make([]domain.AlignedObservation, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Similarity < sorted[j].Similarity })

	n := len(sorted)
	for i, o := range sorted {
		bucket := i * d / n
		if bucket >= d {
			bucket = d - 1
		}
		assignments[bucket] = append(assignments[bucket], o)
	}
}

// spearman is the rank correlation of two equal-length samples, with
// average ranks for ties.
func spearman(xs, ys []float64) float64 {
	return stat.Correlation(ranks(xs), ranks(ys), nil)
}

func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranked := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Average rank over the tie run, 1-based.
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranked[idx[k]] = avg
		}
		i = j + 1
	}
	return ranked
}
