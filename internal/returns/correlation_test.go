package returns

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"comovecli/internal/config"
	"comovecli/pkg/contracts/domain"
)

func newEngine(t *testing.T, cfg config.CorrelationConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, 2, nil)
	require.NoError(t, err)
	return e
}

// seriesOn builds a return series with one observation per given day
// offset from the Q1 2019 start.
func seriesOn(firm string, days []int, values []float64) domain.ReturnSeries {
	s := domain.ReturnSeries{FirmID: firm}
	for i, d := range days {
		s.Returns = append(s.Returns, domain.ReturnObservation{Date: day(d), Value: values[i]})
	}
	return s
}

func TestComputeIdenticalSeries(t *testing.T) {
	// Identical 3-observation series must correlate at exactly 1.0.
	e := newEngine(t, config.CorrelationConfig{WindowDays: 10, MinOverlap: 3, Aggregation: "anchored"})

	values := []float64{0.01, 0.02, -0.01}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", []int{1, 2, 3}, values),
		"B": seriesOn("B", []int{1, 2, 3}, values),
	}
	pairs, excluded, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2019, Quarter: 1}})
	require.NoError(t, err)

	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Value, 1e-9)
	assert.Equal(t, "A", pairs[0].FirmI)
	assert.Equal(t, "B", pairs[0].FirmJ)
	assert.Equal(t, 3, pairs[0].Overlap)
	assert.Zero(t, excluded.Total())
}

func TestComputeMinOverlapExclusion(t *testing.T) {
	e := newEngine(t, config.CorrelationConfig{WindowDays: 30, MinOverlap: 20, Aggregation: "anchored"})

	values := []float64{0.01, 0.02, -0.01}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", []int{1, 2, 3}, values),
		"B": seriesOn("B", []int{1, 2, 3}, values),
	}
	pairs, excluded, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2019, Quarter: 1}})
	require.NoError(t, err)

	assert.Empty(t, pairs, "too few overlapping points must be excluded, not computed")
	assert.Equal(t, 1, excluded[domain.ExclusionInsufficientOverlap])
}

func TestComputeZeroVarianceExclusion(t *testing.T) {
	e := newEngine(t, config.CorrelationConfig{WindowDays: 10, MinOverlap: 3, Aggregation: "anchored"})

	days := []int{1, 2, 3, 4}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", days, []float64{0.01, 0.01, 0.01, 0.01}), // constant
		"B": seriesOn("B", days, []float64{0.01, 0.02, -0.01, 0.03}),
	}
	pairs, excluded, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2019, Quarter: 1}})
	require.NoError(t, err)

	assert.Empty(t, pairs)
	assert.Equal(t, 1, excluded[domain.ExclusionUndefinedCorrelation])
}

func TestComputeMissingDateExcludedFromOverlap(t *testing.T) {
	e := newEngine(t, config.CorrelationConfig{WindowDays: 10, MinOverlap: 3, Aggregation: "anchored"})

	// B is missing day 3; that date must drop out of the overlap rather
	// than contribute a zero return.
	aValues := []float64{0.010, 0.020, -0.015, 0.005}
	bValues := []float64{0.012, 0.018, 0.004}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", []int{1, 2, 3, 4}, aValues),
		"B": seriesOn("B", []int{1, 2, 4}, bValues),
	}
	pairs, _, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2019, Quarter: 1}})
	require.NoError(t, err)

	require.Len(t, pairs, 1)
	assert.Equal(t, 3, pairs[0].Overlap)

	expected := stat.Correlation(
		[]float64{0.010, 0.020, 0.005},
		bValues,
		nil,
	)
	assert.InDelta(t, expected, pairs[0].Value, 1e-12)
}

func TestComputeRecoversTheoreticalCorrelation(t *testing.T) {
	// r_b = beta*r_a + noise with equal sigmas gives rho = 1/sqrt(2).
	rng := rand.New(rand.NewSource(42))
	const n = 500
	days := make([]int, n)
	ra := make([]float64, n)
	rb := make([]float64, n)
	for i := 0; i < n; i++ {
		days[i] = i
		ra[i] = 0.02 * rng.NormFloat64()
		rb[i] = ra[i] + 0.02*rng.NormFloat64()
	}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", days, ra),
		"B": seriesOn("B", days, rb),
	}

	e := newEngine(t, config.CorrelationConfig{WindowDays: n, MinOverlap: 20, Aggregation: "anchored"})
	// All observations fall before the 2020Q2 anchor.
	pairs, _, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2020, Quarter: 2}})
	require.NoError(t, err)

	require.Len(t, pairs, 1)
	assert.InDelta(t, 1/math.Sqrt2, pairs[0].Value, 0.08)
}

func TestComputeFisherOutput(t *testing.T) {
	days := []int{1, 2, 3, 4, 5}
	aValues := []float64{0.01, -0.02, 0.015, 0.005, -0.01}
	bValues := []float64{0.008, -0.015, 0.02, -0.002, -0.012}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", days, aValues),
		"B": seriesOn("B", days, bValues),
	}
	period := domain.Period{Year: 2019, Quarter: 1}

	plain := newEngine(t, config.CorrelationConfig{WindowDays: 10, MinOverlap: 3, Aggregation: "anchored"})
	plainPairs, _, err := plain.Compute(context.Background(), series, []domain.Period{period})
	require.NoError(t, err)
	require.Len(t, plainPairs, 1)
	assert.False(t, plainPairs[0].Transformed)
	assert.GreaterOrEqual(t, plainPairs[0].Value, -1.0)
	assert.LessOrEqual(t, plainPairs[0].Value, 1.0)

	fisher := newEngine(t, config.CorrelationConfig{WindowDays: 10, MinOverlap: 3, FisherTransform: true, Aggregation: "anchored"})
	fisherPairs, _, err := fisher.Compute(context.Background(), series, []domain.Period{period})
	require.NoError(t, err)
	require.Len(t, fisherPairs, 1)
	assert.True(t, fisherPairs[0].Transformed)
	assert.InDelta(t, FisherZ(plainPairs[0].Value), fisherPairs[0].Value, 1e-12)
}

func TestComputeSlidingWindowMatchesDirect(t *testing.T) {
	// The incremental accumulator must agree with a from-scratch
	// Pearson computation as the window advances across periods.
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	var days []int
	var ra, rb []float64
	for d := 0; d < 360; d++ {
		days = append(days, d)
		ra = append(ra, 0.01*rng.NormFloat64())
		rb = append(rb, 0.01*rng.NormFloat64())
	}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", days, ra),
		"B": seriesOn("B", days, rb),
	}

	const window = 60
	e := newEngine(t, config.CorrelationConfig{WindowDays: window, MinOverlap: 20, Aggregation: "anchored"})
	periods := []domain.Period{
		{Year: 2019, Quarter: 2},
		{Year: 2019, Quarter: 3},
		{Year: 2019, Quarter: 4},
	}
	pairs, _, err := e.Compute(context.Background(), series, periods)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	for _, p := range pairs {
		anchor := p.Period.Anchor()
		var xs, ys []float64
		// Reconstruct the trailing window directly from the data.
		endIdx := -1
		for i := range days {
			if !start.AddDate(0, 0, days[i]).After(anchor) {
				endIdx = i
			}
		}
		require.GreaterOrEqual(t, endIdx, window-1)
		for i := endIdx - window + 1; i <= endIdx; i++ {
			xs = append(xs, ra[i])
			ys = append(ys, rb[i])
		}
		assert.InDelta(t, stat.Correlation(xs, ys, nil), p.Value, 1e-9,
			"period %s", p.Period)
	}
}

func TestComputeMeanZAggregation(t *testing.T) {
	// Perfectly correlated series: every window has rho = 1, so the
	// back-transformed mean z stays at 1 within the clamp tolerance.
	var days []int
	var ra, rb []float64
	rng := rand.New(rand.NewSource(3))
	for d := 0; d < 90; d++ {
		days = append(days, d)
		v := 0.01 * rng.NormFloat64()
		ra = append(ra, v)
		rb = append(rb, 2*v) // same direction, scaled
	}
	series := map[string]domain.ReturnSeries{
		"A": seriesOn("A", days, ra),
		"B": seriesOn("B", days, rb),
	}

	e := newEngine(t, config.CorrelationConfig{WindowDays: 20, MinOverlap: 10, Aggregation: "mean-z"})
	pairs, _, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2019, Quarter: 1}})
	require.NoError(t, err)

	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Value, 1e-3)
	assert.False(t, pairs[0].Transformed)
}

func TestComputeCanonicalOrderingAndSort(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	days := make([]int, 40)
	mk := func() []float64 {
		vs := make([]float64, 40)
		for i := range vs {
			days[i] = i
			vs[i] = 0.01 * rng.NormFloat64()
		}
		return vs
	}
	series := map[string]domain.ReturnSeries{
		"PEP":  seriesOn("PEP", days, mk()),
		"KO":   seriesOn("KO", days, mk()),
		"AAPL": seriesOn("AAPL", days, mk()),
	}

	e := newEngine(t, config.CorrelationConfig{WindowDays: 30, MinOverlap: 20, Aggregation: "anchored"})
	pairs, _, err := e.Compute(context.Background(), series, []domain.Period{{Year: 2019, Quarter: 1}})
	require.NoError(t, err)

	require.Len(t, pairs, 3)
	for _, p := range pairs {
		assert.Less(t, p.FirmI, p.FirmJ)
	}
	assert.Equal(t, [2]string{"AAPL", "KO"}, [2]string{pairs[0].FirmI, pairs[0].FirmJ})
	assert.Equal(t, [2]string{"AAPL", "PEP"}, [2]string{pairs[1].FirmI, pairs[1].FirmJ})
	assert.Equal(t, [2]string{"KO", "PEP"}, [2]string{pairs[2].FirmI, pairs[2].FirmJ})
}

func TestAccumulatorAddRemove(t *testing.T) {
	var acc accumulator
	xs := []float64{0.01, -0.02, 0.03, 0.005}
	ys := []float64{0.02, -0.01, 0.025, -0.004}
	for i := range xs {
		acc.add(xs[i], ys[i])
	}
	acc.remove(xs[0], ys[0])

	rho, status := acc.corr(2)
	require.Equal(t, corrOK, status)
	assert.InDelta(t, stat.Correlation(xs[1:], ys[1:], nil), rho, 1e-12)
}
