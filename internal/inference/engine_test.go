package inference

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comovecli/internal/config"
	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

var testPeriod = domain.Period{Year: 2019, Quarter: 3}

func obs(similarity, correlation float64) domain.AlignedObservation {
	return domain.AlignedObservation{
		Period:      testPeriod,
		FirmI:       "A",
		FirmJ:       "B",
		Similarity:  similarity,
		Correlation: correlation,
		HasControls: true,
	}
}

func newTestEngine(t *testing.T, cfg config.InferenceConfig, controls []string, transformed bool) *Engine {
	t.Helper()
	if cfg.DecileCount == 0 {
		cfg.DecileCount = 10
	}
	e, err := NewEngine(cfg, controls, transformed, nil)
	require.NoError(t, err)
	return e
}

func TestRegressionRecoversSlope(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var observations []domain.AlignedObservation
	for i := 0; i < 400; i++ {
		s := rng.Float64()
		// Correlation values arrive already transformed, so the fit
		// target is exactly 0.1 + 0.8*s + noise.
		y := 0.1 + 0.8*s + 0.05*rng.NormFloat64()
		observations = append(observations, obs(s, y))
	}

	e := newTestEngine(t, config.InferenceConfig{}, nil, true)
	result, err := e.regress(observations)
	require.NoError(t, err)

	require.Len(t, result.Coefficients, 2)
	intercept, slope := result.Coefficients[0], result.Coefficients[1]
	assert.Equal(t, "intercept", intercept.Name)
	assert.Equal(t, "similarity", slope.Name)
	assert.InDelta(t, 0.1, intercept.Estimate, 0.02)
	assert.InDelta(t, 0.8, slope.Estimate, 0.05)
	assert.Greater(t, slope.TStat, 10.0)
	assert.Less(t, slope.CILower, slope.Estimate)
	assert.Greater(t, slope.CIUpper, slope.Estimate)
	assert.Greater(t, result.RSquared, 0.8)
	assert.Equal(t, 400, result.Observations)
}

func TestRegressionWithControls(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	var observations []domain.AlignedObservation
	for i := 0; i < 300; i++ {
		s := rng.Float64()
		sector := float64(i % 2)
		y := 0.2*s + 0.5*sector + 0.02*rng.NormFloat64()
		o := obs(s, y)
		o.Controls = map[string]float64{"same_sector": sector}
		observations = append(observations, o)
	}
	// Rows without the control must be skipped.
	noControls := obs(0.5, 0.3)
	noControls.HasControls = false
	observations = append(observations, noControls)

	e := newTestEngine(t, config.InferenceConfig{}, []string{"same_sector"}, true)
	result, err := e.regress(observations)
	require.NoError(t, err)

	require.Len(t, result.Coefficients, 3)
	assert.Equal(t, 300, result.Observations)
	assert.Equal(t, "same_sector", result.Coefficients[2].Name)
	assert.InDelta(t, 0.5, result.Coefficients[2].Estimate, 0.05)
	assert.InDelta(t, 0.2, result.Coefficients[1].Estimate, 0.05)
}

func TestRegressionInsufficientData(t *testing.T) {
	e := newTestEngine(t, config.InferenceConfig{}, nil, true)

	_, err := e.regress([]domain.AlignedObservation{
		obs(0.1, 0.2), obs(0.2, 0.3), obs(0.3, 0.4),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInsufficientData))
	assert.False(t, apperrors.IsFatal(err))
}

func TestDecileCheckMonotone(t *testing.T) {
	var observations []domain.AlignedObservation
	for i := 0; i < 100; i++ {
		s := float64(i) / 100
		observations = append(observations, obs(s, s/2))
	}

	e := newTestEngine(t, config.InferenceConfig{DecileCount: 10}, nil, true)
	result, err := e.decileCheck(observations)
	require.NoError(t, err)

	require.Len(t, result.Rows, 10)
	for i, row := range result.Rows {
		assert.Equal(t, i+1, row.Decile)
		assert.Equal(t, 10, row.Count)
		if i > 0 {
			assert.Greater(t, row.MeanCorrelation, result.Rows[i-1].MeanCorrelation)
		}
	}
	assert.InDelta(t, 1.0, result.Monotonicity, 1e-9)
}

func TestDecileCheckAntitone(t *testing.T) {
	var observations []domain.AlignedObservation
	for i := 0; i < 50; i++ {
		s := float64(i) / 50
		observations = append(observations, obs(s, -s))
	}

	e := newTestEngine(t, config.InferenceConfig{DecileCount: 5}, nil, true)
	result, err := e.decileCheck(observations)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, result.Monotonicity, 1e-9)
}

func TestDecileCheckPerPeriod(t *testing.T) {
	var observations []domain.AlignedObservation
	for q := 1; q <= 2; q++ {
		for i := 0; i < 30; i++ {
			o := obs(float64(i), float64(i))
			o.Period = domain.Period{Year: 2019, Quarter: q}
			observations = append(observations, o)
		}
	}

	e := newTestEngine(t, config.InferenceConfig{DecileCount: 3, DecileScope: "per-period"}, nil, true)
	result, err := e.decileCheck(observations)
	require.NoError(t, err)

	assert.True(t, result.PerPeriod)
	require.Len(t, result.Rows, 3)
	for _, row := range result.Rows {
		assert.Equal(t, 20, row.Count, "each bucket pools both periods")
	}
}

func TestDecileCheckInsufficientData(t *testing.T) {
	e := newTestEngine(t, config.InferenceConfig{DecileCount: 10}, nil, true)
	_, err := e.decileCheck([]domain.AlignedObservation{obs(0.1, 0.2)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeInsufficientData))
}

func TestAUCPerfectRanking(t *testing.T) {
	// Similarity perfectly ranks correlation: AUC must be 1.
	var observations []domain.AlignedObservation
	for i := 0; i < 40; i++ {
		s := float64(i) / 40
		observations = append(observations, obs(s, s))
	}

	e := newTestEngine(t, config.InferenceConfig{}, nil, false)
	result, err := e.aucCheck(observations)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.AUC, 1e-9)
	assert.Equal(t, result.Positives+result.Negatives, 40)
	assert.NotEmpty(t, result.Curve)
	last := result.Curve[len(result.Curve)-1]
	assert.InDelta(t, 1.0, last.TPR, 1e-12)
	assert.InDelta(t, 1.0, last.FPR, 1e-12)
}

func TestAUCInverseRanking(t *testing.T) {
	var observations []domain.AlignedObservation
	for i := 0; i < 40; i++ {
		s := float64(i) / 40
		observations = append(observations, obs(s, -s))
	}

	e := newTestEngine(t, config.InferenceConfig{}, nil, false)
	result, err := e.aucCheck(observations)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, result.AUC, 1e-9)
}

func TestAUCIndependentScores(t *testing.T) {
	// Independent similarity and correlation: AUC near 0.5.
	rng := rand.New(rand.NewSource(123))
	var observations []domain.AlignedObservation
	for i := 0; i < 5000; i++ {
		observations = append(observations, obs(rng.Float64(), rng.NormFloat64()))
	}

	e := newTestEngine(t, config.InferenceConfig{}, nil, false)
	result, err := e.aucCheck(observations)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.AUC, 0.03)
}

func TestAUCFixedThreshold(t *testing.T) {
	observations := []domain.AlignedObservation{
		obs(0.9, 0.8), obs(0.8, 0.7), obs(0.2, 0.1), obs(0.1, 0.05),
	}

	e := newTestEngine(t, config.InferenceConfig{
		AUCThreshold: config.Threshold{Mode: config.ThresholdFixed, Value: 0.5},
	}, nil, false)
	result, err := e.aucCheck(observations)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Positives)
	assert.Equal(t, 2, result.Negatives)
	assert.InDelta(t, 1.0, result.AUC, 1e-9)
}

func TestAUCPooledMedianThreshold(t *testing.T) {
	// Two periods with disjoint correlation levels. The pooled median
	// splits between the periods, so every second-period observation is
	// positive, while a per-period median would split inside each one.
	p1 := domain.Period{Year: 2019, Quarter: 1}
	p2 := domain.Period{Year: 2019, Quarter: 2}
	var observations []domain.AlignedObservation
	for i, c := range []float64{0.1, 0.2, 0.3} {
		o := obs(0.1*float64(i), c)
		o.Period = p1
		observations = append(observations, o)
	}
	for i, c := range []float64{0.7, 0.8, 0.9} {
		o := obs(0.5+0.1*float64(i), c)
		o.Period = p2
		observations = append(observations, o)
	}

	e := newTestEngine(t, config.InferenceConfig{
		AUCThreshold: config.Threshold{Mode: config.ThresholdPooledMedian},
	}, nil, false)
	result, err := e.aucCheck(observations)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Positives)
	assert.Equal(t, 3, result.Negatives)
	assert.InDelta(t, 1.0, result.AUC, 1e-9)

	perPeriod := newTestEngine(t, config.InferenceConfig{}, nil, false)
	ppResult, err := perPeriod.aucCheck(observations)
	require.NoError(t, err)
	assert.Equal(t, 2, ppResult.Positives, "per-period medians label one positive per period")
}

func TestAUCDegenerateLabels(t *testing.T) {
	// All correlations above the fixed cut: one class only.
	observations := []domain.AlignedObservation{
		obs(0.9, 0.8), obs(0.8, 0.7), obs(0.2, 0.6),
	}

	e := newTestEngine(t, config.InferenceConfig{
		AUCThreshold: config.Threshold{Mode: config.ThresholdFixed, Value: 0.0},
	}, nil, false)
	_, err := e.aucCheck(observations)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeDegenerateLabel))
	assert.False(t, apperrors.IsFatal(err))
}

func TestRanksAveragesTies(t *testing.T) {
	got := ranks([]float64{10, 20, 20, 30})
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, got)
}

func TestRunProducesAllSections(t *testing.T) {
	rng := rand.New(rand.NewSource(77))
	var observations []domain.AlignedObservation
	for i := 0; i < 200; i++ {
		s := rng.Float64()
		observations = append(observations, obs(s, 0.5*s+0.1*rng.NormFloat64()))
	}

	e := newTestEngine(t, config.InferenceConfig{DecileCount: 10}, nil, true)
	upstream := domain.ExclusionCounts{domain.ExclusionMissingVector: 3}
	result := e.Run(context.Background(), 1, observations, upstream)

	require.NotNil(t, result)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Lag)
	assert.NotNil(t, result.Regression)
	assert.NotNil(t, result.Deciles)
	assert.NotNil(t, result.AUC)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, result.Exclusions[domain.ExclusionMissingVector])
}

func TestRunIsolatesAnalysisFailures(t *testing.T) {
	// Too few rows for regression and deciles, one-class labels for
	// AUC: every section degrades gracefully and reports why.
	observations := []domain.AlignedObservation{
		obs(0.9, 0.8), obs(0.8, 0.7), obs(0.2, 0.6),
	}

	e := newTestEngine(t, config.InferenceConfig{
		DecileCount:  10,
		AUCThreshold: config.Threshold{Mode: config.ThresholdFixed, Value: 0.0},
	}, nil, true)
	result := e.Run(context.Background(), 0, observations, nil)

	assert.Nil(t, result.Regression)
	assert.Nil(t, result.Deciles)
	assert.Nil(t, result.AUC)
	assert.Contains(t, result.Errors, "regression")
	assert.Contains(t, result.Errors, "deciles")
	assert.Contains(t, result.Errors, "auc")
	assert.Equal(t, 1, result.Exclusions[domain.ExclusionDegenerateLabel])
}
