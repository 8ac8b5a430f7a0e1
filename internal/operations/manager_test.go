package operations

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comovecli/internal/config"
	apperrors "comovecli/internal/errors"
	"comovecli/internal/sources"
	"comovecli/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Selection: config.SelectionConfig{
			Policy:   "latest",
			ModelTag: "test-model",
		},
		Correlation: config.CorrelationConfig{
			WindowDays:  120,
			MinOverlap:  20,
			ReturnKind:  "simple",
			Aggregation: "anchored",
		},
		Alignment: config.AlignmentConfig{Lag: 0},
		Inference: config.InferenceConfig{
			DecileCount:     3,
			DecileScope:     "pooled",
			ConfidenceLevel: 0.95,
		},
		Run: config.RunConfig{
			MaxConcurrency: 2,
			OutputDir:      t.TempDir(),
			LogLevel:       "info",
		},
	}
}

func mustPeriod(t *testing.T, label string) domain.Period {
	t.Helper()
	p, err := domain.ParsePeriod(label)
	require.NoError(t, err)
	return p
}

func testEmbeddings(t *testing.T, labels ...string) *sources.MemoryEmbeddingSource {
	t.Helper()
	vectors := map[string][]float64{
		"AAPL": {1.0, 0.1, 0.0},
		"MSFT": {0.9, 0.2, 0.1},
		"XOM":  {0.0, 0.1, 1.0},
	}
	var records []domain.DocumentEmbedding
	for _, label := range labels {
		period := mustPeriod(t, label)
		for firm, vec := range vectors {
			records = append(records, domain.DocumentEmbedding{
				DocumentID: firm + "-" + label,
				FirmID:     firm,
				Period:     period,
				FilingDate: period.Anchor().AddDate(0, 0, -10),
				Vector:     vec,
			})
		}
	}
	return sources.NewMemoryEmbeddingSource(records)
}

// testPrices builds daily price paths from October 2018 through June
// 2019, long enough to fill a 120-day window at the 2019Q1 and 2019Q2
// anchors. AAPL and MSFT follow the same oscillation, XOM a different
// one.
func testPrices() *sources.MemoryPriceSource {
	start := time.Date(2018, 10, 1, 0, 0, 0, 0, time.UTC)
	series := make(map[string][]domain.PricePoint)
	for i := 0; i < 273; i++ {
		date := start.AddDate(0, 0, i)
		x := float64(i)
		series["AAPL"] = append(series["AAPL"], domain.PricePoint{
			Date: date, AdjustedClose: 100 + 2*math.Sin(x/3),
		})
		series["MSFT"] = append(series["MSFT"], domain.PricePoint{
			Date: date, AdjustedClose: 50 + 1.5*math.Sin(x/3),
		})
		series["XOM"] = append(series["XOM"], domain.PricePoint{
			Date: date, AdjustedClose: 80 + 2*math.Cos(x/7),
		})
	}
	return sources.NewMemoryPriceSource(series)
}

func TestManagerRunCompletes(t *testing.T) {
	cfg := testConfig(t)
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1", "2019Q2"), testPrices(), nil)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, RunStatusCompleted, state.Status)

	for _, stepID := range []string{
		StepIDSelectVectors, StepIDSimilarity, StepIDCorrelation,
		StepIDAlign, StepIDCompare, StepIDExport,
	} {
		stepState := state.GetStep(stepID)
		require.NotNil(t, stepState, "missing state for step %s", stepID)
		assert.Equal(t, StepStatusCompleted, stepState.CurrentStatus(),
			"step %s", stepID)
	}

	// Three firms give three pairs per period across two periods.
	assert.Len(t, state.Similarities(), 6)
	assert.NotEmpty(t, state.Correlations())
	assert.NotEmpty(t, state.Aligned())

	result := state.Result()
	require.NotNil(t, result)
	assert.Equal(t, state.ID, result.RunID)

	for _, name := range []string{
		"similarity_pairs.csv",
		"correlation_pairs.csv",
		"aligned_observations.csv",
		"comparison_report.xlsx",
	} {
		_, err := os.Stat(filepath.Join(cfg.Run.OutputDir, name))
		assert.NoError(t, err, "expected output %s", name)
	}
}

func TestManagerRunSimilarityReflectsVectorGeometry(t *testing.T) {
	cfg := testConfig(t)
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1"), testPrices(), nil)
	require.NoError(t, err)

	sims := state.Similarities()
	require.Len(t, sims, 3)
	byPair := make(map[string]float64, len(sims))
	for _, s := range sims {
		byPair[s.FirmI+"/"+s.FirmJ] = s.Value
		assert.Equal(t, "test-model", s.ModelTag)
		assert.Less(t, s.FirmI, s.FirmJ)
	}
	// AAPL and MSFT vectors nearly coincide; XOM points elsewhere.
	assert.Greater(t, byPair["AAPL/MSFT"], byPair["AAPL/XOM"])
	assert.Greater(t, byPair["AAPL/MSFT"], byPair["MSFT/XOM"])
}

func TestManagerRunBoundsPeriods(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.FromPeriod = "2019Q1"
	cfg.Run.ToPeriod = "2019Q1"
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1", "2019Q2"), testPrices(), nil)
	require.NoError(t, err)

	require.Len(t, state.Periods(), 1)
	for _, s := range state.Similarities() {
		assert.Equal(t, "2019Q1", s.Period.String())
	}
}

func TestManagerRunEnumeratesExplicitRangeAcrossGaps(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.FromPeriod = "2019Q1"
	cfg.Run.ToPeriod = "2019Q3"
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	// Embeddings only exist for the endpoints; the middle period must
	// still be analyzed so its absence shows up instead of vanishing.
	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1", "2019Q3"), testPrices(), nil)
	require.NoError(t, err)

	periods := state.Periods()
	require.Len(t, periods, 3)
	assert.Equal(t, "2019Q2", periods[1].String())
	assert.Empty(t, state.Vectors(periods[1]))
}

func TestManagerRejectsInvalidPeriodBounds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.FromPeriod = "2019Q3"
	cfg.Run.ToPeriod = "2019Q1"
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1"), testPrices(), nil)
	require.Error(t, err)
	assert.Equal(t, RunStatusFailed, state.Status)
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Selection.Policy = "newest"
	_, err := NewManager(cfg, testLogger())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

// flakyEmbeddingSource fails the first N calls to Firms with a source
// error, then delegates.
type flakyEmbeddingSource struct {
	sources.EmbeddingSource
	failures int
	calls    int
}

func (s *flakyEmbeddingSource) Firms(ctx context.Context) ([]string, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, apperrors.NewSourceError("embedding store unavailable", nil)
	}
	return s.EmbeddingSource.Firms(ctx)
}

func TestManagerRetriesTransientSourceErrors(t *testing.T) {
	cfg := testConfig(t)
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)
	manager.SetRetryConfig(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	})

	flaky := &flakyEmbeddingSource{
		EmbeddingSource: testEmbeddings(t, "2019Q1"),
		failures:        1,
	}
	state, err := manager.Run(context.Background(), flaky, testPrices(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, state.Status)
	assert.GreaterOrEqual(t, flaky.calls, 2)
}

func TestManagerExhaustsRetries(t *testing.T) {
	cfg := testConfig(t)
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)
	manager.SetRetryConfig(RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	})

	flaky := &flakyEmbeddingSource{
		EmbeddingSource: testEmbeddings(t, "2019Q1"),
		failures:        10,
	}
	state, err := manager.Run(context.Background(), flaky, testPrices(), nil)
	require.Error(t, err)
	assert.Equal(t, RunStatusFailed, state.Status)

	stepState := state.GetStep(StepIDSelectVectors)
	require.NotNil(t, stepState)
	assert.Equal(t, StepStatusFailed, stepState.CurrentStatus())
}

func TestManagerSkipsStepOnValidationFailure(t *testing.T) {
	cfg := testConfig(t)
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, RunStatusFailed, state.Status)

	stepState := state.GetStep(StepIDCorrelation)
	require.NotNil(t, stepState)
	assert.Equal(t, StepStatusSkipped, stepState.CurrentStatus())
}

func TestManagerRunWithLagShiftsCorrelationPeriods(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alignment.Lag = 1
	manager, err := NewManager(cfg, testLogger())
	require.NoError(t, err)

	state, err := manager.Run(context.Background(),
		testEmbeddings(t, "2019Q1"), testPrices(), nil)
	require.NoError(t, err)

	for _, c := range state.Correlations() {
		assert.Equal(t, "2019Q2", c.Period.String())
	}
	// Aligned rows carry the similarity period.
	for _, obs := range state.Aligned() {
		assert.Equal(t, "2019Q1", obs.Period.String())
	}
	require.NotEmpty(t, state.Aligned())
}
