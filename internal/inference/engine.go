// Package inference runs the statistical comparisons over the aligned
// similarity/correlation dataset: an OLS regression with robust
// standard errors, a rank/decile monotonicity check, and ROC/AUC
// discrimination. The three analyses are independent; a failed
// precondition disables one section and is reported, never hides.
package inference

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"comovecli/internal/config"
	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// Engine runs the comparison analyses.
type Engine struct {
	decileCount            int
	perPeriodDeciles       bool
	aucThreshold           config.Threshold
	confidenceLevel        float64
	requiredControls       []string
	correlationTransformed bool
	logger                 *slog.Logger
}

// NewEngine builds a comparison engine. correlationTransformed tells
// the regression the correlation values already carry a Fisher z.
func NewEngine(cfg config.InferenceConfig, requiredControls []string, correlationTransformed bool, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DecileCount < 2 {
		return nil, apperrors.NewConfigError("decile_count must be at least 2", nil)
	}
	confidence := cfg.ConfidenceLevel
	if confidence == 0 {
		confidence = 0.95
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, apperrors.NewConfigError("confidence_level must be inside (0, 1)", nil)
	}
	threshold := cfg.AUCThreshold
	if threshold.Mode == "" {
		threshold = config.Threshold{Mode: config.ThresholdMedian}
	}
	return &Engine{
		decileCount:            cfg.DecileCount,
		perPeriodDeciles:       cfg.DecileScope == "per-period",
		aucThreshold:           threshold,
		confidenceLevel:        confidence,
		requiredControls:       requiredControls,
		correlationTransformed: correlationTransformed,
		logger:                 logger,
	}, nil
}

// Run executes the three analyses over the aligned dataset and folds
// the upstream exclusion tallies into the result. Per-analysis
// failures are recoverable: the section is nil and the reason recorded.
func (e *Engine) Run(ctx context.Context, lag int, observations []domain.AlignedObservation, upstream domain.ExclusionCounts) *domain.ComparisonResult {
	start := time.Now()

	result := &domain.ComparisonResult{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Lag:         lag,
		Exclusions:  domain.ExclusionCounts{},
		Errors:      make(map[string]string),
	}
	result.Exclusions.Merge(upstream)

	var mu sync.Mutex
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Errors[name] = err.Error()
		if apperrors.IsType(err, apperrors.ErrTypeDegenerateLabel) {
			result.Exclusions.Add(domain.ExclusionDegenerateLabel, 1)
		}
		e.logger.WarnContext(ctx, "analysis skipped",
			"analysis", name,
			"error", err,
		)
	}

	// The analyses share only read-only input, so they run in parallel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		regression, err := e.regress(observations)
		if err != nil {
			record("regression", err)
			return nil
		}
		result.Regression = regression
		return gctx.Err()
	})
	g.Go(func() error {
		deciles, err := e.decileCheck(observations)
		if err != nil {
			record("deciles", err)
			return nil
		}
		result.Deciles = deciles
		return gctx.Err()
	})
	g.Go(func() error {
		auc, err := e.aucCheck(observations)
		if err != nil {
			record("auc", err)
			return nil
		}
		result.AUC = auc
		return gctx.Err()
	})
	// Analyses only report recoverable errors through record.
	_ = g.Wait()

	if len(result.Errors) == 0 {
		result.Errors = nil
	}

	e.logger.InfoContext(ctx, "comparison analyses completed",
		"run_id", result.RunID,
		"observations", len(observations),
		"lag", lag,
		"duration", time.Since(start),
	)
	return result
}
