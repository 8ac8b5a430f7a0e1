// Package operations orchestrates analysis runs. A run executes a
// fixed sequence of steps over a shared state: vector selection,
// pairwise similarity, rolling correlation, panel alignment,
// statistical comparison and export. Steps fan out per period where
// the work is independent; failures inside a step are isolated to the
// unit they affect, while structural errors abort the run.
package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"comovecli/internal/alignment"
	"comovecli/internal/config"
	"comovecli/internal/embedding"
	"comovecli/internal/exporter"
	"comovecli/internal/inference"
	"comovecli/internal/returns"
	"comovecli/internal/similarity"
	"comovecli/internal/sources"
	"comovecli/pkg/contracts/domain"
)

// Manager executes analysis runs step by step.
type Manager struct {
	cfg    *config.Config
	steps  []Step
	retry  RetryConfig
	tracer *RunTracer
	logger *slog.Logger
}

// NewManager wires the run steps from configuration.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	selector, err := embedding.NewSelector(cfg.Selection, logger)
	if err != nil {
		return nil, fmt.Errorf("build selector: %w", err)
	}

	kind, err := returns.ParseKind(cfg.Correlation.ReturnKind)
	if err != nil {
		return nil, fmt.Errorf("parse return kind: %w", err)
	}

	corrEngine, err := returns.NewEngine(cfg.Correlation, cfg.Run.MaxConcurrency, logger)
	if err != nil {
		return nil, fmt.Errorf("build correlation engine: %w", err)
	}

	infEngine, err := inference.NewEngine(cfg.Inference, cfg.Alignment.RequiredControls, cfg.Correlation.FisherTransform, logger)
	if err != nil {
		return nil, fmt.Errorf("build inference engine: %w", err)
	}

	steps := []Step{
		NewSelectVectorsStep(selector, logger),
		NewSimilarityStep(similarity.NewComputer(cfg.Selection.ModelTag, logger), logger),
		NewCorrelationStep(corrEngine, kind, cfg.Alignment.Lag, logger),
		NewAlignStep(alignment.NewJoiner(cfg.Alignment, logger), logger),
		NewCompareStep(infEngine, cfg.Alignment.Lag, logger),
		NewExportStep(exporter.NewFileSink(cfg.Run.OutputDir, logger), logger),
	}

	return &Manager{
		cfg:    cfg,
		steps:  steps,
		retry:  NewRetryConfig(),
		tracer: NewRunTracer(),
		logger: logger,
	}, nil
}

// SetRetryConfig overrides the default step retry behaviour.
func (m *Manager) SetRetryConfig(retry RetryConfig) {
	m.retry = retry
}

// Run executes all steps against the given sources and returns the
// final run state. The state is returned even on failure so callers
// can inspect partial outputs and step statuses.
func (m *Manager) Run(ctx context.Context, embeddings sources.EmbeddingSource, prices sources.PriceSource, controls alignment.ControlsProvider) (*RunState, error) {
	state := NewRunState(uuid.NewString(), m.cfg)
	state.Embeddings = embeddings
	state.Prices = prices
	state.Controls = controls

	periods, err := m.resolvePeriods(ctx, embeddings)
	if err != nil {
		state.Fail(err)
		return state, err
	}
	state.SetPeriods(periods)

	ctx, span := m.tracer.TraceRunExecution(ctx, state.ID, len(periods))
	defer span.End()

	state.Start()
	m.logger.InfoContext(ctx, "run started",
		"run_id", state.ID,
		"periods", len(periods))

	for _, step := range m.steps {
		if err := m.executeStep(ctx, state, step); err != nil {
			state.Fail(err)
			RecordStepError(span, err)
			m.logger.ErrorContext(ctx, "run failed",
				"run_id", state.ID,
				"step", step.ID(),
				"error", err)
			return state, err
		}
	}

	state.Complete()
	m.logger.InfoContext(ctx, "run completed",
		"run_id", state.ID,
		"duration", state.Duration(),
		"exclusions", state.Exclusions().Total())
	return state, nil
}

// executeStep validates and runs one step, retrying transient source
// failures with exponential backoff.
func (m *Manager) executeStep(ctx context.Context, state *RunState, step Step) error {
	stepState := NewStepState(step.ID(), step.Name())
	state.SetStep(step.ID(), stepState)

	if err := step.Validate(state); err != nil {
		stepState.Skip(fmt.Sprintf("validation failed: %v", err))
		m.logger.WarnContext(ctx, "step validation failed",
			"run_id", state.ID,
			"step", step.ID(),
			"error", err)
		return fmt.Errorf("validate step %s: %w", step.ID(), err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		stepCtx, span := m.tracer.TraceStepExecution(ctx, state.ID, step.ID(), attempt)
		stepState.Start()

		start := time.Now()
		err := step.Execute(stepCtx, state)
		duration := time.Since(start)

		if err == nil {
			stepState.Complete()
			span.End()
			m.logger.InfoContext(ctx, "step completed",
				"run_id", state.ID,
				"step", step.ID(),
				"duration", duration)
			return nil
		}

		RecordStepError(span, err)
		span.End()
		lastErr = err

		if !IsRetryable(err) || attempt >= m.retry.MaxAttempts {
			stepState.Fail(err)
			return fmt.Errorf("step %s: %w", step.ID(), err)
		}

		delay := m.retry.Delay(attempt)
		m.logger.WarnContext(ctx, "step retry",
			"run_id", state.ID,
			"step", step.ID(),
			"attempt", attempt,
			"max_attempts", m.retry.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			stepState.Fail(ctx.Err())
			return fmt.Errorf("step %s: %w", step.ID(), ctx.Err())
		}
	}

	stepState.Fail(lastErr)
	return fmt.Errorf("step %s failed after %d attempts: %w", step.ID(), m.retry.MaxAttempts, lastErr)
}

// resolvePeriods determines the analysis periods for the run. Explicit
// from/to bounds narrow the periods the embedding source reports; an
// explicit full range is enumerated even across gaps so that missing
// periods surface as exclusions rather than silently shrinking the
// panel.
func (m *Manager) resolvePeriods(ctx context.Context, embeddings sources.EmbeddingSource) ([]domain.Period, error) {
	var from, to domain.Period
	var err error
	if m.cfg.Run.FromPeriod != "" {
		if from, err = domain.ParsePeriod(m.cfg.Run.FromPeriod); err != nil {
			return nil, fmt.Errorf("parse from_period: %w", err)
		}
	}
	if m.cfg.Run.ToPeriod != "" {
		if to, err = domain.ParsePeriod(m.cfg.Run.ToPeriod); err != nil {
			return nil, fmt.Errorf("parse to_period: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() {
		if to.Before(from) {
			return nil, fmt.Errorf("to_period %s precedes from_period %s", to, from)
		}
		var out []domain.Period
		for p := from; !to.Before(p); p = p.Add(1) {
			out = append(out, p)
		}
		return out, nil
	}

	available, err := embeddings.Periods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	out := make([]domain.Period, 0, len(available))
	for _, p := range available {
		if !from.IsZero() && p.Before(from) {
			continue
		}
		if !to.IsZero() && to.Before(p) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
