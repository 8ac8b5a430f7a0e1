package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"comovecli/internal/alignment"
	"comovecli/internal/embedding"
	apperrors "comovecli/internal/errors"
	"comovecli/internal/exporter"
	"comovecli/internal/inference"
	"comovecli/internal/returns"
	"comovecli/internal/similarity"
	"comovecli/pkg/contracts/domain"
)

// SelectVectorsStep reduces document embeddings to one vector per firm
// and period. Periods are processed in parallel; a firm without a
// usable candidate is tallied as missing, never emitted as a zero
// vector.
type SelectVectorsStep struct {
	selector *embedding.Selector
	logger   *slog.Logger
}

// NewSelectVectorsStep creates the vector selection step.
func NewSelectVectorsStep(selector *embedding.Selector, logger *slog.Logger) *SelectVectorsStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &SelectVectorsStep{selector: selector, logger: logger}
}

func (s *SelectVectorsStep) ID() string   { return StepIDSelectVectors }
func (s *SelectVectorsStep) Name() string { return StepNameSelectVectors }

// Validate checks that an embedding source and periods are available.
func (s *SelectVectorsStep) Validate(state *RunState) error {
	if state.Embeddings == nil {
		return apperrors.NewConfigError("no embedding source configured", nil)
	}
	if len(state.Periods()) == 0 {
		return apperrors.NewConfigError("no analysis periods resolved", nil)
	}
	return nil
}

// Execute selects firm vectors for every analysis period.
func (s *SelectVectorsStep) Execute(ctx context.Context, state *RunState) error {
	firms, err := state.Embeddings.Firms(ctx)
	if err != nil {
		return fmt.Errorf("list firms: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(state.Config.Run.MaxConcurrency)

	for _, period := range state.Periods() {
		period := period
		g.Go(func() error {
			var candidates []domain.DocumentEmbedding
			for _, firm := range firms {
				docs, err := state.Embeddings.Embeddings(gctx, firm, period)
				if err != nil {
					return fmt.Errorf("load embeddings for %s %s: %w", firm, period, err)
				}
				candidates = append(candidates, docs...)
			}

			result, err := s.selector.SelectPeriod(gctx, period, candidates)
			if err != nil {
				return fmt.Errorf("select vectors for %s: %w", period, err)
			}

			state.SetVectors(period, result.Vectors)
			state.AddExclusion(domain.ExclusionMissingVector, result.Missing)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "vectors selected",
		"periods", state.VectorPeriodCount(),
		"firms", len(firms))
	return nil
}

// SimilarityStep computes all-pairs cosine similarity per period.
type SimilarityStep struct {
	computer *similarity.Computer
	logger   *slog.Logger
}

// NewSimilarityStep creates the pairwise similarity step.
func NewSimilarityStep(computer *similarity.Computer, logger *slog.Logger) *SimilarityStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimilarityStep{computer: computer, logger: logger}
}

func (s *SimilarityStep) ID() string   { return StepIDSimilarity }
func (s *SimilarityStep) Name() string { return StepNameSimilarity }

// Validate checks that vector selection has run.
func (s *SimilarityStep) Validate(state *RunState) error {
	if state.VectorPeriodCount() == 0 {
		return apperrors.NewInsufficientDataError("no firm vectors selected", nil)
	}
	return nil
}

// Execute computes similarity pairs for every period with vectors.
// Periods with fewer than two firms emit no pairs.
func (s *SimilarityStep) Execute(ctx context.Context, state *RunState) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(state.Config.Run.MaxConcurrency)

	for _, period := range state.Periods() {
		period := period
		g.Go(func() error {
			vectors := state.Vectors(period)
			if len(vectors) < 2 {
				return nil
			}
			pairs, err := s.computer.ComputePeriod(gctx, period, vectors)
			if err != nil {
				return fmt.Errorf("similarity for %s: %w", period, err)
			}
			state.AppendSimilarities(pairs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	pairs := state.Similarities()
	similarity.SortPairs(pairs)
	s.logger.InfoContext(ctx, "similarity computed", "pairs", len(pairs))
	return nil
}

// CorrelationStep builds return series from prices and computes
// rolling-window pairwise correlations. It covers the lag-shifted
// period range so that the later join finds a partner for every
// similarity period.
type CorrelationStep struct {
	engine *returns.Engine
	kind   returns.Kind
	lag    int
	logger *slog.Logger
}

// NewCorrelationStep creates the rolling correlation step.
func NewCorrelationStep(engine *returns.Engine, kind returns.Kind, lag int, logger *slog.Logger) *CorrelationStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrelationStep{engine: engine, kind: kind, lag: lag, logger: logger}
}

func (s *CorrelationStep) ID() string   { return StepIDCorrelation }
func (s *CorrelationStep) Name() string { return StepNameCorrelation }

// Validate checks that a price source is available.
func (s *CorrelationStep) Validate(state *RunState) error {
	if state.Prices == nil {
		return apperrors.NewConfigError("no price source configured", nil)
	}
	return nil
}

// Execute loads prices for every firm, derives returns and computes
// correlations. Firms without usable prices are skipped; their pairs
// surface later as join_unmatched exclusions.
func (s *CorrelationStep) Execute(ctx context.Context, state *RunState) error {
	firms, err := state.Embeddings.Firms(ctx)
	if err != nil {
		return fmt.Errorf("list firms: %w", err)
	}

	series := make(map[string]domain.ReturnSeries, len(firms))
	for _, firm := range firms {
		prices, err := state.Prices.Prices(ctx, firm)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping firm without prices",
				"firm", firm, "error", err)
			continue
		}
		rs := returns.ComputeReturns(firm, prices, s.kind, s.logger)
		if len(rs.Returns) == 0 {
			s.logger.WarnContext(ctx, "skipping firm with empty return series",
				"firm", firm)
			continue
		}
		series[firm] = rs
	}

	periods := s.shiftedPeriods(state.Periods())
	pairs, excluded, err := s.engine.Compute(ctx, series, periods)
	if err != nil {
		return fmt.Errorf("rolling correlation: %w", err)
	}

	state.SetCorrelations(pairs)
	state.AddExclusions(excluded)
	s.logger.InfoContext(ctx, "correlations computed",
		"pairs", len(pairs),
		"firms_with_returns", len(series))
	return nil
}

// shiftedPeriods maps each analysis period t to t+lag and returns the
// deduplicated, sorted result.
func (s *CorrelationStep) shiftedPeriods(periods []domain.Period) []domain.Period {
	seen := make(map[domain.Period]struct{}, len(periods))
	out := make([]domain.Period, 0, len(periods))
	for _, p := range periods {
		shifted := p.Add(s.lag)
		if _, ok := seen[shifted]; ok {
			continue
		}
		seen[shifted] = struct{}{}
		out = append(out, shifted)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// AlignStep joins similarity and correlation panels on lag-shifted
// period and canonical pair keys.
type AlignStep struct {
	joiner *alignment.Joiner
	logger *slog.Logger
}

// NewAlignStep creates the panel join step.
func NewAlignStep(joiner *alignment.Joiner, logger *slog.Logger) *AlignStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlignStep{joiner: joiner, logger: logger}
}

func (s *AlignStep) ID() string   { return StepIDAlign }
func (s *AlignStep) Name() string { return StepNameAlign }

// Validate always passes; an empty join is a legitimate outcome that
// the comparison step reports as insufficient data.
func (s *AlignStep) Validate(state *RunState) error { return nil }

// Execute joins the two panels and records unmatched rows.
func (s *AlignStep) Execute(ctx context.Context, state *RunState) error {
	observations, excluded := s.joiner.Join(ctx, state.Similarities(), state.Correlations(), state.Controls)
	state.SetAligned(observations)
	state.AddExclusions(excluded)
	s.logger.InfoContext(ctx, "panels aligned", "observations", len(observations))
	return nil
}

// CompareStep runs the regression, decile and AUC analyses over the
// aligned observations.
type CompareStep struct {
	engine *inference.Engine
	lag    int
	logger *slog.Logger
}

// NewCompareStep creates the statistical comparison step.
func NewCompareStep(engine *inference.Engine, lag int, logger *slog.Logger) *CompareStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompareStep{engine: engine, lag: lag, logger: logger}
}

func (s *CompareStep) ID() string   { return StepIDCompare }
func (s *CompareStep) Name() string { return StepNameCompare }

func (s *CompareStep) Validate(state *RunState) error { return nil }

// Execute produces the comparison result. Per-analysis failures are
// recorded inside the result and never abort the run.
func (s *CompareStep) Execute(ctx context.Context, state *RunState) error {
	result := s.engine.Run(ctx, s.lag, state.Aligned(), state.Exclusions())
	result.RunID = state.ID
	state.SetResult(result)
	s.logger.InfoContext(ctx, "comparison complete",
		"run_id", result.RunID,
		"analysis_errors", len(result.Errors))
	return nil
}

// ExportStep writes the pair panels as CSV and the comparison result
// as an Excel report.
type ExportStep struct {
	sink   exporter.Sink
	logger *slog.Logger
}

// NewExportStep creates the export step.
func NewExportStep(sink exporter.Sink, logger *slog.Logger) *ExportStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportStep{sink: sink, logger: logger}
}

func (s *ExportStep) ID() string   { return StepIDExport }
func (s *ExportStep) Name() string { return StepNameExport }

// Validate checks that the comparison step produced a result.
func (s *ExportStep) Validate(state *RunState) error {
	if state.Result() == nil {
		return apperrors.NewInsufficientDataError("no comparison result to export", nil)
	}
	return nil
}

// Execute writes all run outputs to the configured output directory.
func (s *ExportStep) Execute(ctx context.Context, state *RunState) error {
	if err := s.sink.WriteSimilarityPairs(state.Similarities()); err != nil {
		return fmt.Errorf("export similarity pairs: %w", err)
	}
	if err := s.sink.WriteCorrelationPairs(state.Correlations()); err != nil {
		return fmt.Errorf("export correlation pairs: %w", err)
	}
	if err := s.sink.WriteAlignedObservations(state.Aligned()); err != nil {
		return fmt.Errorf("export aligned observations: %w", err)
	}
	if err := s.sink.WriteReport(state.Result()); err != nil {
		return fmt.Errorf("export comparison report: %w", err)
	}
	s.logger.InfoContext(ctx, "run outputs written")
	return nil
}
