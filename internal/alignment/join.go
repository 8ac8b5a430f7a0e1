// Package alignment inner-joins the similarity and correlation pair
// relations into the aligned dataset consumed by the comparison engine.
package alignment

import (
	"context"
	"log/slog"
	"sort"

	"comovecli/internal/config"
	"comovecli/pkg/contracts/domain"
)

// ControlsProvider supplies caller-defined control variables for a
// canonical pair in a period (e.g., same-sector indicator, market-cap
// difference). ok is false when no controls exist for the key.
type ControlsProvider interface {
	Controls(period domain.Period, firmI, firmJ string) (map[string]float64, bool)
}

// StaticControls is a ControlsProvider backed by a map keyed by
// period label and canonical pair.
type StaticControls map[string]map[string]float64

// Key builds the lookup key used by StaticControls.
func Key(period domain.Period, firmI, firmJ string) string {
	return period.String() + "|" + firmI + "|" + firmJ
}

// Controls implements ControlsProvider.
func (s StaticControls) Controls(period domain.Period, firmI, firmJ string) (map[string]float64, bool) {
	c, ok := s[Key(period, firmI, firmJ)]
	return c, ok
}

// Joiner merges SimilarityPair and CorrelationPair relations on
// (period, firm_i, firm_j) after applying the configured lag.
type Joiner struct {
	lag              int
	requiredControls []string
	logger           *slog.Logger
}

// NewJoiner builds a joiner from configuration.
func NewJoiner(cfg config.AlignmentConfig, logger *slog.Logger) *Joiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{
		lag:              cfg.Lag,
		requiredControls: cfg.RequiredControls,
		logger:           logger,
	}
}

type joinKey struct {
	period domain.Period
	firmI  string
	firmJ  string
}

// Join produces one AlignedObservation per pair present in both
// relations: similarity at period t against correlation at period
// t+lag. Rows present in only one relation are dropped and tallied,
// never imputed. Rows missing a required control are retained with
// HasControls=false — usable by rank and AUC analyses but not by the
// regression. Output is sorted by (period, firm_i, firm_j); the period
// is the similarity-side period.
func (j *Joiner) Join(ctx context.Context, sims []domain.SimilarityPair, corrs []domain.CorrelationPair, controls ControlsProvider) ([]domain.AlignedObservation, domain.ExclusionCounts) {
	excluded := domain.ExclusionCounts{}

	corrIndex := make(map[joinKey]domain.CorrelationPair, len(corrs))
	for _, c := range corrs {
		corrIndex[joinKey{c.Period, c.FirmI, c.FirmJ}] = c
	}

	matched := make(map[joinKey]bool, len(sims))
	observations := make([]domain.AlignedObservation, 0, len(sims))
	for _, s := range sims {
		key := joinKey{s.Period.Add(j.lag), s.FirmI, s.FirmJ}
		c, ok := corrIndex[key]
		if !ok {
			excluded.Add(domain.ExclusionJoinUnmatched, 1)
			continue
		}
		matched[key] = true

		obs := domain.AlignedObservation{
			Period:      s.Period,
			FirmI:       s.FirmI,
			FirmJ:       s.FirmJ,
			Similarity:  s.Value,
			Correlation: c.Value,
			Lag:         j.lag,
			HasControls: true,
		}
		if controls != nil {
			values, _ := controls.Controls(s.Period, s.FirmI, s.FirmJ)
			obs.Controls = values
		}
		for _, name := range j.requiredControls {
			if _, ok := obs.Controls[name]; !ok {
				obs.HasControls = false
				excluded.Add(domain.ExclusionMissingControls, 1)
				break
			}
		}
		observations = append(observations, obs)
	}

	// Correlation rows never matched by any similarity row are the
	// other half of the dropped outer join.
	unmatchedCorrs := len(corrs) - len(matched)
	if unmatchedCorrs > 0 {
		excluded.Add(domain.ExclusionJoinUnmatched, unmatchedCorrs)
	}

	sort.Slice(observations, func(i, k int) bool {
		a, b := observations[i], observations[k]
		if cmp := a.Period.Compare(b.Period); cmp != 0 {
			return cmp < 0
		}
		if a.FirmI != b.FirmI {
			return a.FirmI < b.FirmI
		}
		return a.FirmJ < b.FirmJ
	})

	j.logger.InfoContext(ctx, "alignment join completed",
		"lag", j.lag,
		"similarity_rows", len(sims),
		"correlation_rows", len(corrs),
		"aligned", len(observations),
		"dropped", excluded[domain.ExclusionJoinUnmatched],
	)
	return observations, excluded
}
