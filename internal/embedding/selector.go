// Package embedding reduces raw document embeddings to one
// representative vector per firm and analysis period.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"

	"comovecli/internal/config"
	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// Policy selects one vector from a firm's candidate embeddings.
type Policy string

const (
	// PolicyLatest picks the embedding with the most recent filing date
	// at or before the period anchor, ties broken by lexicographically
	// greatest document id. Filings dated after the anchor are ignored:
	// using them would leak future text into the period.
	PolicyLatest Policy = "latest"
	// PolicySectionOnly filters candidates to one section tag, then
	// applies the latest rule.
	PolicySectionOnly Policy = "section-only"
	// PolicyMeanOfChunks averages all candidate vectors and
	// re-normalizes, mirroring upstream chunk aggregation.
	PolicyMeanOfChunks Policy = "mean-of-chunks"
)

// Selector picks one firm-level vector per (firm, period).
type Selector struct {
	policy        Policy
	sectionFilter string
	logger        *slog.Logger
}

// NewSelector builds a selector from configuration.
func NewSelector(cfg config.SelectionConfig, logger *slog.Logger) (*Selector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy := Policy(cfg.Policy)
	switch policy {
	case PolicyLatest, PolicySectionOnly, PolicyMeanOfChunks:
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown selection policy %q", cfg.Policy), nil)
	}
	if policy == PolicySectionOnly && cfg.SectionFilter == "" {
		return nil, apperrors.NewConfigError("section-only policy requires a section filter", nil)
	}
	return &Selector{
		policy:        policy,
		sectionFilter: cfg.SectionFilter,
		logger:        logger,
	}, nil
}

// Result carries the selected vectors for one period together with the
// count of firms that had candidates but produced no vector.
type Result struct {
	Vectors []domain.FirmPeriodVector
	Missing int
}

// SelectPeriod reduces all candidate embeddings for one period to at
// most one vector per firm. Firms without a usable candidate emit no
// vector; callers must treat absence as insufficient data, never as a
// zero vector. Mixed dimensionalities are fatal.
func (s *Selector) SelectPeriod(ctx context.Context, period domain.Period, candidates []domain.DocumentEmbedding) (Result, error) {
	byFirm := make(map[string][]domain.DocumentEmbedding)
	dimension := 0
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			s.logger.WarnContext(ctx, "skipping embedding with empty vector",
				"document_id", c.DocumentID,
				"firm_id", c.FirmID,
				"period", period.String(),
			)
			continue
		}
		if dimension == 0 {
			dimension = c.Dimension()
		} else if c.Dimension() != dimension {
			return Result{}, apperrors.NewDimensionMismatchError(
				fmt.Sprintf("embedding %s has dimension %d, expected %d", c.DocumentID, c.Dimension(), dimension), nil).
				WithContext("period", period.String()).
				WithContext("firm_id", c.FirmID)
		}
		byFirm[c.FirmID] = append(byFirm[c.FirmID], c)
	}

	firms := make([]string, 0, len(byFirm))
	for firm := range byFirm {
		firms = append(firms, firm)
	}
	sort.Strings(firms)

	result := Result{}
	for _, firm := range firms {
		vector, ok, err := s.selectFirm(period, byFirm[firm])
		if err != nil {
			return Result{}, err
		}
		if !ok {
			result.Missing++
			s.logger.WarnContext(ctx, "no vector selected for firm",
				"firm_id", firm,
				"period", period.String(),
				"candidates", len(byFirm[firm]),
				"policy", string(s.policy),
			)
			continue
		}
		result.Vectors = append(result.Vectors, vector)
	}

	s.logger.InfoContext(ctx, "period vector selection completed",
		"period", period.String(),
		"firms_selected", len(result.Vectors),
		"firms_missing", result.Missing,
	)
	return result, nil
}

func (s *Selector) selectFirm(period domain.Period, candidates []domain.DocumentEmbedding) (domain.FirmPeriodVector, bool, error) {
	anchor := period.Anchor()

	eligible := candidates[:0:0]
	for _, c := range candidates {
		if c.FilingDate.After(anchor) {
			continue
		}
		if s.policy == PolicySectionOnly && c.SectionTag != s.sectionFilter {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return domain.FirmPeriodVector{}, false, nil
	}

	firm := eligible[0].FirmID
	sectionTag := s.sectionFilter

	switch s.policy {
	case PolicyMeanOfChunks:
		mean := make([]float64, len(eligible[0].Vector))
		latest := eligible[0].FilingDate
		for _, c := range eligible {
			floats.Add(mean, c.Vector)
			if c.FilingDate.After(latest) {
				latest = c.FilingDate
			}
		}
		floats.Scale(1/float64(len(eligible)), mean)
		vector, err := domain.NewFirmPeriodVector(firm, period, sectionTag, mean, latest)
		if err != nil {
			// Chunks can cancel to a zero mean; treat as missing.
			return domain.FirmPeriodVector{}, false, nil
		}
		return vector, true, nil

	default: // latest and section-only
		chosen := eligible[0]
		for _, c := range eligible[1:] {
			if c.FilingDate.After(chosen.FilingDate) ||
				(c.FilingDate.Equal(chosen.FilingDate) && c.DocumentID > chosen.DocumentID) {
				chosen = c
			}
		}
		if s.policy == PolicyLatest {
			sectionTag = chosen.SectionTag
		}
		vector, err := domain.NewFirmPeriodVector(firm, period, sectionTag, chosen.Vector, chosen.FilingDate)
		if err != nil {
			return domain.FirmPeriodVector{}, false, nil
		}
		return vector, true, nil
	}
}
