package sources

import (
	"context"
	"sort"

	"comovecli/pkg/contracts/domain"
)

// MemoryEmbeddingSource is an in-memory EmbeddingSource for tests and
// callers that assemble records programmatically.
type MemoryEmbeddingSource struct {
	records []domain.DocumentEmbedding
}

// NewMemoryEmbeddingSource wraps a record slice.
func NewMemoryEmbeddingSource(records []domain.DocumentEmbedding) *MemoryEmbeddingSource {
	return &MemoryEmbeddingSource{records: records}
}

// Firms implements EmbeddingSource.
func (s *MemoryEmbeddingSource) Firms(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, r := range s.records {
		seen[r.FirmID] = struct{}{}
	}
	firms := make([]string, 0, len(seen))
	for firm := range seen {
		firms = append(firms, firm)
	}
	sort.Strings(firms)
	return firms, nil
}

// Periods implements EmbeddingSource.
func (s *MemoryEmbeddingSource) Periods(ctx context.Context) ([]domain.Period, error) {
	seen := make(map[domain.Period]struct{})
	for _, r := range s.records {
		seen[r.Period] = struct{}{}
	}
	periods := make([]domain.Period, 0, len(seen))
	for p := range seen {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods, nil
}

// Embeddings implements EmbeddingSource.
func (s *MemoryEmbeddingSource) Embeddings(ctx context.Context, firmID string, period domain.Period) ([]domain.DocumentEmbedding, error) {
	var out []domain.DocumentEmbedding
	for _, r := range s.records {
		if r.FirmID == firmID && r.Period == period {
			out = append(out, r)
		}
	}
	return out, nil
}

// MemoryPriceSource is an in-memory PriceSource keyed by firm.
type MemoryPriceSource struct {
	series map[string][]domain.PricePoint
}

// NewMemoryPriceSource wraps a firm-to-prices map.
func NewMemoryPriceSource(series map[string][]domain.PricePoint) *MemoryPriceSource {
	return &MemoryPriceSource{series: series}
}

// Prices implements PriceSource.
func (s *MemoryPriceSource) Prices(ctx context.Context, firmID string) ([]domain.PricePoint, error) {
	return s.series[firmID], nil
}
