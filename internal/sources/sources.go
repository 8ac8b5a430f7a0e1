// Package sources defines the boundary collaborators the core depends
// on, plus file-backed implementations matching the research data
// layout: a document embedding CSV and one price CSV per firm.
package sources

import (
	"context"

	"comovecli/pkg/contracts/domain"
)

// EmbeddingSource provides raw document embeddings. Zero records for a
// (firm, period) request is a valid answer meaning no filing was
// embedded for that window.
type EmbeddingSource interface {
	// Firms lists every firm identifier the source knows about.
	Firms(ctx context.Context) ([]string, error)
	// Periods lists every period with at least one embedding.
	Periods(ctx context.Context) ([]domain.Period, error)
	// Embeddings returns all records for one firm and period.
	Embeddings(ctx context.Context, firmID string, period domain.Period) ([]domain.DocumentEmbedding, error)
}

// PriceSource provides adjusted close series, sorted ascending by date
// with no duplicate dates.
type PriceSource interface {
	Prices(ctx context.Context, firmID string) ([]domain.PricePoint, error)
}
