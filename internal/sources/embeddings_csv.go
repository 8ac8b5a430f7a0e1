package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// CSVEmbeddingSource reads document embeddings from a single CSV file
// with columns: doc_id, ticker, period, section, filing_date,
// embedding. The embedding column holds a bracketed float list, e.g.
// "[0.12, -0.03, ...]". Bad rows are skipped with a warning; the file
// as a whole failing to load is a source error.
type CSVEmbeddingSource struct {
	byKey   map[string][]domain.DocumentEmbedding
	firms   []string
	periods []domain.Period
}

type embeddingColumns struct {
	docID, ticker, period, section, filingDate, embedding int
}

// NewCSVEmbeddingSource loads and indexes the embedding file.
func NewCSVEmbeddingSource(path string, logger *slog.Logger) (*CSVEmbeddingSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("open embeddings file %s", path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("read embeddings file %s", path), err)
	}
	if len(records) < 2 {
		return nil, apperrors.NewSourceError(fmt.Sprintf("embeddings file %s has no data rows", path), nil)
	}

	cols, err := mapEmbeddingColumns(records[0])
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("embeddings file %s", path), err)
	}

	s := &CSVEmbeddingSource{byKey: make(map[string][]domain.DocumentEmbedding)}
	firmSet := make(map[string]struct{})
	periodSet := make(map[domain.Period]struct{})
	skipped := 0
	for i, row := range records[1:] {
		record, err := parseEmbeddingRow(row, cols)
		if err != nil {
			skipped++
			logger.Warn("skipping bad embedding row",
				"file", path,
				"line", i+2,
				"error", err,
			)
			continue
		}
		key := embeddingKey(record.FirmID, record.Period)
		s.byKey[key] = append(s.byKey[key], record)
		firmSet[record.FirmID] = struct{}{}
		periodSet[record.Period] = struct{}{}
	}

	for firm := range firmSet {
		s.firms = append(s.firms, firm)
	}
	sort.Strings(s.firms)
	for period := range periodSet {
		s.periods = append(s.periods, period)
	}
	sort.Slice(s.periods, func(i, j int) bool { return s.periods[i].Before(s.periods[j]) })

	logger.Info("loaded embeddings",
		"file", path,
		"firms", len(s.firms),
		"periods", len(s.periods),
		"rows_skipped", skipped,
	)
	return s, nil
}

func mapEmbeddingColumns(header []string) (embeddingColumns, error) {
	cols := embeddingColumns{docID: -1, ticker: -1, period: -1, section: -1, filingDate: -1, embedding: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "doc_id", "document_id":
			cols.docID = i
		case "ticker", "firm_id", "symbol":
			cols.ticker = i
		case "period", "quarter":
			cols.period = i
		case "section", "section_tag":
			cols.section = i
		case "filing_date", "date":
			cols.filingDate = i
		case "embedding", "vector":
			cols.embedding = i
		}
	}
	if cols.docID < 0 || cols.ticker < 0 || cols.period < 0 || cols.embedding < 0 {
		return cols, fmt.Errorf("header missing required columns (doc_id, ticker, period, embedding): %v", header)
	}
	return cols, nil
}

func parseEmbeddingRow(row []string, cols embeddingColumns) (domain.DocumentEmbedding, error) {
	get := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	period, err := domain.ParsePeriod(get(cols.period))
	if err != nil {
		return domain.DocumentEmbedding{}, err
	}
	vector, err := parseVector(get(cols.embedding))
	if err != nil {
		return domain.DocumentEmbedding{}, err
	}

	record := domain.DocumentEmbedding{
		DocumentID: get(cols.docID),
		FirmID:     get(cols.ticker),
		Period:     period,
		SectionTag: get(cols.section),
		Vector:     vector,
	}
	if record.DocumentID == "" || record.FirmID == "" {
		return domain.DocumentEmbedding{}, fmt.Errorf("missing doc_id or ticker")
	}
	if raw := get(cols.filingDate); raw != "" {
		filed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return domain.DocumentEmbedding{}, fmt.Errorf("bad filing_date %q: %w", raw, err)
		}
		record.FilingDate = filed
	} else {
		// Without a filing date, the period anchor is the best
		// available as-of point.
		record.FilingDate = period.Anchor()
	}
	return record, nil
}

// parseVector parses "[0.1, -0.2, 3e-4]" into a float slice.
func parseVector(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, fmt.Errorf("embedding %q is not a bracketed list", truncate(raw, 40))
	}
	inner := strings.TrimSpace(raw[1 : len(raw)-1])
	if inner == "" {
		return nil, fmt.Errorf("embedding is empty")
	}
	parts := strings.Split(inner, ",")
	vector := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("embedding element %d: %w", i, err)
		}
		vector[i] = v
	}
	return vector, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func embeddingKey(firmID string, period domain.Period) string {
	return firmID + "|" + period.String()
}

// Firms implements EmbeddingSource.
func (s *CSVEmbeddingSource) Firms(ctx context.Context) ([]string, error) {
	return s.firms, nil
}

// Periods implements EmbeddingSource.
func (s *CSVEmbeddingSource) Periods(ctx context.Context) ([]domain.Period, error) {
	return s.periods, nil
}

// Embeddings implements EmbeddingSource.
func (s *CSVEmbeddingSource) Embeddings(ctx context.Context, firmID string, period domain.Period) ([]domain.DocumentEmbedding, error) {
	return s.byKey[embeddingKey(firmID, period)], nil
}
