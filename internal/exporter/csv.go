// Package exporter persists analysis artifacts: CSV files for the pair
// relations and aligned observations, and an Excel workbook for the
// comparison report. Writes are one-way; nothing in the core reads
// results back.
package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"comovecli/pkg/contracts/domain"
)

// CSVWriter writes result collections under an output directory.
type CSVWriter struct {
	outputDir string
	logger    *slog.Logger
}

// NewCSVWriter creates a CSV writer rooted at outputDir.
func NewCSVWriter(outputDir string, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{outputDir: outputDir, logger: logger}
}

// WriteOptions configures one CSV write.
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	BOMPrefix bool // UTF-8 BOM for Excel compatibility
}

// WriteCSV writes one file under the output directory.
func (w *CSVWriter) WriteCSV(name string, options WriteOptions) error {
	fullPath := filepath.Join(w.outputDir, name)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", fullPath, err)
	}
	defer file.Close()

	if options.BOMPrefix {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if len(options.Headers) > 0 {
		if err := writer.Write(options.Headers); err != nil {
			return fmt.Errorf("write headers: %w", err)
		}
	}
	for i, record := range options.Records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}

	w.logger.Info("wrote CSV file",
		"path", fullPath,
		"records", len(options.Records),
	)
	return writer.Error()
}

// WriteSimilarityPairs persists the similarity relation.
func (w *CSVWriter) WriteSimilarityPairs(pairs []domain.SimilarityPair) error {
	records := make([][]string, len(pairs))
	for i, p := range pairs {
		records[i] = []string{
			p.Period.String(),
			p.FirmI,
			p.FirmJ,
			formatFloat(p.Value),
			p.SectionTag,
			p.ModelTag,
		}
	}
	return w.WriteCSV("similarity_pairs.csv", WriteOptions{
		Headers: []string{"period", "firm_i", "firm_j", "cosine_similarity", "section_tag", "model_tag"},
		Records: records,
	})
}

// WriteCorrelationPairs persists the correlation relation.
func (w *CSVWriter) WriteCorrelationPairs(pairs []domain.CorrelationPair) error {
	records := make([][]string, len(pairs))
	for i, p := range pairs {
		records[i] = []string{
			p.Period.String(),
			p.FirmI,
			p.FirmJ,
			strconv.Itoa(p.WindowDays),
			formatFloat(p.Value),
			strconv.FormatBool(p.Transformed),
			strconv.Itoa(p.Overlap),
		}
	}
	return w.WriteCSV("correlation_pairs.csv", WriteOptions{
		Headers: []string{"period", "firm_i", "firm_j", "window_days", "value", "transformed", "overlap"},
		Records: records,
	})
}

// WriteAlignedObservations persists the aligned dataset.
func (w *CSVWriter) WriteAlignedObservations(observations []domain.AlignedObservation) error {
	records := make([][]string, len(observations))
	for i, o := range observations {
		records[i] = []string{
			o.Period.String(),
			o.FirmI,
			o.FirmJ,
			formatFloat(o.Similarity),
			formatFloat(o.Correlation),
			strconv.Itoa(o.Lag),
			strconv.FormatBool(o.HasControls),
		}
	}
	return w.WriteCSV("aligned_observations.csv", WriteOptions{
		Headers: []string{"period", "firm_i", "firm_j", "similarity", "correlation", "lag", "has_controls"},
		Records: records,
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
