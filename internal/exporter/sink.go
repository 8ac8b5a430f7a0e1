package exporter

import (
	"log/slog"

	"comovecli/pkg/contracts/domain"
)

// Sink receives the result collections of one analysis run. Writes are
// one-way; nothing reads the outputs back.
type Sink interface {
	WriteSimilarityPairs(pairs []domain.SimilarityPair) error
	WriteCorrelationPairs(pairs []domain.CorrelationPair) error
	WriteAlignedObservations(observations []domain.AlignedObservation) error
	WriteReport(result *domain.ComparisonResult) error
}

// FileSink writes the pair relations as CSV files and the comparison
// result as an Excel workbook, all under one output directory.
type FileSink struct {
	*CSVWriter
	*ExcelReporter
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a sink writing to the given directory.
func NewFileSink(outputDir string, logger *slog.Logger) *FileSink {
	return &FileSink{
		CSVWriter:     NewCSVWriter(outputDir, logger),
		ExcelReporter: NewExcelReporter(outputDir, logger),
	}
}
