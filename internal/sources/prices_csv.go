package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// CSVPriceSource reads one OHLCV CSV per firm from a directory, named
// <FIRM>.csv. The "Adj Close" column is preferred, falling back to
// "Close". Files are read on demand and cached for the run.
type CSVPriceSource struct {
	dir    string
	logger *slog.Logger
	cache  map[string][]domain.PricePoint
}

// NewCSVPriceSource validates the directory and returns a source.
func NewCSVPriceSource(dir string, logger *slog.Logger) (*CSVPriceSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("price directory %s", dir), err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewSourceError(fmt.Sprintf("price path %s is not a directory", dir), nil)
	}
	return &CSVPriceSource{
		dir:    dir,
		logger: logger,
		cache:  make(map[string][]domain.PricePoint),
	}, nil
}

// Prices implements PriceSource. A missing file for a firm is a source
// error; the caller decides whether to continue without the firm.
func (s *CSVPriceSource) Prices(ctx context.Context, firmID string) ([]domain.PricePoint, error) {
	if cached, ok := s.cache[firmID]; ok {
		return cached, nil
	}

	path := filepath.Join(s.dir, firmID+".csv")
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("open price file for %s", firmID), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("read price file for %s", firmID), err)
	}
	if len(records) < 2 {
		return nil, apperrors.NewSourceError(fmt.Sprintf("price file for %s has no data rows", firmID), nil)
	}

	dateCol, closeCol, err := mapPriceColumns(records[0])
	if err != nil {
		return nil, apperrors.NewSourceError(fmt.Sprintf("price file for %s", firmID), err)
	}

	points := make([]domain.PricePoint, 0, len(records)-1)
	seen := make(map[time.Time]bool)
	skipped := 0
	for i, row := range records[1:] {
		if dateCol >= len(row) || closeCol >= len(row) {
			skipped++
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(row[dateCol]))
		if err != nil {
			skipped++
			s.logger.Warn("skipping bad price row",
				"firm_id", firmID,
				"line", i+2,
				"error", err,
			)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(row[closeCol]), 64)
		if err != nil {
			skipped++
			s.logger.Warn("skipping bad price row",
				"firm_id", firmID,
				"line", i+2,
				"error", err,
			)
			continue
		}
		if seen[date] {
			skipped++
			s.logger.Warn("skipping duplicate price date",
				"firm_id", firmID,
				"date", date.Format("2006-01-02"),
			)
			continue
		}
		seen[date] = true
		points = append(points, domain.PricePoint{Date: date, AdjustedClose: price})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	s.logger.Debug("loaded prices",
		"firm_id", firmID,
		"points", len(points),
		"rows_skipped", skipped,
	)
	s.cache[firmID] = points
	return points, nil
}

func mapPriceColumns(header []string) (dateCol, closeCol int, err error) {
	dateCol, closeCol = -1, -1
	fallback := -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "adj close", "adjclose", "adjusted_close":
			closeCol = i
		case "close":
			fallback = i
		}
	}
	if closeCol < 0 {
		closeCol = fallback
	}
	if dateCol < 0 || closeCol < 0 {
		return -1, -1, fmt.Errorf("header missing Date and Adj Close/Close columns: %v", header)
	}
	return dateCol, closeCol, nil
}
