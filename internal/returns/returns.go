// Package returns computes daily returns from adjusted close prices and
// rolling-window pairwise Pearson correlations aligned to analysis
// periods.
package returns

import (
	"fmt"
	"log/slog"
	"math"

	"comovecli/pkg/contracts/domain"
)

// Kind selects the daily return definition.
type Kind string

const (
	// KindSimple is price[t]/price[t-1] - 1.
	KindSimple Kind = "simple"
	// KindLog is ln(price[t]) - ln(price[t-1]).
	KindLog Kind = "log"
)

// ParseKind validates a textual return kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSimple, KindLog:
		return Kind(s), nil
	case "":
		return KindSimple, nil
	default:
		return "", fmt.Errorf("unknown return kind %q", s)
	}
}

// ComputeReturns derives a return series from a firm's price series.
// Prices arrive sorted ascending with no duplicate dates; the first
// observation has no prior price and yields no return. Non-positive
// prices are skipped with a warning — a gap stays a gap, it is never
// filled with zero.
func ComputeReturns(firmID string, prices []domain.PricePoint, kind Kind, logger *slog.Logger) domain.ReturnSeries {
	if logger == nil {
		logger = slog.Default()
	}

	series := domain.ReturnSeries{FirmID: firmID}
	if len(prices) < 2 {
		return series
	}

	prevClose := 0.0
	for _, p := range prices {
		if p.AdjustedClose <= 0 || math.IsNaN(p.AdjustedClose) || math.IsInf(p.AdjustedClose, 0) {
			logger.Warn("skipping invalid price",
				"firm_id", firmID,
				"date", p.Date.Format("2006-01-02"),
				"price", p.AdjustedClose,
			)
			// The next valid price has no usable prior.
			prevClose = 0
			continue
		}
		if prevClose > 0 {
			var r float64
			if kind == KindLog {
				r = math.Log(p.AdjustedClose) - math.Log(prevClose)
			} else {
				r = p.AdjustedClose/prevClose - 1
			}
			series.Returns = append(series.Returns, domain.ReturnObservation{Date: p.Date, Value: r})
		}
		prevClose = p.AdjustedClose
	}
	return series
}
