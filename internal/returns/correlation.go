package returns

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"comovecli/internal/config"
	apperrors "comovecli/internal/errors"
	"comovecli/pkg/contracts/domain"
)

// Aggregation selects how rolling windows map to a period value.
type Aggregation string

const (
	// AggregationAnchored computes one window per period, the trailing
	// windowDays trading days ending at or before the period anchor.
	AggregationAnchored Aggregation = "anchored"
	// AggregationMeanZ computes a rolling correlation at every trading
	// date, buckets windows by the period containing the window end
	// date, and reports the mean Fisher z per period (back-transformed
	// with tanh unless Fisher output was requested). This reproduces
	// the quarter-bucketed rolling series from the original research
	// pipeline.
	AggregationMeanZ Aggregation = "mean-z"
)

// Engine computes pairwise rolling correlations per period.
type Engine struct {
	windowDays     int
	minOverlap     int
	fisher         bool
	aggregation    Aggregation
	maxConcurrency int
	logger         *slog.Logger
}

// NewEngine builds a correlation engine from configuration.
func NewEngine(cfg config.CorrelationConfig, maxConcurrency int, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	agg := Aggregation(cfg.Aggregation)
	switch agg {
	case AggregationAnchored, AggregationMeanZ:
	case "":
		agg = AggregationAnchored
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown aggregation %q", cfg.Aggregation), nil)
	}
	if cfg.WindowDays < 2 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("window_days %d too small", cfg.WindowDays), nil)
	}
	if cfg.MinOverlap < 2 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("min_overlap %d too small", cfg.MinOverlap), nil)
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Engine{
		windowDays:     cfg.WindowDays,
		minOverlap:     cfg.MinOverlap,
		fisher:         cfg.FisherTransform,
		aggregation:    agg,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}, nil
}

// Compute produces CorrelationPair rows for every unordered firm pair
// and requested period. Pairs with too few overlapping observations or
// a zero-variance window are excluded and tallied, never emitted with a
// made-up value. Output is sorted by (period, firm_i, firm_j).
func (e *Engine) Compute(ctx context.Context, series map[string]domain.ReturnSeries, periods []domain.Period) ([]domain.CorrelationPair, domain.ExclusionCounts, error) {
	start := time.Now()

	firms := make([]string, 0, len(series))
	for firm := range series {
		firms = append(firms, firm)
	}
	sort.Strings(firms)

	sortedPeriods := make([]domain.Period, len(periods))
	copy(sortedPeriods, periods)
	sort.Slice(sortedPeriods, func(i, j int) bool { return sortedPeriods[i].Before(sortedPeriods[j]) })

	calendar := BuildCalendar(series)
	if calendar.Len() == 0 {
		return nil, domain.ExclusionCounts{}, nil
	}

	type pairKey struct{ i, j string }
	var pairKeys []pairKey
	for i := 0; i < len(firms); i++ {
		for j := i + 1; j < len(firms); j++ {
			pairKeys = append(pairKeys, pairKey{firms[i], firms[j]})
		}
	}

	e.logger.InfoContext(ctx, "starting correlation computation",
		"firms", len(firms),
		"pairs", len(pairKeys),
		"periods", len(sortedPeriods),
		"window_days", e.windowDays,
		"aggregation", string(e.aggregation),
	)

	// Partitioned reduce: each worker owns a chunk and its own output
	// slice and tally; results are concatenated after the group waits.
	workers := e.maxConcurrency
	if workers > len(pairKeys) {
		workers = len(pairKeys)
	}
	if workers == 0 {
		return nil, domain.ExclusionCounts{}, nil
	}

	chunkResults := make([][]domain.CorrelationPair, workers)
	chunkCounts := make([]domain.ExclusionCounts, workers)

	g, gctx := errgroup.WithContext(ctx)
	var next int
	var mu sync.Mutex
	for w := 0; w < workers; w++ {
		w := w
		chunkCounts[w] = domain.ExclusionCounts{}
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				mu.Lock()
				if next >= len(pairKeys) {
					mu.Unlock()
					return nil
				}
				pk := pairKeys[next]
				next++
				mu.Unlock()

				pairs := e.computePair(calendar, sortedPeriods,
					series[pk.i], series[pk.j], chunkCounts[w])
				chunkResults[w] = append(chunkResults[w], pairs...)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("correlation workers: %w", err)
	}

	var result []domain.CorrelationPair
	excluded := domain.ExclusionCounts{}
	for w := 0; w < workers; w++ {
		result = append(result, chunkResults[w]...)
		excluded.Merge(chunkCounts[w])
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if cmp := a.Period.Compare(b.Period); cmp != 0 {
			return cmp < 0
		}
		if a.FirmI != b.FirmI {
			return a.FirmI < b.FirmI
		}
		return a.FirmJ < b.FirmJ
	})

	e.logger.InfoContext(ctx, "correlation computation completed",
		"pairs_emitted", len(result),
		"pairs_excluded", excluded.Total(),
		"duration", time.Since(start),
	)
	return result, excluded, nil
}

// computePair evaluates every requested period for one canonical pair,
// advancing an incremental accumulator instead of recomputing each
// window from scratch.
func (e *Engine) computePair(calendar Calendar, periods []domain.Period, a, b domain.ReturnSeries, excluded domain.ExclusionCounts) []domain.CorrelationPair {
	firmI, firmJ := domain.CanonicalPair(a.FirmID, b.FirmID)
	if firmI != a.FirmID {
		a, b = b, a
	}
	dates, xs, ys := overlap(a, b)

	if e.aggregation == AggregationMeanZ {
		return e.computePairMeanZ(calendar, periods, firmI, firmJ, dates, xs, ys, excluded)
	}

	var out []domain.CorrelationPair
	var acc accumulator
	lo, hi := 0, 0
	for _, period := range periods {
		winStart, winEnd, ok := calendar.Window(period.Anchor(), e.windowDays)
		if !ok {
			excluded.Add(domain.ExclusionInsufficientOverlap, 1)
			continue
		}
		for hi < len(dates) && !dates[hi].After(winEnd) {
			acc.add(xs[hi], ys[hi])
			hi++
		}
		for lo < hi && dates[lo].Before(winStart) {
			acc.remove(xs[lo], ys[lo])
			lo++
		}

		rho, status := acc.corr(e.minOverlap)
		switch status {
		case corrInsufficient:
			excluded.Add(domain.ExclusionInsufficientOverlap, 1)
		case corrUndefined:
			excluded.Add(domain.ExclusionUndefinedCorrelation, 1)
		default:
			value := rho
			if e.fisher {
				value = FisherZ(rho)
			}
			out = append(out, domain.CorrelationPair{
				Period:      period,
				FirmI:       firmI,
				FirmJ:       firmJ,
				WindowDays:  e.windowDays,
				Value:       value,
				Transformed: e.fisher,
				Overlap:     acc.n,
			})
		}
	}
	return out
}

// computePairMeanZ slides the window one trading date at a time,
// collecting a Fisher z per full window and averaging within the period
// of each window end date.
func (e *Engine) computePairMeanZ(calendar Calendar, periods []domain.Period, firmI, firmJ string, dates []time.Time, xs, ys []float64, excluded domain.ExclusionCounts) []domain.CorrelationPair {
	requested := make(map[domain.Period]bool, len(periods))
	for _, p := range periods {
		requested[p] = true
	}

	type bucket struct {
		zSum       float64
		windows    int
		overlapSum int
		undefined  int
	}
	buckets := make(map[domain.Period]*bucket)

	var acc accumulator
	lo, hi := 0, 0
	for t := 0; t < calendar.Len(); t++ {
		end := calendar.Date(t)
		startIdx := t - e.windowDays + 1
		if startIdx < 0 {
			// Partial leading windows are not comparable; skip them the
			// way a rolling correlation emits NaN until filled.
			continue
		}
		winStart := calendar.Date(startIdx)

		for hi < len(dates) && !dates[hi].After(end) {
			acc.add(xs[hi], ys[hi])
			hi++
		}
		for lo < hi && dates[lo].Before(winStart) {
			acc.remove(xs[lo], ys[lo])
			lo++
		}

		period := domain.PeriodOf(end)
		if !requested[period] {
			continue
		}
		bk := buckets[period]
		if bk == nil {
			bk = &bucket{}
			buckets[period] = bk
		}
		rho, status := acc.corr(e.minOverlap)
		switch status {
		case corrUndefined:
			bk.undefined++
		case corrOK:
			bk.zSum += FisherZ(rho)
			bk.windows++
			bk.overlapSum += acc.n
		}
	}

	var out []domain.CorrelationPair
	for _, period := range periods {
		bk := buckets[period]
		if bk == nil || bk.windows == 0 {
			if bk != nil && bk.undefined > 0 {
				excluded.Add(domain.ExclusionUndefinedCorrelation, 1)
			} else {
				excluded.Add(domain.ExclusionInsufficientOverlap, 1)
			}
			continue
		}
		meanZ := bk.zSum / float64(bk.windows)
		value := FisherInv(meanZ)
		if e.fisher {
			value = meanZ
		}
		out = append(out, domain.CorrelationPair{
			Period:      period,
			FirmI:       firmI,
			FirmJ:       firmJ,
			WindowDays:  e.windowDays,
			Value:       value,
			Transformed: e.fisher,
			Overlap:     bk.overlapSum / bk.windows,
		})
	}
	return out
}

// overlap merges two sorted return series, keeping only dates where
// both firms have an observation. A date missing from either series is
// dropped from the overlap, never treated as a zero return.
func overlap(a, b domain.ReturnSeries) (dates []time.Time, xs, ys []float64) {
	i, j := 0, 0
	for i < len(a.Returns) && j < len(b.Returns) {
		da, db := a.Returns[i].Date, b.Returns[j].Date
		switch {
		case da.Before(db):
			i++
		case db.Before(da):
			j++
		default:
			dates = append(dates, da)
			xs = append(xs, a.Returns[i].Value)
			ys = append(ys, b.Returns[j].Value)
			i++
			j++
		}
	}
	return dates, xs, ys
}

type corrStatus int

const (
	corrOK corrStatus = iota
	corrInsufficient
	corrUndefined
)

// accumulator maintains running sums and cross-products for a sliding
// window, so advancing the window is O(points changed) instead of
// O(window).
type accumulator struct {
	n             int
	sx, sy        float64
	sxx, syy, sxy float64
}

func (a *accumulator) add(x, y float64) {
	a.n++
	a.sx += x
	a.sy += y
	a.sxx += x * x
	a.syy += y * y
	a.sxy += x * y
}

func (a *accumulator) remove(x, y float64) {
	a.n--
	a.sx -= x
	a.sy -= y
	a.sxx -= x * x
	a.syy -= y * y
	a.sxy -= x * y
}

// varianceFloor guards against catastrophic cancellation reporting a
// tiny negative variance for a constant series.
const varianceFloor = 1e-18

func (a *accumulator) corr(minOverlap int) (float64, corrStatus) {
	if a.n < minOverlap {
		return 0, corrInsufficient
	}
	n := float64(a.n)
	varX := a.sxx - a.sx*a.sx/n
	varY := a.syy - a.sy*a.sy/n
	if varX <= varianceFloor || varY <= varianceFloor {
		return 0, corrUndefined
	}
	cov := a.sxy - a.sx*a.sy/n
	rho := cov / math.Sqrt(varX*varY)
	if rho > 1 {
		rho = 1
	}
	if rho < -1 {
		rho = -1
	}
	return rho, corrOK
}
