package domain

import "time"

// CanonicalPair orders two firm identifiers under the total (lexical)
// order so that a pair has exactly one stored representation. Every
// pair-emission site must go through this function.
func CanonicalPair(a, b string) (firmI, firmJ string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// SimilarityPair is the cosine similarity between two firms' period
// vectors. Invariant: FirmI < FirmJ; the mirrored direction is never
// stored separately.
type SimilarityPair struct {
	Period     Period  `json:"period"`
	FirmI      string  `json:"firm_i"`
	FirmJ      string  `json:"firm_j"`
	Value      float64 `json:"value" validate:"gte=-1,lte=1"`
	SectionTag string  `json:"section_tag,omitempty"`
	ModelTag   string  `json:"model_tag,omitempty"`
}

// CorrelationPair is the rolling-window Pearson correlation of two
// firms' return series for a period. Transformed marks Fisher-z values.
type CorrelationPair struct {
	Period      Period  `json:"period"`
	FirmI       string  `json:"firm_i"`
	FirmJ       string  `json:"firm_j"`
	WindowDays  int     `json:"window_days"`
	Value       float64 `json:"value"`
	Transformed bool    `json:"transformed"`
	Overlap     int     `json:"overlap"` // overlapping return observations used
}

// ReturnObservation is a single daily return for a firm. Missing trading
// days are represented by absent observations, never by zeros.
type ReturnObservation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ReturnSeries holds one firm's daily returns sorted ascending by date.
type ReturnSeries struct {
	FirmID  string              `json:"firm_id"`
	Returns []ReturnObservation `json:"returns"`
}

// PricePoint is one adjusted close observation from the price source.
type PricePoint struct {
	Date          time.Time `json:"date"`
	AdjustedClose float64   `json:"adjusted_close"`
}
