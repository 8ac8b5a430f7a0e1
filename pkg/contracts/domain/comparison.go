package domain

import "time"

// AlignedObservation is one pair present in both the similarity and the
// correlation relation for the chosen lag. It is the unit of statistical
// analysis, owned by the alignment join and read-only downstream.
type AlignedObservation struct {
	Period      Period             `json:"period"` // similarity-side period
	FirmI       string             `json:"firm_i"`
	FirmJ       string             `json:"firm_j"`
	Similarity  float64            `json:"similarity"`
	Correlation float64            `json:"correlation"`
	Lag         int                `json:"lag"`
	Controls    map[string]float64 `json:"controls,omitempty"`

	// HasControls reports whether every required control was present.
	// Rows without them are excluded from regression but still feed the
	// rank and AUC analyses.
	HasControls bool `json:"has_controls"`
}

// ExclusionReason classifies why a pair, period or analysis was dropped.
type ExclusionReason string

const (
	ExclusionMissingVector        ExclusionReason = "missing_vector"
	ExclusionInsufficientOverlap  ExclusionReason = "insufficient_overlap"
	ExclusionUndefinedCorrelation ExclusionReason = "undefined_correlation"
	ExclusionJoinUnmatched        ExclusionReason = "join_unmatched"
	ExclusionMissingControls      ExclusionReason = "missing_controls"
	ExclusionDegenerateLabel      ExclusionReason = "degenerate_label"
)

// ExclusionCounts tallies dropped pairs per reason, so silent data loss
// never goes unreported.
type ExclusionCounts map[ExclusionReason]int

// Add increments the tally for a reason by n.
func (c ExclusionCounts) Add(reason ExclusionReason, n int) {
	c[reason] += n
}

// Merge folds another tally into this one.
func (c ExclusionCounts) Merge(other ExclusionCounts) {
	for reason, n := range other {
		c[reason] += n
	}
}

// Total returns the sum across all reasons.
func (c ExclusionCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Coefficient is one fitted regression term.
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"` // heteroskedasticity-robust (HC1)
	TStat    float64 `json:"t_stat"`
	CILower  float64 `json:"ci_lower"`
	CIUpper  float64 `json:"ci_upper"`
}

// RegressionResult reports the OLS fit of transformed correlation on
// similarity plus controls.
type RegressionResult struct {
	Coefficients []Coefficient `json:"coefficients"`
	RSquared     float64       `json:"r_squared"`
	Observations int           `json:"observations"`
}

// DecileRow summarizes one similarity decile.
type DecileRow struct {
	Decile            int     `json:"decile"` // 1 = lowest similarity
	Count             int     `json:"count"`
	MeanSimilarity    float64 `json:"mean_similarity"`
	MeanCorrelation   float64 `json:"mean_correlation"`
	MedianCorrelation float64 `json:"median_correlation"`
}

// DecileResult reports the rank/decile check with its monotonicity
// statistic (Spearman rank correlation between decile index and decile
// mean correlation).
type DecileResult struct {
	Rows         []DecileRow `json:"rows"`
	Monotonicity float64     `json:"monotonicity"`
	PerPeriod    bool        `json:"per_period"`
}

// ROCPoint is one operating point of the ROC curve.
type ROCPoint struct {
	Threshold float64 `json:"threshold"`
	TPR       float64 `json:"tpr"`
	FPR       float64 `json:"fpr"`
}

// AUCResult reports discrimination of similarity for the binary
// above-threshold correlation label.
type AUCResult struct {
	AUC       float64    `json:"auc"`
	Positives int        `json:"positives"`
	Negatives int        `json:"negatives"`
	Curve     []ROCPoint `json:"curve"`
}

// ComparisonResult is the immutable artifact of one analysis run. Any
// analysis section may be nil when its preconditions failed; Errors
// records why.
type ComparisonResult struct {
	RunID       string            `json:"run_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Lag         int               `json:"lag"`
	Regression  *RegressionResult `json:"regression,omitempty"`
	Deciles     *DecileResult     `json:"deciles,omitempty"`
	AUC         *AUCResult        `json:"auc,omitempty"`
	Exclusions  ExclusionCounts   `json:"exclusions"`
	Errors      map[string]string `json:"errors,omitempty"` // analysis name -> failure
}
