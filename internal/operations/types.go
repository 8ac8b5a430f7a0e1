package operations

import (
	"time"

	apperrors "comovecli/internal/errors"
)

// Step identifiers, in execution order.
const (
	StepIDSelectVectors = "select-vectors"
	StepIDSimilarity    = "similarity"
	StepIDCorrelation   = "correlation"
	StepIDAlign         = "align"
	StepIDCompare       = "compare"
	StepIDExport        = "export"
)

// Human-readable step names.
const (
	StepNameSelectVectors = "Select Firm Vectors"
	StepNameSimilarity    = "Pairwise Similarity"
	StepNameCorrelation   = "Rolling Correlation"
	StepNameAlign         = "Align Panels"
	StepNameCompare       = "Compare Distributions"
	StepNameExport        = "Export Results"
)

// RetryConfig controls retries of failed steps.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration.
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff delay before the given retry attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// IsRetryable reports whether a step error is worth retrying. Only
// source errors are transient; computation and configuration errors
// will fail again on the same inputs.
func IsRetryable(err error) bool {
	return apperrors.IsType(err, apperrors.ErrTypeSource)
}
