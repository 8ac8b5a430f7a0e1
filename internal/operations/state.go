package operations

import (
	"sync"
	"time"

	"comovecli/internal/alignment"
	"comovecli/internal/config"
	"comovecli/internal/sources"
	"comovecli/pkg/contracts/domain"
)

// RunStatus represents the overall run status.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunState carries the inputs and the accumulating outputs of one
// analysis run. Steps read what earlier steps wrote; all accessors are
// safe for concurrent use because steps fan out per period internally.
type RunState struct {
	mu sync.RWMutex

	ID        string
	Status    RunStatus
	StartTime time.Time
	EndTime   *time.Time
	Error     error

	// Inputs, set once before the run starts.
	Config     *config.Config
	Embeddings sources.EmbeddingSource
	Prices     sources.PriceSource
	Controls   alignment.ControlsProvider

	// Step states keyed by step ID.
	steps map[string]*StepState

	// Intermediate and final outputs.
	periods      []domain.Period
	vectors      map[domain.Period][]domain.FirmPeriodVector
	similarities []domain.SimilarityPair
	correlations []domain.CorrelationPair
	aligned      []domain.AlignedObservation
	result       *domain.ComparisonResult
	exclusions   domain.ExclusionCounts
}

// NewRunState creates a run state for the given run ID.
func NewRunState(id string, cfg *config.Config) *RunState {
	return &RunState{
		ID:         id,
		Status:     RunStatusPending,
		StartTime:  time.Now(),
		Config:     cfg,
		steps:      make(map[string]*StepState),
		vectors:    make(map[domain.Period][]domain.FirmPeriodVector),
		exclusions: make(domain.ExclusionCounts),
	}
}

// Start marks the run as running.
func (s *RunState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = RunStatusRunning
	s.StartTime = time.Now()
}

// Complete marks the run as completed.
func (s *RunState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusCompleted
}

// Fail marks the run as failed.
func (s *RunState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = RunStatusFailed
	s.Error = err
}

// Duration returns the elapsed time of the run.
func (s *RunState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// GetStep returns the state of a specific Step.
func (s *RunState) GetStep(stepID string) *StepState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steps[stepID]
}

// SetStep records the state of a specific Step.
func (s *RunState) SetStep(stepID string, state *StepState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[stepID] = state
}

// SetPeriods records the analysis periods for the run, in ascending
// order.
func (s *RunState) SetPeriods(periods []domain.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods = periods
}

// Periods returns the analysis periods for the run.
func (s *RunState) Periods() []domain.Period {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.periods
}

// SetVectors records the selected firm vectors for one period.
func (s *RunState) SetVectors(period domain.Period, vectors []domain.FirmPeriodVector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[period] = vectors
}

// Vectors returns the selected firm vectors for one period.
func (s *RunState) Vectors(period domain.Period) []domain.FirmPeriodVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors[period]
}

// VectorPeriodCount returns how many periods have selected vectors.
func (s *RunState) VectorPeriodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// AppendSimilarities adds similarity pairs produced for one period.
func (s *RunState) AppendSimilarities(pairs []domain.SimilarityPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.similarities = append(s.similarities, pairs...)
}

// Similarities returns all similarity pairs produced so far.
func (s *RunState) Similarities() []domain.SimilarityPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.similarities
}

// SetCorrelations records the rolling correlation pairs for the run.
func (s *RunState) SetCorrelations(pairs []domain.CorrelationPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations = pairs
}

// Correlations returns the rolling correlation pairs for the run.
func (s *RunState) Correlations() []domain.CorrelationPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.correlations
}

// SetAligned records the joined observations for the run.
func (s *RunState) SetAligned(observations []domain.AlignedObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aligned = observations
}

// Aligned returns the joined observations for the run.
func (s *RunState) Aligned() []domain.AlignedObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aligned
}

// SetResult records the final comparison result.
func (s *RunState) SetResult(result *domain.ComparisonResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
}

// Result returns the final comparison result, or nil before the
// comparison step has run.
func (s *RunState) Result() *domain.ComparisonResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// AddExclusions merges exclusion tallies from a step into the run total.
func (s *RunState) AddExclusions(counts domain.ExclusionCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exclusions.Merge(counts)
}

// AddExclusion increments a single exclusion reason.
func (s *RunState) AddExclusion(reason domain.ExclusionReason, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exclusions.Add(reason, n)
}

// Exclusions returns a copy of the accumulated exclusion tallies.
func (s *RunState) Exclusions() domain.ExclusionCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.ExclusionCounts, len(s.exclusions))
	out.Merge(s.exclusions)
	return out
}
