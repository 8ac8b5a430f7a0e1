// Package config provides the immutable run configuration for the
// comovement analysis engine. Configuration is layered: built-in
// defaults, then an optional YAML file, then COMOVE_* environment
// variables. The loaded value is threaded explicitly through every
// component; nothing reads global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "comovecli/internal/errors"
)

// Config is the complete configuration for one analysis run.
type Config struct {
	Selection   SelectionConfig   `yaml:"selection" envconfig:"SELECTION"`
	Correlation CorrelationConfig `yaml:"correlation" envconfig:"CORRELATION"`
	Alignment   AlignmentConfig   `yaml:"alignment" envconfig:"ALIGNMENT"`
	Inference   InferenceConfig   `yaml:"inference" envconfig:"INFERENCE"`
	Run         RunConfig         `yaml:"run" envconfig:"RUN"`
}

// SelectionConfig controls the period vector selector.
type SelectionConfig struct {
	// Policy is one of "latest", "section-only", "mean-of-chunks".
	Policy string `yaml:"policy" envconfig:"POLICY" default:"latest" validate:"oneof=latest section-only mean-of-chunks"`
	// SectionFilter restricts candidates to one section tag. Required
	// for the section-only policy.
	SectionFilter string `yaml:"section_filter" envconfig:"SECTION_FILTER"`
	// ModelTag labels output pairs with the embedding model used.
	ModelTag string `yaml:"model_tag" envconfig:"MODEL_TAG"`
}

// CorrelationConfig controls the returns and correlation engine.
type CorrelationConfig struct {
	// WindowDays is the trailing trading-day window ending at the
	// period anchor.
	WindowDays int `yaml:"window_days" envconfig:"WINDOW_DAYS" default:"120" validate:"min=2"`
	// MinOverlap is the minimum number of overlapping return
	// observations for a pair window to be computed at all.
	MinOverlap int `yaml:"min_overlap" envconfig:"MIN_OVERLAP" default:"20" validate:"min=2"`
	// FisherTransform reports correlations as Fisher z values.
	FisherTransform bool `yaml:"fisher_transform" envconfig:"FISHER_TRANSFORM"`
	// ReturnKind is "simple" or "log".
	ReturnKind string `yaml:"return_kind" envconfig:"RETURN_KIND" default:"simple" validate:"oneof=simple log"`
	// Aggregation is "anchored" (one window per period anchor) or
	// "mean-z" (mean Fisher z of every window ending in the period,
	// reported as tanh of the mean).
	Aggregation string `yaml:"aggregation" envconfig:"AGGREGATION" default:"anchored" validate:"oneof=anchored mean-z"`
}

// AlignmentConfig controls the similarity/correlation join.
type AlignmentConfig struct {
	// Lag matches correlation at period t+lag against similarity at t.
	Lag int `yaml:"lag" envconfig:"LAG" default:"0" validate:"min=-8,max=8"`
	// RequiredControls lists control names that must be present for a
	// row to enter the regression.
	RequiredControls []string `yaml:"required_controls" envconfig:"REQUIRED_CONTROLS"`
}

// InferenceConfig controls the comparison engine.
type InferenceConfig struct {
	DecileCount int `yaml:"decile_count" envconfig:"DECILE_COUNT" default:"10" validate:"min=2,max=100"`
	// DecileScope is "pooled" or "per-period".
	DecileScope string `yaml:"decile_scope" envconfig:"DECILE_SCOPE" default:"pooled" validate:"oneof=pooled per-period"`
	// AUCThreshold is "median" (per-period median label),
	// "pooled-median" (one median across all aligned observations)
	// or "fixed(v)" for a global cut at v.
	AUCThreshold Threshold `yaml:"auc_threshold" envconfig:"AUC_THRESHOLD" default:"median"`
	// ConfidenceLevel for regression intervals.
	ConfidenceLevel float64 `yaml:"confidence_level" envconfig:"CONFIDENCE_LEVEL" default:"0.95" validate:"gt=0,lt=1"`
}

// RunConfig controls execution and output.
type RunConfig struct {
	FromPeriod     string `yaml:"from_period" envconfig:"FROM_PERIOD"`
	ToPeriod       string `yaml:"to_period" envconfig:"TO_PERIOD"`
	MaxConcurrency int    `yaml:"max_concurrency" envconfig:"MAX_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	OutputDir      string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"results"`
	LogLevel       string `yaml:"log_level" envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	EnableTracing  bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
}

// ThresholdMode distinguishes the AUC labeling rules.
type ThresholdMode string

const (
	ThresholdMedian       ThresholdMode = "median"
	ThresholdPooledMedian ThresholdMode = "pooled-median"
	ThresholdFixed        ThresholdMode = "fixed"
)

// Threshold is the AUC label threshold: the per-period median, the
// pooled median across all observations, or a fixed global value,
// written "median", "pooled-median" or "fixed(0.25)".
type Threshold struct {
	Mode  ThresholdMode
	Value float64
}

// ParseThreshold parses the textual threshold form.
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(ThresholdMedian) {
		return Threshold{Mode: ThresholdMedian}, nil
	}
	if s == string(ThresholdPooledMedian) {
		return Threshold{Mode: ThresholdPooledMedian}, nil
	}
	if strings.HasPrefix(s, "fixed(") && strings.HasSuffix(s, ")") {
		raw := strings.TrimSuffix(strings.TrimPrefix(s, "fixed("), ")")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid fixed threshold %q: %w", raw, err)
		}
		return Threshold{Mode: ThresholdFixed, Value: v}, nil
	}
	return Threshold{}, fmt.Errorf("invalid auc_threshold %q (want median, pooled-median or fixed(v))", s)
}

// String returns the textual form parsed by ParseThreshold.
func (t Threshold) String() string {
	switch t.Mode {
	case ThresholdFixed:
		return fmt.Sprintf("fixed(%g)", t.Value)
	case ThresholdPooledMedian:
		return string(ThresholdPooledMedian)
	default:
		return string(ThresholdMedian)
	}
}

// Decode implements envconfig.Decoder.
func (t *Threshold) Decode(value string) error {
	parsed, err := ParseThreshold(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Threshold) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return t.Decode(raw)
}

// MarshalYAML implements yaml.Marshaler.
func (t Threshold) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or missing), then COMOVE_* environment
// variables on top.
func Load(path string) (*Config, error) {
	var cfg Config

	// envconfig applies struct defaults for unset variables.
	if err := envconfig.Process("COMOVE", &cfg); err != nil {
		return nil, apperrors.NewConfigError("process environment", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			fileCfg, err := loadFromFile(path)
			if err != nil {
				return nil, err
			}
			env := cfg
			cfg = mergeConfigs(*fileCfg, cfg)
			// Environment wins over the file. Re-running envconfig here
			// would also re-apply defaults over the file values, so only
			// variables actually present are copied back.
			applyEnvOverrides(&cfg, env)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("read config file %s", path), err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("parse config file %s", path), err)
	}
	return &cfg, nil
}

// mergeConfigs overlays non-zero fields of the file configuration onto
// the environment-derived base, preferring file values where set.
func mergeConfigs(file, base Config) Config {
	merged := base

	if file.Selection.Policy != "" {
		merged.Selection.Policy = file.Selection.Policy
	}
	if file.Selection.SectionFilter != "" {
		merged.Selection.SectionFilter = file.Selection.SectionFilter
	}
	if file.Selection.ModelTag != "" {
		merged.Selection.ModelTag = file.Selection.ModelTag
	}

	if file.Correlation.WindowDays != 0 {
		merged.Correlation.WindowDays = file.Correlation.WindowDays
	}
	if file.Correlation.MinOverlap != 0 {
		merged.Correlation.MinOverlap = file.Correlation.MinOverlap
	}
	if file.Correlation.FisherTransform {
		merged.Correlation.FisherTransform = true
	}
	if file.Correlation.ReturnKind != "" {
		merged.Correlation.ReturnKind = file.Correlation.ReturnKind
	}
	if file.Correlation.Aggregation != "" {
		merged.Correlation.Aggregation = file.Correlation.Aggregation
	}

	if file.Alignment.Lag != 0 {
		merged.Alignment.Lag = file.Alignment.Lag
	}
	if len(file.Alignment.RequiredControls) > 0 {
		merged.Alignment.RequiredControls = file.Alignment.RequiredControls
	}

	if file.Inference.DecileCount != 0 {
		merged.Inference.DecileCount = file.Inference.DecileCount
	}
	if file.Inference.DecileScope != "" {
		merged.Inference.DecileScope = file.Inference.DecileScope
	}
	if file.Inference.AUCThreshold.Mode != "" {
		merged.Inference.AUCThreshold = file.Inference.AUCThreshold
	}
	if file.Inference.ConfidenceLevel != 0 {
		merged.Inference.ConfidenceLevel = file.Inference.ConfidenceLevel
	}

	if file.Run.FromPeriod != "" {
		merged.Run.FromPeriod = file.Run.FromPeriod
	}
	if file.Run.ToPeriod != "" {
		merged.Run.ToPeriod = file.Run.ToPeriod
	}
	if file.Run.MaxConcurrency != 0 {
		merged.Run.MaxConcurrency = file.Run.MaxConcurrency
	}
	if file.Run.OutputDir != "" {
		merged.Run.OutputDir = file.Run.OutputDir
	}
	if file.Run.LogLevel != "" {
		merged.Run.LogLevel = file.Run.LogLevel
	}
	if file.Run.EnableTracing {
		merged.Run.EnableTracing = true
	}

	return merged
}

// applyEnvOverrides restores env-derived values over the merged
// configuration for every COMOVE_* variable explicitly set. env holds
// the result of envconfig.Process, so each set variable's parsed value
// is already there.
func applyEnvOverrides(cfg *Config, env Config) {
	overrides := []struct {
		key   string
		apply func()
	}{
		{"COMOVE_SELECTION_POLICY", func() { cfg.Selection.Policy = env.Selection.Policy }},
		{"COMOVE_SELECTION_SECTION_FILTER", func() { cfg.Selection.SectionFilter = env.Selection.SectionFilter }},
		{"COMOVE_SELECTION_MODEL_TAG", func() { cfg.Selection.ModelTag = env.Selection.ModelTag }},
		{"COMOVE_CORRELATION_WINDOW_DAYS", func() { cfg.Correlation.WindowDays = env.Correlation.WindowDays }},
		{"COMOVE_CORRELATION_MIN_OVERLAP", func() { cfg.Correlation.MinOverlap = env.Correlation.MinOverlap }},
		{"COMOVE_CORRELATION_FISHER_TRANSFORM", func() { cfg.Correlation.FisherTransform = env.Correlation.FisherTransform }},
		{"COMOVE_CORRELATION_RETURN_KIND", func() { cfg.Correlation.ReturnKind = env.Correlation.ReturnKind }},
		{"COMOVE_CORRELATION_AGGREGATION", func() { cfg.Correlation.Aggregation = env.Correlation.Aggregation }},
		{"COMOVE_ALIGNMENT_LAG", func() { cfg.Alignment.Lag = env.Alignment.Lag }},
		{"COMOVE_ALIGNMENT_REQUIRED_CONTROLS", func() { cfg.Alignment.RequiredControls = env.Alignment.RequiredControls }},
		{"COMOVE_INFERENCE_DECILE_COUNT", func() { cfg.Inference.DecileCount = env.Inference.DecileCount }},
		{"COMOVE_INFERENCE_DECILE_SCOPE", func() { cfg.Inference.DecileScope = env.Inference.DecileScope }},
		{"COMOVE_INFERENCE_AUC_THRESHOLD", func() { cfg.Inference.AUCThreshold = env.Inference.AUCThreshold }},
		{"COMOVE_INFERENCE_CONFIDENCE_LEVEL", func() { cfg.Inference.ConfidenceLevel = env.Inference.ConfidenceLevel }},
		{"COMOVE_RUN_FROM_PERIOD", func() { cfg.Run.FromPeriod = env.Run.FromPeriod }},
		{"COMOVE_RUN_TO_PERIOD", func() { cfg.Run.ToPeriod = env.Run.ToPeriod }},
		{"COMOVE_RUN_MAX_CONCURRENCY", func() { cfg.Run.MaxConcurrency = env.Run.MaxConcurrency }},
		{"COMOVE_RUN_OUTPUT_DIR", func() { cfg.Run.OutputDir = env.Run.OutputDir }},
		{"COMOVE_RUN_LOG_LEVEL", func() { cfg.Run.LogLevel = env.Run.LogLevel }},
		{"COMOVE_RUN_ENABLE_TRACING", func() { cfg.Run.EnableTracing = env.Run.EnableTracing }},
	}
	for _, o := range overrides {
		if _, ok := os.LookupEnv(o.key); ok {
			o.apply()
		}
	}
}

// Validate checks field constraints and cross-field rules; any
// violation is a fatal configuration error.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}

	if c.Selection.Policy == "section-only" && c.Selection.SectionFilter == "" {
		return apperrors.NewConfigError("section-only policy requires selection.section_filter", nil)
	}
	if c.Correlation.MinOverlap > c.Correlation.WindowDays {
		return apperrors.NewConfigError(
			fmt.Sprintf("min_overlap %d exceeds window_days %d", c.Correlation.MinOverlap, c.Correlation.WindowDays), nil)
	}
	if c.Inference.AUCThreshold.Mode == "" {
		c.Inference.AUCThreshold = Threshold{Mode: ThresholdMedian}
	}
	return nil
}
